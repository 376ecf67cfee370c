// Package idhash derives deterministic local ids for entities first seen on
// the ledger, so that re-indexing a block yields the same rows.
package idhash

import (
	"fmt"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace for all derived ids.
var Namespace = uuid.MustParse("3f0c2a6e-9a5e-5d3b-8b1c-7d2f4e6a8c10")

// Entity kinds used in the id formula.
const (
	KindDemand     = "demand"
	KindMatch2     = "match2"
	KindComment    = "demand_comment"
	KindAttachment = "attachment"
)

// ComputeEntityID computes the local id of a demand or match2 created by
// another node. Formula: UUIDv5(kind|original_token_id).
func ComputeEntityID(kind string, originalTokenID int64) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("%s|%d", kind, originalTokenID)))
}

// ComputeCommentID computes the id of a demand comment from the token that
// carried it. Formula: UUIDv5(demand_comment|token_id).
func ComputeCommentID(tokenID int64) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("%s|%d", KindComment, tokenID)))
}

// ComputeAttachmentID computes the id of an attachment known only by its
// content hash. Formula: UUIDv5(attachment|ipfs_hash).
func ComputeAttachmentID(ipfsHash string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("%s|%s", KindAttachment, ipfsHash)))
}

package processor

import (
	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/idhash"
)

// demandCreate: ∅ -> [demand].
func demandCreate(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 0, 1); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand); err != nil {
		return changeset.ChangeSet{}, err
	}
	tok := in.Event.Outputs[0]
	state, err := stateOf(in, tok, domain.DemandStateCreated)
	if err != nil {
		return changeset.ChangeSet{}, err
	}

	cs := changeset.New()
	if id, ok := local(in, domain.APITypeOrder, domain.APITypeCapacity); ok {
		cs.AddDemand(demandUpdate(id, tok, &state))
		return cs, nil
	}

	owner, err := role(in, tok, RoleOwner)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	v, _ := tok.Literal(KeySubtype)
	subtype := domain.DemandSubtype(v)
	if !subtype.IsValid() {
		return changeset.ChangeSet{}, mismatch(in, "token %d has subtype %q", tok.ID, v)
	}
	hash, ok := tok.File(KeyParameters)
	if !ok || hash == "" {
		return changeset.ChangeSet{}, mismatch(in, "token %d has no parameters file", tok.ID)
	}

	attachmentID := idhash.ComputeAttachmentID(hash)
	cs.AddAttachment(changeset.AttachmentRecord{
		Op:       changeset.OpInsert,
		ID:       attachmentID,
		IPFSHash: &hash,
	})
	cs.AddDemand(changeset.DemandRecord{
		Op:                     changeset.OpInsert,
		ID:                     idhash.ComputeEntityID(idhash.KindDemand, tok.OriginalID),
		Owner:                  &owner,
		Subtype:                &subtype,
		State:                  &state,
		ParametersAttachmentID: &attachmentID,
		LatestTokenID:          ptr(tok.ID),
		OriginalTokenID:        ptr(tok.OriginalID),
	})
	return cs, nil
}

// demandComment: [d] -> [d']. The comment file rides on the new demand token.
func demandComment(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 1, 1); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand); err != nil {
		return changeset.ChangeSet{}, err
	}
	tok := in.Event.Outputs[0]
	hash, ok := tok.File(KeyComment)
	if !ok || hash == "" {
		return changeset.ChangeSet{}, mismatch(in, "token %d has no comment file", tok.ID)
	}
	if in.Event.Sender == "" {
		return changeset.ChangeSet{}, mismatch(in, "no sender")
	}

	demandID := in.InputIDs[0]
	attachmentID := idhash.ComputeAttachmentID(hash)
	comment := changeset.CommentRecord{
		Op:           changeset.OpInsert,
		ID:           idhash.ComputeCommentID(tok.ID),
		DemandID:     &demandID,
		Owner:        ptr(in.Event.Sender),
		State:        ptr(domain.DemandCommentStateCreated),
		AttachmentID: &attachmentID,
	}
	if tx := in.Transaction; tx != nil && tx.TransactionType == domain.TransactionTypeComment {
		comment.TransactionID = ptr(tx.ID)
	}

	cs := changeset.New()
	cs.AddDemand(demandUpdate(demandID, tok, nil))
	cs.AddAttachment(changeset.AttachmentRecord{
		Op:       changeset.OpInsert,
		ID:       attachmentID,
		IPFSHash: &hash,
	})
	cs.AddComment(comment)
	return cs, nil
}

package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Header identifies a block and links it to its parent.
type Header struct {
	Hash   string // lowercase hex without 0x
	Parent string
	Height uint64
}

// Block is a finalized block reduced to what the indexer consumes.
type Block struct {
	Header
	Extrinsics []ExtrinsicOutcome // in block order
}

// ExtrinsicOutcome is the dispatch result of one extrinsic in a block.
type ExtrinsicOutcome struct {
	Index         int
	Hash          string
	Success       bool
	DispatchError *DispatchError
	Processes     []ProcessRan // ProcessRan events emitted by this extrinsic, in event order
}

// ProcessID names a ledger process and its version.
type ProcessID struct {
	ID      string `json:"id"`
	Version uint32 `json:"version"`
}

func (p ProcessID) String() string {
	return fmt.Sprintf("%s@%d", p.ID, p.Version)
}

// ProcessRan is a decoded process event with its tokens hydrated.
type ProcessRan struct {
	Process ProcessID
	Sender  string
	Inputs  []Token // consumed tokens, in process order
	Outputs []Token // produced tokens, in allocation order
}

// Token is an on-chain token as returned by the node.
type Token struct {
	ID         int64                    `json:"id"`
	OriginalID int64                    `json:"originalId"`
	Roles      map[string]string        `json:"roles"`
	Metadata   map[string]MetadataValue `json:"metadata"`
}

// Literal returns the literal metadata value for key.
func (t Token) Literal(key string) (string, bool) {
	v, ok := t.Metadata[key]
	if !ok || v.Kind != MetadataLiteral {
		return "", false
	}
	return v.Value, true
}

// File returns the content hash stored under key.
func (t Token) File(key string) (string, bool) {
	v, ok := t.Metadata[key]
	if !ok || v.Kind != MetadataFile {
		return "", false
	}
	return v.Value, true
}

// MetadataKind is the type tag of a metadata value.
type MetadataKind string

const (
	MetadataLiteral MetadataKind = "LITERAL"
	MetadataTokenID MetadataKind = "TOKEN_ID"
	MetadataFile    MetadataKind = "FILE"
	MetadataNone    MetadataKind = "NONE"
)

// MetadataValue is a typed metadata entry. For FILE values in an Operation the
// payload is the local attachment id; on tokens read back from the ledger it
// is the content hash.
type MetadataValue struct {
	Kind  MetadataKind `json:"kind"`
	Value string       `json:"value,omitempty"`
}

// TokenID parses a TOKEN_ID value.
func (v MetadataValue) TokenID() (int64, error) {
	if v.Kind != MetadataTokenID {
		return 0, fmt.Errorf("metadata value is %s, not %s", v.Kind, MetadataTokenID)
	}
	return strconv.ParseInt(v.Value, 10, 64)
}

// Literal builds a LITERAL metadata value.
func Literal(s string) MetadataValue {
	return MetadataValue{Kind: MetadataLiteral, Value: s}
}

// TokenRef builds a TOKEN_ID metadata value.
func TokenRef(id int64) MetadataValue {
	return MetadataValue{Kind: MetadataTokenID, Value: strconv.FormatInt(id, 10)}
}

// File builds a FILE metadata value referencing a local attachment.
func File(attachmentID uuid.UUID) MetadataValue {
	return MetadataValue{Kind: MetadataFile, Value: attachmentID.String()}
}

// None builds a NONE metadata value.
func None() MetadataValue {
	return MetadataValue{Kind: MetadataNone}
}

// Output is one token an Operation asks the ledger to produce.
type Output struct {
	Roles    map[string]string // role name -> SS58 address
	Metadata map[string]MetadataValue
}

// Operation is a process run to be signed and submitted.
type Operation struct {
	Process ProcessID
	Inputs  []int64 // token ids consumed
	Outputs []Output
}

// Extrinsic is a signed, encoded operation ready for submission.
type Extrinsic struct {
	Hash      string // blake2b-256 of Encoded, hex without 0x
	Encoded   []byte
	Nonce     uint64
	Operation Operation
}

// FinalityStatus is the progress reported by a finality watch.
type FinalityStatus string

const (
	StatusInBlock   FinalityStatus = "inBlock"
	StatusFinalized FinalityStatus = "finalized"
	StatusDropped   FinalityStatus = "dropped"
	StatusInvalid   FinalityStatus = "invalid"
)

// FinalityResult is delivered to a WatchFinality callback.
type FinalityResult struct {
	Hash      string
	Status    FinalityStatus
	BlockHash string
	Err       error // *DispatchError when dispatch failed, ErrInvalidTransaction when dropped
}

package processor

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
)

func ptr[T any](v T) *T {
	return &v
}

func mismatch(in Input, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrProtocolMismatch, in.Event.Process.ID, fmt.Sprintf(format, args...))
}

// shape checks input and output cardinality.
func shape(in Input, inputs, outputs int) error {
	if len(in.Event.Inputs) != inputs || len(in.Event.Outputs) != outputs {
		return mismatch(in, "want %d inputs and %d outputs, got %d and %d",
			inputs, outputs, len(in.Event.Inputs), len(in.Event.Outputs))
	}
	return nil
}

// typed checks the type literal of every output against want, index for index.
func typed(in Input, want ...string) error {
	for i, tok := range in.Event.Outputs {
		got, _ := tok.Literal(KeyType)
		if got != want[i] {
			return mismatch(in, "output %d has type %q, want %q", i, got, want[i])
		}
	}
	return nil
}

// stateOf returns the state literal of tok if it is one of allowed.
func stateOf[S ~string](in Input, tok ledger.Token, allowed ...S) (S, error) {
	v, ok := tok.Literal(KeyState)
	if !ok {
		return "", mismatch(in, "token %d has no state", tok.ID)
	}
	s := S(v)
	if !slices.Contains(allowed, s) {
		return "", mismatch(in, "token %d has state %q, want one of %v", tok.ID, v, allowed)
	}
	return s, nil
}

func role(in Input, tok ledger.Token, name string) (string, error) {
	addr, ok := tok.Roles[name]
	if !ok || addr == "" {
		return "", mismatch(in, "token %d has no %s role", tok.ID, name)
	}
	return addr, nil
}

// local reports the local entity a transaction of ours targeted, if any.
func local(in Input, api ...domain.APIType) (uuid.UUID, bool) {
	tx := in.Transaction
	if tx == nil || !slices.Contains(api, tx.APIType) {
		return uuid.Nil, false
	}
	return tx.LocalID, true
}

func demandUpdate(id uuid.UUID, tok ledger.Token, state *domain.DemandState) changeset.DemandRecord {
	return changeset.DemandRecord{
		Op:              changeset.OpUpdate,
		ID:              id,
		State:           state,
		LatestTokenID:   ptr(tok.ID),
		OriginalTokenID: ptr(tok.OriginalID),
	}
}

func matchUpdate(id uuid.UUID, tok ledger.Token, state *domain.Match2State) changeset.MatchRecord {
	return changeset.MatchRecord{
		Op:              changeset.OpUpdate,
		ID:              id,
		State:           state,
		LatestTokenID:   ptr(tok.ID),
		OriginalTokenID: ptr(tok.OriginalID),
	}
}

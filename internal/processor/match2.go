package processor

import (
	"github.com/google/uuid"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/idhash"
	"matchmaker-ledger/internal/ledger"
)

// proposed records a newly proposed match2 token. Local proposals only gain
// their token ids; foreign ones are inserted under a derived id.
func proposed(in Input, cs *changeset.ChangeSet, tok ledger.Token, demandA, demandB uuid.UUID, replaces *uuid.UUID) error {
	state, err := stateOf(in, tok, domain.Match2StateProposed)
	if err != nil {
		return err
	}
	if id, ok := local(in, domain.APITypeMatch2); ok {
		cs.AddMatch(matchUpdate(id, tok, &state))
		return nil
	}

	var roles [3]string
	for i, name := range []string{RoleOptimiser, RoleMemberA, RoleMemberB} {
		if roles[i], err = role(in, tok, name); err != nil {
			return err
		}
	}
	cs.AddMatch(changeset.MatchRecord{
		Op:              changeset.OpInsert,
		ID:              idhash.ComputeEntityID(idhash.KindMatch2, tok.OriginalID),
		Optimiser:       &roles[0],
		MemberA:         &roles[1],
		MemberB:         &roles[2],
		DemandA:         &demandA,
		DemandB:         &demandB,
		State:           &state,
		LatestTokenID:   ptr(tok.ID),
		OriginalTokenID: ptr(tok.OriginalID),
		Replaces:        replaces,
	})
	return nil
}

// match2Propose: [dA, dB] -> [dA', dB', m].
func match2Propose(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 2, 3); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand, TypeDemand, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	out, ids := in.Event.Outputs, in.InputIDs

	cs := changeset.New()
	cs.AddDemand(demandUpdate(ids[0], out[0], nil))
	cs.AddDemand(demandUpdate(ids[1], out[1], nil))
	if err := proposed(in, &cs, out[2], ids[0], ids[1], nil); err != nil {
		return changeset.ChangeSet{}, err
	}
	return cs, nil
}

// rematch2Propose: [dA, oldM, newDB] -> [dA', oldM', newDB', rm].
func rematch2Propose(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 3, 4); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand, TypeMatch2, TypeDemand, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	out, ids := in.Event.Outputs, in.InputIDs

	cs := changeset.New()
	cs.AddDemand(demandUpdate(ids[0], out[0], nil))
	cs.AddMatch(matchUpdate(ids[1], out[1], nil))
	cs.AddDemand(demandUpdate(ids[2], out[2], nil))
	replaces := ids[1]
	if err := proposed(in, &cs, out[3], ids[0], ids[2], &replaces); err != nil {
		return changeset.ChangeSet{}, err
	}
	return cs, nil
}

// match2Accept: [m] -> [m'], one member's acceptance.
func match2Accept(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 1, 1); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	tok := in.Event.Outputs[0]
	state, err := stateOf(in, tok, domain.Match2StateAcceptedA, domain.Match2StateAcceptedB)
	if err != nil {
		return changeset.ChangeSet{}, err
	}

	cs := changeset.New()
	cs.AddMatch(matchUpdate(in.InputIDs[0], tok, &state))
	return cs, nil
}

// match2AcceptFinal: [dA, dB, m] -> [dA', dB', m'].
func match2AcceptFinal(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 3, 3); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand, TypeDemand, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	out, ids := in.Event.Outputs, in.InputIDs

	cs := changeset.New()
	for i := 0; i < 2; i++ {
		state, err := stateOf(in, out[i], domain.DemandStateAllocated)
		if err != nil {
			return changeset.ChangeSet{}, err
		}
		cs.AddDemand(demandUpdate(ids[i], out[i], &state))
	}
	state, err := stateOf(in, out[2], domain.Match2StateAcceptedFinal)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	cs.AddMatch(matchUpdate(ids[2], out[2], &state))
	return cs, nil
}

// rematch2AcceptFinal: [dA, oldDB, oldM, newDB, rm] -> 5 outputs. The old
// capacity and match are retired and the new pair allocated.
func rematch2AcceptFinal(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 5, 5); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand, TypeDemand, TypeMatch2, TypeDemand, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	out, ids := in.Event.Outputs, in.InputIDs

	demands := []struct {
		idx  int
		want domain.DemandState
	}{
		{0, domain.DemandStateAllocated},
		{1, domain.DemandStateCancelled},
		{3, domain.DemandStateAllocated},
	}
	matches := []struct {
		idx  int
		want domain.Match2State
	}{
		{2, domain.Match2StateCancelled},
		{4, domain.Match2StateAcceptedFinal},
	}

	cs := changeset.New()
	for _, d := range demands {
		state, err := stateOf(in, out[d.idx], d.want)
		if err != nil {
			return changeset.ChangeSet{}, err
		}
		cs.AddDemand(demandUpdate(ids[d.idx], out[d.idx], &state))
	}
	for _, m := range matches {
		state, err := stateOf(in, out[m.idx], m.want)
		if err != nil {
			return changeset.ChangeSet{}, err
		}
		cs.AddMatch(matchUpdate(ids[m.idx], out[m.idx], &state))
	}
	return cs, nil
}

// match2Reject: [m] -> ∅. The token is burned so latest stays put.
func match2Reject(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 1, 0); err != nil {
		return changeset.ChangeSet{}, err
	}
	cs := changeset.New()
	cs.AddMatch(changeset.MatchRecord{
		Op:    changeset.OpUpdate,
		ID:    in.InputIDs[0],
		State: ptr(domain.Match2StateRejected),
	})
	return cs, nil
}

// match2Cancel: [dA, dB, m] -> [dA', dB', m'], all cancelled. A cancellation
// reason file on m' is not mirrored.
func match2Cancel(in Input) (changeset.ChangeSet, error) {
	if err := shape(in, 3, 3); err != nil {
		return changeset.ChangeSet{}, err
	}
	if err := typed(in, TypeDemand, TypeDemand, TypeMatch2); err != nil {
		return changeset.ChangeSet{}, err
	}
	out, ids := in.Event.Outputs, in.InputIDs

	cs := changeset.New()
	for i := 0; i < 2; i++ {
		state, err := stateOf(in, out[i], domain.DemandStateCancelled)
		if err != nil {
			return changeset.ChangeSet{}, err
		}
		cs.AddDemand(demandUpdate(ids[i], out[i], &state))
	}
	state, err := stateOf(in, out[2], domain.Match2StateCancelled)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	cs.AddMatch(matchUpdate(ids[2], out[2], &state))
	return cs, nil
}

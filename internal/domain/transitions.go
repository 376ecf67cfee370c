package domain

import "fmt"

// CanCreateOnChain checks that a demand is still in its pre-chain state.
func CanCreateOnChain(d *Demand) error {
	if d.State != DemandStatePending {
		return fmt.Errorf("%w: demand must have state %s, has %s", ErrConflict, DemandStatePending, d.State)
	}
	if d.OnChain() {
		return fmt.Errorf("%w: demand is already on chain", ErrConflict)
	}
	return nil
}

// CheckMatchable validates a demand for use on the given side of a match.
// allowAllocated permits an allocated demand A being carried into a rematch.
func CheckMatchable(d *Demand, want DemandSubtype, allowAllocated bool) error {
	if d.Subtype != want {
		return fmt.Errorf("%w: demand %s must have subtype %s", ErrValidation, d.ID, want)
	}
	switch d.State {
	case DemandStatePending, DemandStateCreated:
		return nil
	case DemandStateAllocated:
		if allowAllocated {
			return nil
		}
		return fmt.Errorf("%w: demand %s is already allocated", ErrConflict, d.ID)
	default:
		return fmt.Errorf("%w: demand %s has state %s", ErrConflict, d.ID, d.State)
	}
}

// CheckOnChain requires that a demand referenced by an on-chain operation has a token.
func CheckOnChain(d *Demand) error {
	if !d.OnChain() {
		return fmt.Errorf("%w: demand %s must be on chain", ErrConflict, d.ID)
	}
	return nil
}

// CanPropose checks that a match2 has not yet been proposed on chain.
func CanPropose(m *Match2) error {
	if m.State != Match2StatePending || m.OnChain() {
		return fmt.Errorf("%w: match2 must have state %s, has %s", ErrConflict, Match2StatePending, m.State)
	}
	return nil
}

// AcceptStep describes what an accept request by a member resolves to.
type AcceptStep struct {
	Next  Match2State // state the match2 reaches once the accept is applied
	Final bool        // true when this accept completes the match
}

// NextAccept resolves an accept by caller against the current match2 state.
// The caller must own exactly the side whose acceptance is outstanding.
func NextAccept(m *Match2, ownsA, ownsB bool) (AcceptStep, error) {
	switch m.State {
	case Match2StatePending:
		return AcceptStep{}, fmt.Errorf("%w: match2 must be proposed on chain before it can be accepted", ErrConflict)
	case Match2StateAcceptedFinal:
		return AcceptStep{}, fmt.Errorf("%w: match2 has already been acceptedFinal", ErrConflict)
	case Match2StateProposed:
		if ownsA {
			return AcceptStep{Next: Match2StateAcceptedA}, nil
		}
		if ownsB {
			return AcceptStep{Next: Match2StateAcceptedB}, nil
		}
	case Match2StateAcceptedA:
		if ownsB {
			return AcceptStep{Next: Match2StateAcceptedFinal, Final: true}, nil
		}
	case Match2StateAcceptedB:
		if ownsA {
			return AcceptStep{Next: Match2StateAcceptedFinal, Final: true}, nil
		}
	default:
		return AcceptStep{}, fmt.Errorf("%w: match2 with state %s cannot be accepted", ErrConflict, m.State)
	}
	return AcceptStep{}, fmt.Errorf("%w: you do not own an acceptable demand", ErrConflict)
}

// CanReject checks that a match2 is in a rejectable state and that the caller takes part in it.
func CanReject(m *Match2, caller string) error {
	switch m.State {
	case Match2StateProposed, Match2StateAcceptedA, Match2StateAcceptedB:
	default:
		return fmt.Errorf("%w: match2 with state %s cannot be rejected", ErrConflict, m.State)
	}
	if !m.IsParty(caller) {
		return fmt.Errorf("%w: you are not a party to this match2", ErrConflict)
	}
	return nil
}

// CanCancel checks that a match2 is acceptedFinal and that the caller is one of its members.
func CanCancel(m *Match2, caller string) error {
	if m.State != Match2StateAcceptedFinal {
		return fmt.Errorf("%w: match2 must have state %s, has %s", ErrConflict, Match2StateAcceptedFinal, m.State)
	}
	if caller != m.MemberA && caller != m.MemberB {
		return fmt.Errorf("%w: only a member of the match2 can cancel it", ErrConflict)
	}
	return nil
}

// CanComment checks that a demand can be commented on by caller.
func CanComment(d *Demand, caller string) error {
	if !d.OnChain() {
		return fmt.Errorf("%w: demand must be on chain", ErrConflict)
	}
	if d.State != DemandStateCreated && d.State != DemandStateAllocated {
		return fmt.Errorf("%w: demand with state %s cannot be commented on", ErrConflict, d.State)
	}
	if d.Owner != caller {
		return fmt.Errorf("%w: only the owner can comment on a demand", ErrConflict)
	}
	return nil
}

// CanReplace validates the match2 being replaced by a rematch.
func CanReplace(old *Match2, demandA *Demand) error {
	if old.State != Match2StateAcceptedFinal {
		return fmt.Errorf("%w: replaced match2 must have state %s, has %s", ErrConflict, Match2StateAcceptedFinal, old.State)
	}
	if old.DemandA != demandA.ID {
		return fmt.Errorf("%w: rematch must keep demandA of the replaced match2", ErrValidation)
	}
	return nil
}

package processor

import (
	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
)

// The builders below produce operations in the token order the processors
// expect. Entities passed in must already be validated; token ids are read
// from LatestTokenID and OriginalTokenID.

func tokenOf(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func demandOutput(d *domain.Demand, state domain.DemandState) ledger.Output {
	return ledger.Output{
		Roles: map[string]string{RoleOwner: d.Owner},
		Metadata: map[string]ledger.MetadataValue{
			KeyVersion:    ledger.Literal(SchemaVersion),
			KeyType:       ledger.Literal(TypeDemand),
			KeyState:      ledger.Literal(string(state)),
			KeySubtype:    ledger.Literal(string(d.Subtype)),
			KeyParameters: ledger.File(d.ParametersAttachmentID),
		},
	}
}

func matchOutput(m *domain.Match2, a, b *domain.Demand, replaces *domain.Match2, state domain.Match2State) ledger.Output {
	out := ledger.Output{
		Roles: map[string]string{
			RoleOptimiser: m.Optimiser,
			RoleMemberA:   m.MemberA,
			RoleMemberB:   m.MemberB,
		},
		Metadata: map[string]ledger.MetadataValue{
			KeyVersion: ledger.Literal(SchemaVersion),
			KeyType:    ledger.Literal(TypeMatch2),
			KeyState:   ledger.Literal(string(state)),
			KeyDemandA: ledger.TokenRef(tokenOf(a.OriginalTokenID)),
			KeyDemandB: ledger.TokenRef(tokenOf(b.OriginalTokenID)),
		},
	}
	if replaces != nil {
		out.Metadata[KeyReplaces] = ledger.TokenRef(tokenOf(replaces.OriginalTokenID))
	}
	return out
}

// DemandCreate mints the first token of d.
func DemandCreate(d *domain.Demand) ledger.Operation {
	return ledger.Operation{
		Process: KindDemandCreate.Process(),
		Outputs: []ledger.Output{demandOutput(d, domain.DemandStateCreated)},
	}
}

// DemandComment re-mints d carrying a comment file.
func DemandComment(d *domain.Demand, attachmentID uuid.UUID) ledger.Operation {
	out := demandOutput(d, d.State)
	out.Metadata[KeyComment] = ledger.File(attachmentID)
	return ledger.Operation{
		Process: KindDemandComment.Process(),
		Inputs:  []int64{tokenOf(d.LatestTokenID)},
		Outputs: []ledger.Output{out},
	}
}

// Match2Propose proposes m over demands a and b.
func Match2Propose(m *domain.Match2, a, b *domain.Demand) ledger.Operation {
	return ledger.Operation{
		Process: KindMatch2Propose.Process(),
		Inputs:  []int64{tokenOf(a.LatestTokenID), tokenOf(b.LatestTokenID)},
		Outputs: []ledger.Output{
			demandOutput(a, a.State),
			demandOutput(b, b.State),
			matchOutput(m, a, b, nil, domain.Match2StateProposed),
		},
	}
}

// Rematch2Propose proposes rm, pairing a with newB in place of old, which
// paired a with oldB.
func Rematch2Propose(rm, old *domain.Match2, a, oldB, newB *domain.Demand) ledger.Operation {
	return ledger.Operation{
		Process: KindRematch2Propose.Process(),
		Inputs:  []int64{tokenOf(a.LatestTokenID), tokenOf(old.LatestTokenID), tokenOf(newB.LatestTokenID)},
		Outputs: []ledger.Output{
			demandOutput(a, a.State),
			matchOutput(old, a, oldB, nil, old.State),
			demandOutput(newB, newB.State),
			matchOutput(rm, a, newB, old, domain.Match2StateProposed),
		},
	}
}

// Match2Accept records one member's acceptance, moving m to next.
func Match2Accept(m *domain.Match2, a, b *domain.Demand, next domain.Match2State) ledger.Operation {
	return ledger.Operation{
		Process: KindMatch2Accept.Process(),
		Inputs:  []int64{tokenOf(m.LatestTokenID)},
		Outputs: []ledger.Output{matchOutput(m, a, b, nil, next)},
	}
}

// Match2AcceptFinal completes m and allocates both demands.
func Match2AcceptFinal(m *domain.Match2, a, b *domain.Demand) ledger.Operation {
	return ledger.Operation{
		Process: KindMatch2AcceptFinal.Process(),
		Inputs:  []int64{tokenOf(a.LatestTokenID), tokenOf(b.LatestTokenID), tokenOf(m.LatestTokenID)},
		Outputs: []ledger.Output{
			demandOutput(a, domain.DemandStateAllocated),
			demandOutput(b, domain.DemandStateAllocated),
			matchOutput(m, a, b, nil, domain.Match2StateAcceptedFinal),
		},
	}
}

// Rematch2AcceptFinal completes rm, retiring old and oldB.
func Rematch2AcceptFinal(rm, old *domain.Match2, a, oldB, newB *domain.Demand) ledger.Operation {
	return ledger.Operation{
		Process: KindRematch2AcceptFinal.Process(),
		Inputs: []int64{
			tokenOf(a.LatestTokenID),
			tokenOf(oldB.LatestTokenID),
			tokenOf(old.LatestTokenID),
			tokenOf(newB.LatestTokenID),
			tokenOf(rm.LatestTokenID),
		},
		Outputs: []ledger.Output{
			demandOutput(a, domain.DemandStateAllocated),
			demandOutput(oldB, domain.DemandStateCancelled),
			matchOutput(old, a, oldB, nil, domain.Match2StateCancelled),
			demandOutput(newB, domain.DemandStateAllocated),
			matchOutput(rm, a, newB, old, domain.Match2StateAcceptedFinal),
		},
	}
}

// Match2Reject burns m.
func Match2Reject(m *domain.Match2) ledger.Operation {
	return ledger.Operation{
		Process: KindMatch2Reject.Process(),
		Inputs:  []int64{tokenOf(m.LatestTokenID)},
	}
}

// Match2Cancel cancels an accepted m together with its demands. reason, when
// set, is attached to the cancelled match token.
func Match2Cancel(m *domain.Match2, a, b *domain.Demand, reason *uuid.UUID) ledger.Operation {
	mOut := matchOutput(m, a, b, nil, domain.Match2StateCancelled)
	if reason != nil {
		mOut.Metadata[KeyComment] = ledger.File(*reason)
	}
	return ledger.Operation{
		Process: KindMatch2Cancel.Process(),
		Inputs:  []int64{tokenOf(a.LatestTokenID), tokenOf(b.LatestTokenID), tokenOf(m.LatestTokenID)},
		Outputs: []ledger.Output{
			demandOutput(a, domain.DemandStateCancelled),
			demandOutput(b, domain.DemandStateCancelled),
			mOut,
		},
	}
}

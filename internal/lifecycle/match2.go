package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/processor"
)

// CreateMatch2 records a pending match2 proposed by the caller. When
// replaces is set the new match2 is a rematch of that acceptedFinal match2.
func (s *Service) CreateMatch2(ctx context.Context, auth string, demandA, demandB uuid.UUID, replaces *uuid.UUID) (*domain.Match2, error) {
	optimiser, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}
	a, err := s.demand(ctx, demandA)
	if err != nil {
		return nil, err
	}
	b, err := s.demand(ctx, demandB)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckMatchable(a, domain.DemandSubtypeOrder, replaces != nil); err != nil {
		return nil, err
	}
	if err := domain.CheckMatchable(b, domain.DemandSubtypeCapacity, false); err != nil {
		return nil, err
	}
	if replaces != nil {
		old, err := s.match2(ctx, *replaces)
		if err != nil {
			return nil, err
		}
		if err := domain.CanReplace(old, a); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	m := &domain.Match2{
		ID:        uuid.New(),
		Optimiser: optimiser,
		MemberA:   a.Owner,
		MemberB:   b.Owner,
		DemandA:   a.ID,
		DemandB:   b.ID,
		State:     domain.Match2StatePending,
		Replaces:  replaces,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.match2s.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert match2: %w", err)
	}
	return m, nil
}

// ProposeMatch2OnChain submits the proposal of a pending match2, as a
// rematch when it replaces another.
func (s *Service) ProposeMatch2OnChain(ctx context.Context, match2ID uuid.UUID) (*domain.Transaction, error) {
	m, err := s.match2(ctx, match2ID)
	if err != nil {
		return nil, err
	}
	if err := domain.CanPropose(m); err != nil {
		return nil, err
	}
	a, b, err := s.match2Demands(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckMatchable(a, domain.DemandSubtypeOrder, m.IsRematch()); err != nil {
		return nil, err
	}
	if err := domain.CheckMatchable(b, domain.DemandSubtypeCapacity, false); err != nil {
		return nil, err
	}
	for _, d := range []*domain.Demand{a, b} {
		if err := domain.CheckOnChain(d); err != nil {
			return nil, err
		}
	}

	op := processor.Match2Propose(m, a, b)
	if m.IsRematch() {
		old, oldB, err := s.replaced(ctx, m, a)
		if err != nil {
			return nil, err
		}
		op = processor.Rematch2Propose(m, old, a, oldB, b)
	}
	return s.submit(ctx, op, m.ID, domain.APITypeMatch2, domain.TransactionTypeProposal)
}

// AcceptMatch2OnChain submits the caller's acceptance. The second acceptance
// completes the match and allocates its demands.
func (s *Service) AcceptMatch2OnChain(ctx context.Context, auth string, match2ID uuid.UUID) (*domain.Transaction, error) {
	m, err := s.match2(ctx, match2ID)
	if err != nil {
		return nil, err
	}
	caller, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}
	a, b, err := s.match2Demands(ctx, m)
	if err != nil {
		return nil, err
	}
	step, err := domain.NextAccept(m, a.Owner == caller, b.Owner == caller)
	if err != nil {
		return nil, err
	}

	var op ledger.Operation
	switch {
	case !step.Final:
		op = processor.Match2Accept(m, a, b, step.Next)
	case m.IsRematch():
		old, oldB, err := s.replaced(ctx, m, a)
		if err != nil {
			return nil, err
		}
		if err := domain.CheckMatchable(b, domain.DemandSubtypeCapacity, false); err != nil {
			return nil, err
		}
		op = processor.Rematch2AcceptFinal(m, old, a, oldB, b)
	default:
		for _, d := range []*domain.Demand{a, b} {
			if err := domain.CheckMatchable(d, d.Subtype, false); err != nil {
				return nil, err
			}
		}
		op = processor.Match2AcceptFinal(m, a, b)
	}
	return s.submit(ctx, op, m.ID, domain.APITypeMatch2, domain.TransactionTypeAccept)
}

// RejectMatch2OnChain submits the rejection of an open proposal by one of its parties.
func (s *Service) RejectMatch2OnChain(ctx context.Context, auth string, match2ID uuid.UUID) (*domain.Transaction, error) {
	m, err := s.match2(ctx, match2ID)
	if err != nil {
		return nil, err
	}
	caller, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := domain.CanReject(m, caller); err != nil {
		return nil, err
	}
	return s.submit(ctx, processor.Match2Reject(m), m.ID, domain.APITypeMatch2, domain.TransactionTypeRejection)
}

// CancelMatch2OnChain cancels an acceptedFinal match2 together with its
// demands. A non-nil attachmentID is recorded as the reason.
func (s *Service) CancelMatch2OnChain(ctx context.Context, auth string, match2ID, attachmentID uuid.UUID) (*domain.Transaction, error) {
	m, err := s.match2(ctx, match2ID)
	if err != nil {
		return nil, err
	}
	caller, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := domain.CanCancel(m, caller); err != nil {
		return nil, err
	}
	a, b, err := s.match2Demands(ctx, m)
	if err != nil {
		return nil, err
	}

	var reason *uuid.UUID
	if attachmentID != uuid.Nil {
		if err := s.attachments.Exists(ctx, attachmentID); err != nil {
			return nil, fmt.Errorf("cancellation reason: %w", err)
		}
		reason = &attachmentID
	}
	return s.submit(ctx, processor.Match2Cancel(m, a, b, reason), m.ID, domain.APITypeMatch2, domain.TransactionTypeCancellation)
}

// replaced loads the match2 a rematch supersedes and its capacity demand.
func (s *Service) replaced(ctx context.Context, m *domain.Match2, a *domain.Demand) (*domain.Match2, *domain.Demand, error) {
	old, err := s.match2(ctx, *m.Replaces)
	if err != nil {
		return nil, nil, err
	}
	if err := domain.CanReplace(old, a); err != nil {
		return nil, nil, err
	}
	oldB, err := s.demand(ctx, old.DemandB)
	if err != nil {
		return nil, nil, err
	}
	return old, oldB, nil
}

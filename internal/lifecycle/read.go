package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DemandView is a demand with its owner's alias.
type DemandView struct {
	*domain.Demand
	OwnerAlias string
}

// Match2View is a match2 with the aliases of its parties.
type Match2View struct {
	*domain.Match2
	OptimiserAlias string
	MemberAAlias   string
	MemberBAlias   string
}

// GetDemand returns one demand.
func (s *Service) GetDemand(ctx context.Context, auth string, id uuid.UUID) (*DemandView, error) {
	d, err := s.demand(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.demandView(ctx, auth, d)
}

// ListDemands returns demands matching f.
func (s *Service) ListDemands(ctx context.Context, auth string, f storage.DemandFilter) ([]*DemandView, error) {
	ds, err := s.demands.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list demands: %w", err)
	}
	out := make([]*DemandView, 0, len(ds))
	for _, d := range ds {
		v, err := s.demandView(ctx, auth, d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetMatch2 returns one match2.
func (s *Service) GetMatch2(ctx context.Context, auth string, id uuid.UUID) (*Match2View, error) {
	m, err := s.match2(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.match2View(ctx, auth, m)
}

// ListMatch2s returns match2s matching f.
func (s *Service) ListMatch2s(ctx context.Context, auth string, f storage.Match2Filter) ([]*Match2View, error) {
	ms, err := s.match2s.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list match2s: %w", err)
	}
	out := make([]*Match2View, 0, len(ms))
	for _, m := range ms {
		v, err := s.match2View(ctx, auth, m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetTransaction returns one transaction.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListTransactions returns transactions matching f.
func (s *Service) ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]*domain.Transaction, error) {
	txs, err := s.transactions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// ListDemandComments returns the comments on a demand.
func (s *Service) ListDemandComments(ctx context.Context, demandID uuid.UUID) ([]*domain.DemandComment, error) {
	if _, err := s.demand(ctx, demandID); err != nil {
		return nil, err
	}
	cs, err := s.comments.ListByDemand(ctx, demandID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return cs, nil
}

func (s *Service) demandView(ctx context.Context, auth string, d *domain.Demand) (*DemandView, error) {
	alias, err := s.identity.Alias(ctx, d.Owner, auth)
	if err != nil {
		return nil, fmt.Errorf("alias %s: %w", d.Owner, err)
	}
	return &DemandView{Demand: d, OwnerAlias: alias}, nil
}

func (s *Service) match2View(ctx context.Context, auth string, m *domain.Match2) (*Match2View, error) {
	v := &Match2View{Match2: m}
	for _, p := range []struct {
		address string
		alias   *string
	}{
		{m.Optimiser, &v.OptimiserAlias},
		{m.MemberA, &v.MemberAAlias},
		{m.MemberB, &v.MemberBAlias},
	} {
		alias, err := s.identity.Alias(ctx, p.address, auth)
		if err != nil {
			return nil, fmt.Errorf("alias %s: %w", p.address, err)
		}
		*p.alias = alias
	}
	return v, nil
}

package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/processor"
)

// CreateDemand records a pending demand owned by the caller. It is not
// visible on the ledger until CreateDemandOnChain.
func (s *Service) CreateDemand(ctx context.Context, auth string, subtype domain.DemandSubtype, parametersID uuid.UUID) (*domain.Demand, error) {
	if !subtype.IsValid() {
		return nil, fmt.Errorf("%w: unknown demand subtype %q", domain.ErrValidation, subtype)
	}
	if err := s.attachments.Exists(ctx, parametersID); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	owner, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := &domain.Demand{
		ID:                     uuid.New(),
		Owner:                  owner,
		Subtype:                subtype,
		State:                  domain.DemandStatePending,
		ParametersAttachmentID: parametersID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.demands.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("insert demand: %w", err)
	}
	return d, nil
}

// CreateDemandOnChain submits the creation of a pending demand.
func (s *Service) CreateDemandOnChain(ctx context.Context, demandID uuid.UUID) (*domain.Transaction, error) {
	d, err := s.demand(ctx, demandID)
	if err != nil {
		return nil, err
	}
	if err := domain.CanCreateOnChain(d); err != nil {
		return nil, err
	}
	return s.submit(ctx, processor.DemandCreate(d), d.ID, d.APIType(), domain.TransactionTypeCreation)
}

// CommentOnDemand attaches a comment file to a demand the caller owns.
func (s *Service) CommentOnDemand(ctx context.Context, auth string, demandID, attachmentID uuid.UUID) (*domain.Transaction, error) {
	d, err := s.demand(ctx, demandID)
	if err != nil {
		return nil, err
	}
	caller, err := s.self(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := domain.CanComment(d, caller); err != nil {
		return nil, err
	}
	if err := s.attachments.Exists(ctx, attachmentID); err != nil {
		return nil, fmt.Errorf("comment: %w", err)
	}
	return s.submit(ctx, processor.DemandComment(d, attachmentID), d.ID, d.APIType(), domain.TransactionTypeComment)
}

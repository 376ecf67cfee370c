package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/storage"
)

// applyLockKey is the advisory lock held for the duration of every Apply.
const applyLockKey int64 = 0x6d617463686d6b72

// Applier implements storage.Applier and storage.LocalIDLookup.
type Applier struct {
	pool *Pool
}

// NewApplier creates a new Applier.
func NewApplier(pool *Pool) *Applier {
	return &Applier{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.Applier       = (*Applier)(nil)
	_ storage.LocalIDLookup = (*Applier)(nil)
)

// Apply writes app in one transaction under a transaction-scoped advisory
// lock. Updates only touch columns that change, so re-applying the same
// records leaves rows byte-identical.
func (a *Applier) Apply(ctx context.Context, app storage.Application) error {
	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, applyLockKey); err != nil {
			return fmt.Errorf("acquire apply lock: %w", err)
		}

		latest, err := latestCheckpoint(ctx, tx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		applied, err := storage.CheckLinkage(latest, app.Blocks, func(h uint64) (string, bool, error) {
			var hash string
			err := tx.QueryRow(ctx, `SELECT hash FROM processed_blocks WHERE height = $1`, int64(h)).Scan(&hash)
			if isNotFoundError(err) {
				return "", false, nil
			}
			if err != nil {
				return "", false, fmt.Errorf("get processed block hash: %w", err)
			}
			return hash, true, nil
		})
		if err != nil || applied {
			return err
		}

		for _, r := range app.Changes.Attachments {
			if err := applyAttachment(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range app.Changes.Demands {
			if err := applyDemand(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range app.Changes.Matches {
			if err := applyMatch(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range app.Changes.Comments {
			if err := applyComment(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, o := range app.Outcomes {
			if _, err := setTransactionState(ctx, tx, o.Hash, o.State); err != nil {
				return err
			}
		}
		for _, b := range app.Blocks {
			_, err := tx.Exec(ctx, `
				INSERT INTO processed_blocks (hash, parent, height)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, b.Hash, b.Parent, int64(b.Height))
			if err != nil {
				return fmt.Errorf("insert processed block %d: %w", b.Height, err)
			}
		}
		return nil
	})
}

func strPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

// insertNew runs an insert that ignores an existing row and reports whether
// it created one.
func insertNew(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func rowExists(ctx context.Context, q querier, table string, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", table, err)
	}
	return exists, nil
}

// requireRow rejects an incomplete insert for a row that is not stored yet.
func requireRow(ctx context.Context, q querier, table string, id uuid.UUID) error {
	exists, err := rowExists(ctx, q, table, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s incomplete", storage.ErrInvalidInput, table, id)
	}
	return nil
}

func applyAttachment(ctx context.Context, q querier, r changeset.AttachmentRecord) error {
	if !r.Complete() {
		return requireRow(ctx, q, "attachment", r.ID)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO attachment (id, filename, ipfs_hash, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Filename, *r.IPFSHash, r.Size)
	if err != nil {
		return fmt.Errorf("insert attachment %s: %w", r.ID, err)
	}
	return nil
}

func applyDemand(ctx context.Context, q querier, r changeset.DemandRecord) error {
	if r.Op == changeset.OpInsert {
		if !r.Complete() {
			if err := requireRow(ctx, q, "demand", r.ID); err != nil {
				return err
			}
		} else {
			inserted, err := insertNew(ctx, q, `
				INSERT INTO demand (
					id, owner, subtype, state, parameters_attachment_id,
					latest_token_id, original_token_id
				) VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO NOTHING
			`, r.ID, *r.Owner, string(*r.Subtype), string(*r.State), *r.ParametersAttachmentID,
				r.LatestTokenID, r.OriginalTokenID)
			if err != nil {
				return fmt.Errorf("insert demand %s: %w", r.ID, err)
			}
			if inserted {
				return nil
			}
		}
	}

	_, err := q.Exec(ctx, `
		UPDATE demand SET
			owner = COALESCE($2, owner),
			subtype = COALESCE($3, subtype),
			state = COALESCE($4, state),
			parameters_attachment_id = COALESCE($5, parameters_attachment_id),
			latest_token_id = COALESCE($6, latest_token_id),
			original_token_id = COALESCE(original_token_id, $7),
			updated_at = now()
		WHERE id = $1 AND (
			owner IS DISTINCT FROM COALESCE($2, owner) OR
			subtype IS DISTINCT FROM COALESCE($3, subtype) OR
			state IS DISTINCT FROM COALESCE($4, state) OR
			parameters_attachment_id IS DISTINCT FROM COALESCE($5, parameters_attachment_id) OR
			latest_token_id IS DISTINCT FROM COALESCE($6, latest_token_id) OR
			original_token_id IS DISTINCT FROM COALESCE(original_token_id, $7)
		)
	`, r.ID, r.Owner, strPtr(r.Subtype), strPtr(r.State), r.ParametersAttachmentID,
		r.LatestTokenID, r.OriginalTokenID)
	if err != nil {
		return fmt.Errorf("update demand %s: %w", r.ID, err)
	}
	return nil
}

func applyMatch(ctx context.Context, q querier, r changeset.MatchRecord) error {
	if r.Op == changeset.OpInsert {
		if !r.Complete() {
			if err := requireRow(ctx, q, "match2", r.ID); err != nil {
				return err
			}
		} else {
			inserted, err := insertNew(ctx, q, `
				INSERT INTO match2 (
					id, optimiser, member_a, member_b, demand_a, demand_b, state,
					latest_token_id, original_token_id, replaces
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO NOTHING
			`, r.ID, *r.Optimiser, *r.MemberA, *r.MemberB, *r.DemandA, *r.DemandB, string(*r.State),
				r.LatestTokenID, r.OriginalTokenID, r.Replaces)
			if err != nil {
				return fmt.Errorf("insert match2 %s: %w", r.ID, err)
			}
			if inserted {
				return nil
			}
		}
	}

	_, err := q.Exec(ctx, `
		UPDATE match2 SET
			optimiser = COALESCE($2, optimiser),
			member_a = COALESCE($3, member_a),
			member_b = COALESCE($4, member_b),
			demand_a = COALESCE($5, demand_a),
			demand_b = COALESCE($6, demand_b),
			state = COALESCE($7, state),
			latest_token_id = COALESCE($8, latest_token_id),
			original_token_id = COALESCE(original_token_id, $9),
			replaces = COALESCE($10, replaces),
			updated_at = now()
		WHERE id = $1 AND (
			optimiser IS DISTINCT FROM COALESCE($2, optimiser) OR
			member_a IS DISTINCT FROM COALESCE($3, member_a) OR
			member_b IS DISTINCT FROM COALESCE($4, member_b) OR
			demand_a IS DISTINCT FROM COALESCE($5, demand_a) OR
			demand_b IS DISTINCT FROM COALESCE($6, demand_b) OR
			state IS DISTINCT FROM COALESCE($7, state) OR
			latest_token_id IS DISTINCT FROM COALESCE($8, latest_token_id) OR
			original_token_id IS DISTINCT FROM COALESCE(original_token_id, $9) OR
			replaces IS DISTINCT FROM COALESCE($10, replaces)
		)
	`, r.ID, r.Optimiser, r.MemberA, r.MemberB, r.DemandA, r.DemandB, strPtr(r.State),
		r.LatestTokenID, r.OriginalTokenID, r.Replaces)
	if err != nil {
		return fmt.Errorf("update match2 %s: %w", r.ID, err)
	}
	return nil
}

func applyComment(ctx context.Context, q querier, r changeset.CommentRecord) error {
	if r.Op == changeset.OpInsert {
		if !r.Complete() {
			if err := requireRow(ctx, q, "demand_comment", r.ID); err != nil {
				return err
			}
		} else {
			inserted, err := insertNew(ctx, q, `
				INSERT INTO demand_comment (id, demand_id, owner, state, attachment_id, transaction_id)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO NOTHING
			`, r.ID, *r.DemandID, *r.Owner, string(*r.State), *r.AttachmentID, r.TransactionID)
			if err != nil {
				return fmt.Errorf("insert demand comment %s: %w", r.ID, err)
			}
			if inserted {
				return nil
			}
		}
	}

	_, err := q.Exec(ctx, `
		UPDATE demand_comment SET
			demand_id = COALESCE($2, demand_id),
			owner = COALESCE($3, owner),
			state = COALESCE($4, state),
			attachment_id = COALESCE($5, attachment_id),
			transaction_id = COALESCE($6, transaction_id),
			updated_at = now()
		WHERE id = $1 AND (
			demand_id IS DISTINCT FROM COALESCE($2, demand_id) OR
			owner IS DISTINCT FROM COALESCE($3, owner) OR
			state IS DISTINCT FROM COALESCE($4, state) OR
			attachment_id IS DISTINCT FROM COALESCE($5, attachment_id) OR
			transaction_id IS DISTINCT FROM COALESCE($6, transaction_id)
		)
	`, r.ID, r.DemandID, r.Owner, strPtr(r.State), r.AttachmentID, r.TransactionID)
	if err != nil {
		return fmt.Errorf("update demand comment %s: %w", r.ID, err)
	}
	return nil
}

// FindByLatestTokenID implements storage.LocalIDLookup. Demands win over
// match2s when both somehow hold the token.
func (a *Applier) FindByLatestTokenID(ctx context.Context, tokenID int64) (uuid.UUID, storage.EntityKind, bool, error) {
	query := `
		SELECT id, kind FROM (
			SELECT id, 'demand' AS kind, 0 AS rank FROM demand WHERE latest_token_id = $1
			UNION ALL
			SELECT id, 'match2' AS kind, 1 AS rank FROM match2 WHERE latest_token_id = $1
		) t
		ORDER BY rank
		LIMIT 1
	`

	var id uuid.UUID
	var kind string
	err := a.pool.QueryRow(ctx, query, tokenID).Scan(&id, &kind)
	if err != nil {
		if isNotFoundError(err) {
			return uuid.Nil, "", false, nil
		}
		return uuid.Nil, "", false, fmt.Errorf("find by latest token id: %w", err)
	}
	return id, storage.EntityKind(kind), true, nil
}

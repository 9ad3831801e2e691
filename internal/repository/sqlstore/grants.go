package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

const grantColumns = `id, subject_id, subject_type, requesting_user_id, granted_by_user_id, granted_at,
	expires_at, status, reviewed_by, reviewed_at`

type grantRepository struct {
	*Store
}

func (r *grantRepository) Get(ctx context.Context, id uuid.UUID) (*model.AccessGrant, error) {
	var g model.AccessGrant
	err := r.db.GetContext(ctx, &g, r.q(`SELECT `+grantColumns+` FROM access_grants WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get access grant", zap.Error(err), zap.String("grant_id", id.String()))
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}
	return &g, nil
}

func (r *grantRepository) CreateIfNoActive(ctx context.Context, grant *model.AccessGrant, now time.Time) (*model.AccessGrant, bool, error) {
	var (
		existing *model.AccessGrant
		created  bool
	)
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		found, err := r.activeFor(ctx, tx, grant.SubjectID, grant.RequestingUserID, now)
		if err != nil {
			return err
		}
		if found != nil {
			existing = found
			return nil
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO access_grants (`+grantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			grant.ID, grant.SubjectID, grant.SubjectType, grant.RequestingUserID, grant.GrantedByUserID,
			grant.GrantedAt, grant.ExpiresAt, grant.Status, grant.ReviewedBy, grant.ReviewedAt)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// a concurrent request for the same pair won the insert
		found, lookupErr := r.activeFor(ctx, r.db, grant.SubjectID, grant.RequestingUserID, now)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if found != nil {
			return found, false, nil
		}
	}
	if err != nil {
		r.logger.Error("Failed to create access grant", zap.Error(err),
			zap.String("subject_id", grant.SubjectID.String()),
			zap.String("requesting_user_id", grant.RequestingUserID.String()))
		return nil, false, fmt.Errorf("failed to create access grant: %w", err)
	}
	if created {
		return grant, true, nil
	}
	return existing, false, nil
}

// activeFor returns the earliest grant for the pair that is active at now.
func (r *grantRepository) activeFor(ctx context.Context, q sqlx.QueryerContext, subjectID, userID uuid.UUID, now time.Time) (*model.AccessGrant, error) {
	var grants []*model.AccessGrant
	query := r.q(`SELECT ` + grantColumns + ` FROM access_grants
		WHERE subject_id = ? AND requesting_user_id = ? AND status IN (?, ?)
		ORDER BY granted_at ASC`)
	err := sqlx.SelectContext(ctx, q, &grants, query, subjectID, userID,
		model.GrantStatusPending, model.GrantStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active grants: %w", err)
	}
	for _, g := range grants {
		if g.IsActive(now) {
			return g, nil
		}
	}
	return nil, nil
}

func (r *grantRepository) Transition(ctx context.Context, id uuid.UUID, from model.GrantStatus, change repository.GrantChange) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if change.ExpiresAt != nil {
		res, err = r.db.ExecContext(ctx, r.q(`
			UPDATE access_grants SET status = ?, reviewed_by = ?, reviewed_at = ?, expires_at = ?
			WHERE id = ? AND status = ?`),
			change.To, change.ReviewedBy, change.At, *change.ExpiresAt, id, from)
	} else {
		res, err = r.db.ExecContext(ctx, r.q(`
			UPDATE access_grants SET status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE id = ? AND status = ?`),
			change.To, change.ReviewedBy, change.At, id, from)
	}
	if err != nil {
		r.logger.Error("Failed to transition access grant", zap.Error(err),
			zap.String("grant_id", id.String()), zap.String("to", string(change.To)))
		return false, fmt.Errorf("failed to update access grant: %w", err)
	}
	return affected(res)
}

func (r *grantRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*model.AccessGrant, error) {
	return r.list(ctx, `subject_id = ?`, subjectID)
}

func (r *grantRepository) ListByRequester(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error) {
	return r.list(ctx, `requesting_user_id = ?`, userID)
}

func (r *grantRepository) list(ctx context.Context, where string, arg interface{}) ([]*model.AccessGrant, error) {
	var grants []*model.AccessGrant
	query := r.q(`SELECT ` + grantColumns + ` FROM access_grants WHERE ` + where + ` ORDER BY granted_at ASC`)
	if err := r.db.SelectContext(ctx, &grants, query, arg); err != nil {
		r.logger.Error("Failed to list access grants", zap.Error(err), zap.String("filter", where))
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	return grants, nil
}

func (r *grantRepository) DeleteBySubject(ctx context.Context, subjectID uuid.UUID) (int64, error) {
	return r.deleteBySubject(ctx, r.db, subjectID)
}

// deleteBySubject runs on exec so subject deletes can cascade inside their
// own transaction.
func (r *grantRepository) deleteBySubject(ctx context.Context, exec sqlx.ExecerContext, subjectID uuid.UUID) (int64, error) {
	res, err := exec.ExecContext(ctx, r.q(`DELETE FROM access_grants WHERE subject_id = ?`), subjectID)
	if err != nil {
		r.logger.Error("Failed to delete access grants", zap.Error(err), zap.String("subject_id", subjectID.String()))
		return 0, fmt.Errorf("failed to delete access grants: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

const auditColumns = `id, actor_id, action, entity_type, entity_id, before_snapshot, after_snapshot,
	details, ip_address, request_id, created_at`

type auditRepository struct {
	*Store
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := r.q(`INSERT INTO audit_logs (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.ActorID, log.Action, log.EntityType, log.EntityID, nullJSON(log.Before), nullJSON(log.After),
		log.Details, log.IPAddress, log.RequestID, log.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create audit log", zap.Error(err),
			zap.String("action", log.Action), zap.String("entity_id", log.EntityID.String()))
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	var logs []*model.AuditLog
	query := r.q(`SELECT ` + auditColumns + ` FROM audit_logs WHERE entity_type = ? AND entity_id = ? ORDER BY created_at ASC`)
	if err := r.db.SelectContext(ctx, &logs, query, entityType, entityID); err != nil {
		r.logger.Error("Failed to list audit logs", zap.Error(err), zap.String("entity_id", entityID.String()))
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM audit_logs WHERE created_at < ?`), before)
	if err != nil {
		r.logger.Error("Failed to clean up audit logs", zap.Error(err))
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return res.RowsAffected()
}

// nullJSON stores an absent snapshot as SQL NULL instead of an empty object.
func nullJSON(j []byte) interface{} {
	if len(j) == 0 {
		return nil
	}
	return string(j)
}

const versionColumns = `id, entity_type, entity_id, version, snapshot, actor_id, description, restored_from, created_at`

type versionRepository struct {
	*Store
}

func (r *versionRepository) Create(ctx context.Context, v *model.EntityVersion) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current int
		err := tx.GetContext(ctx, &current,
			r.q(`SELECT COALESCE(MAX(version), 0) FROM entity_versions WHERE entity_type = ? AND entity_id = ?`),
			v.EntityType, v.EntityID)
		if err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}
		v.Version = current + 1
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO entity_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			v.ID, v.EntityType, v.EntityID, v.Version, string(v.Snapshot), v.ActorID, v.Description, v.RestoredFrom, v.CreatedAt)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to create entity version", zap.Error(err),
			zap.String("entity_type", v.EntityType), zap.String("entity_id", v.EntityID.String()))
		return fmt.Errorf("failed to create entity version: %w", err)
	}
	return nil
}

func (r *versionRepository) Get(ctx context.Context, id uuid.UUID) (*model.EntityVersion, error) {
	var v model.EntityVersion
	err := r.db.GetContext(ctx, &v, r.q(`SELECT `+versionColumns+` FROM entity_versions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get entity version", zap.Error(err), zap.String("version_id", id.String()))
		return nil, fmt.Errorf("failed to get entity version: %w", err)
	}
	return &v, nil
}

func (r *versionRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.EntityVersion, error) {
	var versions []*model.EntityVersion
	query := r.q(`SELECT ` + versionColumns + ` FROM entity_versions WHERE entity_type = ? AND entity_id = ? ORDER BY version ASC`)
	if err := r.db.SelectContext(ctx, &versions, query, entityType, entityID); err != nil {
		r.logger.Error("Failed to list entity versions", zap.Error(err), zap.String("entity_id", entityID.String()))
		return nil, fmt.Errorf("failed to list entity versions: %w", err)
	}
	return versions, nil
}

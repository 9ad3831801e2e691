package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

const documentColumns = `id, name, type, file_format, file_size, storage_key, uploader_id, owner_id, is_private, created_at, updated_at`

type documentRepository struct {
	*Store
}

func (r *documentRepository) Create(ctx context.Context, d *model.Document) error {
	query := r.q(`INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.Name, d.Type, d.FileFormat, d.FileSize, d.StorageKey,
		d.UploaderID, d.OwnerID, d.IsPrivate, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create document", zap.Error(err), zap.String("document_id", d.ID.String()))
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var d model.Document
	err := r.db.GetContext(ctx, &d, r.q(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get document", zap.Error(err), zap.String("document_id", id.String()))
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

func (r *documentRepository) Update(ctx context.Context, d *model.Document) (bool, error) {
	query := r.q(`
		UPDATE documents
		SET name = ?, type = ?, file_format = ?, file_size = ?, storage_key = ?,
			owner_id = ?, is_private = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		d.Name, d.Type, d.FileFormat, d.FileSize, d.StorageKey, d.OwnerID, d.IsPrivate, d.UpdatedAt, d.ID)
	if err != nil {
		r.logger.Error("Failed to update document", zap.Error(err), zap.String("document_id", d.ID.String()))
		return false, fmt.Errorf("failed to update document: %w", err)
	}
	return affected(res)
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		grants := &grantRepository{r.Store}
		if _, err := grants.deleteBySubject(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete document grants: %w", err)
		}
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM documents WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		deleted, err = affected(res)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to delete document", zap.Error(err), zap.String("document_id", id.String()))
		return false, err
	}
	return deleted, nil
}

func (r *documentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Document, error) {
	return r.list(ctx, `owner_id = ?`, ownerID)
}

func (r *documentRepository) ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]*model.Document, error) {
	return r.list(ctx, `uploader_id = ?`, uploaderID)
}

func (r *documentRepository) list(ctx context.Context, where string, arg interface{}) ([]*model.Document, error) {
	var docs []*model.Document
	query := r.q(`SELECT ` + documentColumns + ` FROM documents WHERE ` + where + ` ORDER BY created_at ASC`)
	if err := r.db.SelectContext(ctx, &docs, query, arg); err != nil {
		r.logger.Error("Failed to list documents", zap.Error(err), zap.String("filter", where))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

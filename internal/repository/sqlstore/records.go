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

const recordColumns = `id, patient_id, type, title, description, record_date, doctor_id, attachments,
	pin_access, is_approved, created_by, created_at, updated_at`

type recordRepository struct {
	*Store
}

func (r *recordRepository) Create(ctx context.Context, rec *model.MedicalRecord) error {
	if err := rec.MarshalAttachments(); err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}
	query := r.q(`INSERT INTO medical_records (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.PatientID, rec.Type, rec.Title, rec.Description, rec.Date, rec.DoctorID,
		rec.AttachmentsJSON, rec.PINAccess, rec.IsApproved, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create medical record", zap.Error(err), zap.String("record_id", rec.ID.String()))
		return fmt.Errorf("failed to create medical record: %w", err)
	}
	return nil
}

func (r *recordRepository) Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	var rec model.MedicalRecord
	err := r.db.GetContext(ctx, &rec, r.q(`SELECT `+recordColumns+` FROM medical_records WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get medical record", zap.Error(err), zap.String("record_id", id.String()))
		return nil, fmt.Errorf("failed to get medical record: %w", err)
	}
	if err := rec.UnmarshalAttachments(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
	}
	return &rec, nil
}

func (r *recordRepository) Update(ctx context.Context, rec *model.MedicalRecord) (bool, error) {
	if err := rec.MarshalAttachments(); err != nil {
		return false, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	query := r.q(`
		UPDATE medical_records
		SET type = ?, title = ?, description = ?, record_date = ?, doctor_id = ?, attachments = ?,
			pin_access = ?, is_approved = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		rec.Type, rec.Title, rec.Description, rec.Date, rec.DoctorID, rec.AttachmentsJSON,
		rec.PINAccess, rec.IsApproved, rec.UpdatedAt, rec.ID)
	if err != nil {
		r.logger.Error("Failed to update medical record", zap.Error(err), zap.String("record_id", rec.ID.String()))
		return false, fmt.Errorf("failed to update medical record: %w", err)
	}
	return affected(res)
}

func (r *recordRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		grants := &grantRepository{r.Store}
		if _, err := grants.deleteBySubject(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete record grants: %w", err)
		}
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM medical_records WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete medical record: %w", err)
		}
		deleted, err = affected(res)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to delete medical record", zap.Error(err), zap.String("record_id", id.String()))
		return false, err
	}
	return deleted, nil
}

func (r *recordRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.MedicalRecord, error) {
	var records []*model.MedicalRecord
	query := r.q(`SELECT ` + recordColumns + ` FROM medical_records WHERE patient_id = ? ORDER BY record_date ASC, created_at ASC`)
	if err := r.db.SelectContext(ctx, &records, query, patientID); err != nil {
		r.logger.Error("Failed to list medical records", zap.Error(err), zap.String("patient_id", patientID.String()))
		return nil, fmt.Errorf("failed to list medical records: %w", err)
	}
	for _, rec := range records {
		if err := rec.UnmarshalAttachments(); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments for %s: %w", rec.ID, err)
		}
	}
	return records, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

const userColumns = `id, email, name, role, password_hash, created_at, updated_at`

type userRepository struct {
	*Store
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := r.q(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Role, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err), zap.String("email", user.Email))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, r.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Error(err), zap.String("user_id", id.String()))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, r.q(`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER(?)`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get user by email", zap.Error(err))
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC`); err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

const patientColumns = `id, name, date_of_birth, blood_group, doctor_id, pin_hash, created_at, updated_at`

type patientRepository struct {
	*Store
}

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	query := r.q(`INSERT INTO patients (` + patientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.DateOfBirth, p.BloodGroup, p.DoctorID, p.PINHash, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create patient", zap.Error(err), zap.String("patient_id", p.ID.String()))
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	err := r.db.GetContext(ctx, &p, r.q(`SELECT `+patientColumns+` FROM patients WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get patient", zap.Error(err), zap.String("patient_id", id.String()))
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepository) Update(ctx context.Context, p *model.Patient) (bool, error) {
	query := r.q(`
		UPDATE patients
		SET name = ?, date_of_birth = ?, blood_group = ?, doctor_id = ?, pin_hash = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		p.Name, p.DateOfBirth, p.BloodGroup, p.DoctorID, p.PINHash, p.UpdatedAt, p.ID)
	if err != nil {
		r.logger.Error("Failed to update patient", zap.Error(err), zap.String("patient_id", p.ID.String()))
		return false, fmt.Errorf("failed to update patient: %w", err)
	}
	return affected(res)
}

func (r *patientRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Patient, error) {
	var patients []*model.Patient
	query := r.q(`SELECT ` + patientColumns + ` FROM patients WHERE doctor_id = ? ORDER BY created_at ASC`)
	if err := r.db.SelectContext(ctx, &patients, query, doctorID); err != nil {
		r.logger.Error("Failed to list patients by doctor", zap.Error(err))
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

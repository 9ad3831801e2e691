package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/internal/service/access"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/security"
)

type UserServicer interface {
	CreateUser(ctx context.Context, actor auth.Actor, req *model.CreateUserRequest) (*model.User, error)
	GetUser(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context, actor auth.Actor) ([]*model.User, error)
	EnsureAdmin(ctx context.Context, email, name, password string) (*model.User, bool, error)
}

type Service struct {
	repo    repository.UserRepository
	hasher  security.PasswordHasher
	auditor access.Auditor
}

var _ UserServicer = (*Service)(nil)

func NewService(repo repository.UserRepository, hasher security.PasswordHasher, auditor access.Auditor) *Service {
	return &Service{
		repo:    repo,
		hasher:  hasher,
		auditor: auditor,
	}
}

// CreateUser registers an account. Admins create any role; secretaries only
// create patients.
func (s *Service) CreateUser(ctx context.Context, actor auth.Actor, req *model.CreateUserRequest) (*model.User, error) {
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	switch {
	case actor.Role == model.RoleAdmin:
	case actor.Role == model.RoleSecretary && role == model.RolePatient:
	default:
		return nil, apperrors.NewForbidden(fmt.Sprintf("not allowed to create %s accounts", role))
	}

	u, err := s.create(ctx, req.Email, req.Name, req.Password, role)
	if err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.LogAuditAction(ctx, actor.UserID, model.AuditActionCreate, "user", u.ID, nil, u, string(role))
	}
	return u, nil
}

func (s *Service) create(ctx context.Context, email, name, password string, role model.Role) (*model.User, error) {
	email = strings.TrimSpace(email)
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewInvalidState("email already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrTooShort) {
			return nil, apperrors.BadRequest(err.Error(), err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	now := time.Now().UTC()
	u := &model.User{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create user: %w", err))
	}
	return u, nil
}

// GetUser lets users read themselves; staff and doctors may read anyone.
func (s *Service) GetUser(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.User, error) {
	if actor.UserID != id && actor.Role == model.RolePatient {
		return nil, apperrors.NewForbidden("not allowed to view this user")
	}
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, apperrors.Internal(err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, actor auth.Actor) ([]*model.User, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("only staff can list users")
	}
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return users, nil
}

// EnsureAdmin creates the bootstrap administrator when email is unknown. The
// bool reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, name, password string) (*model.User, bool, error) {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperrors.Internal(err)
	}
	u, err := s.create(ctx, email, name, password, model.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

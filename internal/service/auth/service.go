package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/security"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	maxLoginAttempts = 5
	lockoutDuration  = 15 * time.Minute
)

type Service struct {
	userRepo repository.UserRepository
	jwtSvc   auth.JWTService
	hasher   security.PasswordHasher
	attempts *cache.Cache
}

func NewService(userRepo repository.UserRepository, jwtSvc auth.JWTService, hasher security.PasswordHasher) *Service {
	return &Service{
		userRepo: userRepo,
		jwtSvc:   jwtSvc,
		hasher:   hasher,
		attempts: cache.New(lockoutDuration, 2*lockoutDuration),
	}
}

// Login exchanges credentials for an access token. Repeated failures on one
// email lock it for lockoutDuration.
func (s *Service) Login(ctx context.Context, email, password string) (*model.TokenResponse, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if n, ok := s.attempts.Get(key); ok && n.(int) >= maxLoginAttempts {
		return nil, apperrors.NewTooManyAttempts("account is locked, please try again later")
	}

	user, err := s.userRepo.GetByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordFailure(key)
			return nil, apperrors.Unauthorized(ErrInvalidCredentials)
		}
		return nil, apperrors.Internal(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.recordFailure(key)
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}
	s.attempts.Delete(key)

	token, err := s.jwtSvc.GenerateAccessToken(user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	log.Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("User logged in")

	return &model.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.jwtSvc.TokenTTL().Seconds()),
	}, nil
}

func (s *Service) recordFailure(key string) {
	if err := s.attempts.Add(key, 1, lockoutDuration); err != nil {
		if _, err := s.attempts.IncrementInt(key, 1); err != nil {
			s.attempts.Set(key, 1, lockoutDuration)
		}
	}
}

// ValidateToken parses a bearer token into the request actor.
func (s *Service) ValidateToken(ctx context.Context, token string) (auth.Actor, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return auth.Actor{}, apperrors.Unauthorized(err)
	}
	return auth.Actor{UserID: claims.UserID, Role: claims.Role}, nil
}

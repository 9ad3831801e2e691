// Package pin verifies the patient-set PIN that guards PIN-gated medical
// records. It is independent of the access engine: a caller first passes
// access.Service.CanView, then Verify.
package pin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/santetogo/records-api/internal/repository"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/metrics"
	"github.com/santetogo/records-api/pkg/security"
)

const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 15 * time.Minute

	minDigits = 4
	maxDigits = 6
)

var ErrInvalidFormat = errors.New("pin must be 4 to 6 digits")

type Config struct {
	MaxAttempts int
	Lockout     time.Duration
}

type Service struct {
	patients repository.PatientRepository
	hasher   security.PasswordHasher
	attempts *cache.Cache
	cfg      Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewService(patients repository.PatientRepository, hasher security.PasswordHasher, cfg Config, m *metrics.Metrics) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultLockout
	}
	return &Service{
		patients: patients,
		hasher:   hasher,
		attempts: cache.New(cfg.Lockout, cfg.Lockout*2),
		cfg:      cfg,
		metrics:  m,
		logger:   log.Logger,
	}
}

// ValidFormat reports whether pin is 4 to 6 ASCII digits.
func ValidFormat(pin string) bool {
	if len(pin) < minDigits || len(pin) > maxDigits {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Hash validates and hashes a new PIN.
func (s *Service) Hash(pin string) (string, error) {
	if !ValidFormat(pin) {
		return "", apperrors.BadRequest(ErrInvalidFormat.Error(), ErrInvalidFormat)
	}
	h, err := s.hasher.Hash(pin)
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("failed to hash pin: %w", err))
	}
	return h, nil
}

func attemptKey(patientID, userID uuid.UUID) string {
	return patientID.String() + ":" + userID.String()
}

// Verify checks pin against the PIN of patientID on behalf of userID.
// Failures are counted per (patient, user); once MaxAttempts is reached
// further attempts fail with ErrTooManyAttempts until the lockout passes.
func (s *Service) Verify(ctx context.Context, patientID, userID uuid.UUID, pin string) error {
	key := attemptKey(patientID, userID)
	if n, ok := s.attempts.Get(key); ok && n.(int) >= s.cfg.MaxAttempts {
		s.metrics.ObservePINChallenge("locked")
		return apperrors.NewTooManyAttempts("too many incorrect PIN attempts, try again later")
	}

	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("patient", err)
		}
		return apperrors.Internal(err)
	}
	if !patient.HasPIN() {
		s.metrics.ObservePINChallenge("unset")
		return apperrors.NewForbidden("patient has not set a PIN")
	}

	if err := s.hasher.Compare(patient.PINHash, pin); err != nil {
		if !errors.Is(err, security.ErrMismatch) {
			s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("Failed to compare PIN")
		}
		s.fail(key)
		return apperrors.NewForbidden("incorrect PIN")
	}

	s.attempts.Delete(key)
	s.metrics.ObservePINChallenge("ok")
	return nil
}

func (s *Service) fail(key string) {
	s.metrics.ObservePINChallenge("mismatch")
	n := 1
	if err := s.attempts.Add(key, n, s.cfg.Lockout); err != nil {
		if n, err = s.attempts.IncrementInt(key, 1); err != nil {
			// expired between Add and IncrementInt
			n = 1
			s.attempts.Set(key, n, s.cfg.Lockout)
		}
	}
	if n >= s.cfg.MaxAttempts {
		// restart the window so the lockout lasts a full period
		s.attempts.Set(key, n, s.cfg.Lockout)
		s.logger.Warn().Str("key", key).Msg("PIN challenge locked")
	}
}

// Reset clears the failure counts on patientID, used when the patient sets a
// new PIN.
func (s *Service) Reset(patientID uuid.UUID) {
	prefix := patientID.String() + ":"
	for k := range s.attempts.Items() {
		if strings.HasPrefix(k, prefix) {
			s.attempts.Delete(k)
		}
	}
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// Restorer writes a snapshot back over the current state of one entity. It
// returns the state before and after the write so the restore can be audited.
type Restorer interface {
	RestoreSnapshot(ctx context.Context, entityID uuid.UUID, snapshot []byte) (before, after interface{}, err error)
}

// Entry is one audit row before serialization.
type Entry struct {
	ActorID    uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     interface{}
	After      interface{}
	Details    string
}

type Service struct {
	logs     repository.AuditRepository
	versions repository.VersionRepository
	now      func() time.Time

	mu        sync.RWMutex
	restorers map[string]Restorer
}

func NewService(logs repository.AuditRepository, versions repository.VersionRepository) *Service {
	return &Service{
		logs:      logs,
		versions:  versions,
		now:       func() time.Time { return time.Now().UTC() },
		restorers: make(map[string]Restorer),
	}
}

// RegisterRestorer makes entityType restorable.
func (s *Service) RegisterRestorer(entityType string, r Restorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorers[entityType] = r
}

func (s *Service) restorer(entityType string) (Restorer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.restorers[entityType]
	return r, ok
}

// Log creates an audit log entry
func (s *Service) Log(ctx context.Context, e Entry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before snapshot: %w", err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after snapshot: %w", err)
	}

	meta := requestMetaFrom(ctx)
	log := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		Details:    e.Details,
		IPAddress:  meta.IPAddress,
		RequestID:  meta.RequestID,
		CreatedAt:  s.now(),
	}
	return s.logs.Create(ctx, log)
}

// CreateEntityVersion stores snapshot as the next version of the entity.
func (s *Service) CreateEntityVersion(ctx context.Context, actorID uuid.UUID, entityType string, entityID uuid.UUID,
	snapshot interface{}, description string) (*model.EntityVersion, error) {
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if data == nil {
		return nil, apperrors.BadRequest("snapshot is required", nil)
	}
	return s.createVersion(ctx, &model.EntityVersion{
		ID:          uuid.New(),
		EntityType:  entityType,
		EntityID:    entityID,
		Snapshot:    data,
		ActorID:     actorID,
		Description: description,
		CreatedAt:   s.now(),
	})
}

func (s *Service) createVersion(ctx context.Context, v *model.EntityVersion) (*model.EntityVersion, error) {
	if err := s.versions.Create(ctx, v); err != nil {
		return nil, apperrors.Internal(err)
	}
	return v, nil
}

// RestoreEntityVersion copies the snapshot of versionID back over the entity
// and records the restoration as a new version. History only grows.
func (s *Service) RestoreEntityVersion(ctx context.Context, actorID, versionID uuid.UUID) (*model.EntityVersion, error) {
	source, err := s.versions.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("entity version", err)
		}
		return nil, apperrors.Internal(err)
	}

	r, ok := s.restorer(source.EntityType)
	if !ok {
		return nil, apperrors.BadRequest(fmt.Sprintf("entity type %q cannot be restored", source.EntityType), nil)
	}

	before, after, err := r.RestoreSnapshot(ctx, source.EntityID, source.Snapshot)
	if err != nil {
		return nil, err
	}

	snapshot, err := marshalSnapshot(after)
	if err != nil || snapshot == nil {
		snapshot = source.Snapshot
	}
	restoredFrom := source.ID
	version, err := s.createVersion(ctx, &model.EntityVersion{
		ID:           uuid.New(),
		EntityType:   source.EntityType,
		EntityID:     source.EntityID,
		Snapshot:     snapshot,
		ActorID:      actorID,
		Description:  fmt.Sprintf("restored from version %d", source.Version),
		RestoredFrom: &restoredFrom,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	// the restore already happened; a missing audit row must not undo it
	_ = s.Log(ctx, Entry{
		ActorID:    actorID,
		Action:     model.AuditActionRestore,
		EntityType: source.EntityType,
		EntityID:   source.EntityID,
		Before:     before,
		After:      after,
		Details:    version.Description,
	})
	return version, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	logs, err := s.logs.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return logs, nil
}

func (s *Service) ListVersions(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.EntityVersion, error) {
	versions, err := s.versions.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*model.EntityVersion, error) {
	v, err := s.versions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("entity version", err)
		}
		return nil, apperrors.Internal(err)
	}
	return v, nil
}

func (s *Service) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return s.logs.Cleanup(ctx, before)
}

// marshalSnapshot returns nil for a missing value, including typed nil
// pointers.
func marshalSnapshot(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.([]byte); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// Package access is the access policy engine for documents and medical
// records.
//
// Grant expiry is derived at read time. An approved grant whose ExpiresAt has
// passed keeps status approved in storage and simply stops permitting reads;
// nothing sweeps or rewrites it.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/metrics"
)

// DefaultGrantValidity is how long an approved grant permits reads.
const DefaultGrantValidity = 30 * 24 * time.Hour

type Config struct {
	GrantValidity time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now; tests use it to move past expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAuthority(a Authority) Option {
	return func(s *Service) { s.authority = a }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

type Service struct {
	store     repository.Store
	validity  time.Duration
	now       func() time.Time
	authority Authority
	auditor   Auditor
	observer  Observer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewService(store repository.Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validity:  cfg.GrantValidity,
		now:       func() time.Time { return time.Now().UTC() },
		authority: OwnerAuthority{},
		logger:    log.Logger,
	}
	if s.validity <= 0 {
		s.validity = DefaultGrantValidity
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantValidity is the window an approval opens.
func (s *Service) GrantValidity() time.Duration {
	return s.validity
}

// ResolveSubject loads subjectID as a document, then as a medical record.
func (s *Service) ResolveSubject(ctx context.Context, subjectID uuid.UUID) (*Subject, error) {
	doc, err := s.store.Documents().Get(ctx, subjectID)
	if err == nil {
		return subjectFromDocument(doc), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	rec, err := s.store.MedicalRecords().Get(ctx, subjectID)
	if err == nil {
		return subjectFromRecord(rec), nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("subject", err)
	}
	return nil, apperrors.Internal(err)
}

// CanView reports whether userID may read subjectID right now. A missing
// subject or a failed lookup answers false.
func (s *Service) CanView(ctx context.Context, userID, subjectID uuid.UUID) bool {
	allowed := s.canView(ctx, userID, subjectID)
	s.metrics.ObserveAccessCheck(allowed)
	return allowed
}

func (s *Service) canView(ctx context.Context, userID, subjectID uuid.UUID) bool {
	subject, err := s.ResolveSubject(ctx, subjectID)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrNotFound) {
			s.logger.Error().Err(err).Str("subject_id", subjectID.String()).Msg("Failed to resolve subject")
		}
		return false
	}
	if subject.OpenTo(userID) {
		return true
	}
	return s.hasPermittingGrant(ctx, userID, subjectID)
}

func (s *Service) hasPermittingGrant(ctx context.Context, userID, subjectID uuid.UUID) bool {
	grants, err := s.store.Grants().ListBySubject(ctx, subjectID)
	if err != nil {
		s.logger.Error().Err(err).Str("subject_id", subjectID.String()).Msg("Failed to list grants")
		return false
	}
	now := s.now()
	for _, g := range grants {
		if g.RequestingUserID == userID && g.Permits(now) {
			return true
		}
	}
	return false
}

// RequestAccess opens a pending grant for requesterID on subjectID. When the
// pair already holds an active grant that grant is returned unchanged and
// created is false. Owners, uploaders and readers of a public document get
// ErrAlreadyHasAccess.
func (s *Service) RequestAccess(ctx context.Context, subjectID, requesterID uuid.UUID) (grant *model.AccessGrant, created bool, err error) {
	subject, err := s.ResolveSubject(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	if subject.OpenTo(requesterID) {
		s.metrics.ObserveAccessRequest("already_has_access")
		return nil, false, apperrors.NewAlreadyHasAccess()
	}

	now := s.now()
	candidate := &model.AccessGrant{
		ID:               uuid.New(),
		SubjectID:        subject.ID,
		SubjectType:      subject.Type,
		RequestingUserID: requesterID,
		GrantedByUserID:  requesterID,
		GrantedAt:        now,
		Status:           model.GrantStatusPending,
	}
	grant, created, err = s.store.Grants().CreateIfNoActive(ctx, candidate, now)
	if err != nil {
		return nil, false, apperrors.Internal(err)
	}
	if !created {
		s.metrics.ObserveAccessRequest("existing")
		return grant, false, nil
	}

	s.metrics.ObserveAccessRequest("created")
	s.audit(ctx, requesterID, model.AuditActionRequest, nil, grant, string(subject.Type))
	s.notify(ctx, model.EventAccessRequested, grant, subject)
	return grant, true, nil
}

// Decide approves or denies a pending grant. Authority is checked before the
// grant status, so an outsider learns nothing about the grant state.
func (s *Service) Decide(ctx context.Context, grantID, deciderID uuid.UUID, approve bool) (*model.AccessGrant, error) {
	grant, subject, err := s.loadForAction(ctx, grantID, deciderID, ActionDecide)
	if err != nil {
		return nil, err
	}
	now := s.now()
	change := repository.GrantChange{To: model.GrantStatusDenied, ReviewedBy: deciderID, At: now}
	if approve {
		expires := now.Add(s.validity)
		change.To = model.GrantStatusApproved
		change.ExpiresAt = &expires
	}
	if !grant.Status.CanTransitionTo(change.To) {
		return nil, apperrors.NewInvalidState(fmt.Sprintf("grant is %s, not pending", grant.Status))
	}

	swapped, err := s.store.Grants().Transition(ctx, grant.ID, grant.Status, change)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !swapped {
		return nil, apperrors.NewInvalidState("grant was decided concurrently")
	}

	updated := applyChange(grant, change)
	s.metrics.ObserveGrantTransition(string(change.To))
	s.audit(ctx, deciderID, model.AuditActionDecide, grant, updated, string(change.To))

	event := model.EventAccessDenied
	if approve {
		event = model.EventAccessApproved
	}
	s.notify(ctx, event, updated, subject)
	return updated, nil
}

// Revoke ends an approved grant. Revoking a revoked grant succeeds without
// change; any other status is ErrInvalidState.
func (s *Service) Revoke(ctx context.Context, grantID, actorID uuid.UUID) error {
	grant, subject, err := s.loadForAction(ctx, grantID, actorID, ActionRevoke)
	if err != nil {
		return err
	}

	if grant.Status == model.GrantStatusRevoked {
		return nil
	}
	if !grant.Status.CanTransitionTo(model.GrantStatusRevoked) {
		return apperrors.NewInvalidState(fmt.Sprintf("grant is %s and was never approved", grant.Status))
	}

	change := repository.GrantChange{To: model.GrantStatusRevoked, ReviewedBy: actorID, At: s.now()}
	swapped, err := s.store.Grants().Transition(ctx, grant.ID, grant.Status, change)
	if err != nil {
		return apperrors.Internal(err)
	}
	if !swapped {
		current, err := s.store.Grants().Get(ctx, grant.ID)
		if err == nil && current.Status == model.GrantStatusRevoked {
			return nil
		}
		return apperrors.NewInvalidState("grant changed while revoking")
	}

	updated := applyChange(grant, change)
	s.metrics.ObserveGrantTransition(string(change.To))
	s.audit(ctx, actorID, model.AuditActionRevoke, grant, updated, "")
	s.notify(ctx, model.EventAccessRevoked, updated, subject)
	return nil
}

func (s *Service) loadForAction(ctx context.Context, grantID, actorID uuid.UUID, action Action) (*model.AccessGrant, *Subject, error) {
	grant, err := s.store.Grants().Get(ctx, grantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperrors.NotFound("access grant", err)
		}
		return nil, nil, apperrors.Internal(err)
	}
	subject, err := s.ResolveSubject(ctx, grant.SubjectID)
	if err != nil {
		return nil, nil, err
	}

	ok, err := s.authority.Authorize(ctx, action, actorID, subject)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if !ok {
		return nil, nil, apperrors.NewForbidden(fmt.Sprintf("not allowed to %s this grant", action))
	}
	return grant, subject, nil
}

func applyChange(g *model.AccessGrant, change repository.GrantChange) *model.AccessGrant {
	updated := *g
	reviewer, at := change.ReviewedBy, change.At
	updated.Status = change.To
	updated.ReviewedBy = &reviewer
	updated.ReviewedAt = &at
	if change.ExpiresAt != nil {
		exp := *change.ExpiresAt
		updated.ExpiresAt = &exp
	}
	return &updated
}

// ListActiveGrantsFor returns the grants that currently permit reading
// subjectID, oldest first.
func (s *Service) ListActiveGrantsFor(ctx context.Context, subjectID uuid.UUID) ([]*model.AccessGrant, error) {
	grants, err := s.store.Grants().ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	now := s.now()
	active := make([]*model.AccessGrant, 0, len(grants))
	for _, g := range grants {
		if g.Permits(now) {
			active = append(active, g)
		}
	}
	return active, nil
}

// DoctorCanAccessPatient reports whether doctorID is the assigned doctor of
// patientID. It never consults grants.
func (s *Service) DoctorCanAccessPatient(ctx context.Context, doctorID, patientID uuid.UUID) bool {
	patient, err := s.store.Patients().Get(ctx, patientID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("Failed to load patient")
		}
		return false
	}
	return patient.AssignedTo(doctorID)
}

// ListIncomingRequests returns pending grants on everything ownerID owns.
func (s *Service) ListIncomingRequests(ctx context.Context, ownerID uuid.UUID) ([]*model.AccessGrant, error) {
	docs, err := s.store.Documents().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	records, err := s.store.MedicalRecords().ListByPatient(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	subjects := make([]uuid.UUID, 0, len(docs)+len(records))
	for _, d := range docs {
		subjects = append(subjects, d.ID)
	}
	for _, r := range records {
		subjects = append(subjects, r.ID)
	}

	var pending []*model.AccessGrant
	for _, id := range subjects {
		grants, err := s.store.Grants().ListBySubject(ctx, id)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		for _, g := range grants {
			if g.Status == model.GrantStatusPending {
				pending = append(pending, g)
			}
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].GrantedAt.Before(pending[j].GrantedAt) })
	return pending, nil
}

// ListOutgoingRequests returns every grant requesterID ever asked for.
func (s *Service) ListOutgoingRequests(ctx context.Context, requesterID uuid.UUID) ([]*model.AccessGrant, error) {
	grants, err := s.store.Grants().ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return grants, nil
}

// ListPermittedFor returns the grants held by userID that permit reading now.
func (s *Service) ListPermittedFor(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error) {
	grants, err := s.ListOutgoingRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := grants[:0]
	for _, g := range grants {
		if g.Permits(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, actorID uuid.UUID, action string, before, after *model.AccessGrant, details string) {
	if s.auditor == nil {
		return
	}
	var b, a interface{}
	if before != nil {
		b = before
	}
	if after != nil {
		a = after
	}
	s.auditor.LogAuditAction(ctx, actorID, action, model.AuditEntityAccessGrant, after.ID, b, a, details)
}

func (s *Service) notify(ctx context.Context, eventType string, grant *model.AccessGrant, subject *Subject) {
	if s.observer != nil {
		s.observer.GrantChanged(ctx, eventType, grant, subject)
	}
}

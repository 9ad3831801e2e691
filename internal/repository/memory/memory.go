// Package memory is an in-process Record Store. Every operation takes the
// store-wide lock, so each call is atomic with respect to the others.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

type entry[T any] struct {
	seq int64
	v   T
}

type Store struct {
	mu  sync.RWMutex
	seq int64

	users     map[uuid.UUID]entry[model.User]
	patients  map[uuid.UUID]entry[model.Patient]
	documents map[uuid.UUID]entry[model.Document]
	records   map[uuid.UUID]entry[model.MedicalRecord]
	grants    map[uuid.UUID]entry[model.AccessGrant]
	audit     []model.AuditLog
	versions  map[uuid.UUID]entry[model.EntityVersion]
	outbox    map[uuid.UUID]entry[model.OutboxEvent]
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:     make(map[uuid.UUID]entry[model.User]),
		patients:  make(map[uuid.UUID]entry[model.Patient]),
		documents: make(map[uuid.UUID]entry[model.Document]),
		records:   make(map[uuid.UUID]entry[model.MedicalRecord]),
		grants:    make(map[uuid.UUID]entry[model.AccessGrant]),
		versions:  make(map[uuid.UUID]entry[model.EntityVersion]),
		outbox:    make(map[uuid.UUID]entry[model.OutboxEvent]),
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

func (s *Store) Users() repository.UserRepository                   { return userRepository{s} }
func (s *Store) Patients() repository.PatientRepository             { return patientRepository{s} }
func (s *Store) Documents() repository.DocumentRepository           { return documentRepository{s} }
func (s *Store) MedicalRecords() repository.MedicalRecordRepository { return recordRepository{s} }
func (s *Store) Grants() repository.AccessGrantRepository           { return grantRepository{s} }
func (s *Store) Audit() repository.AuditRepository                  { return auditRepository{s} }
func (s *Store) Versions() repository.VersionRepository             { return versionRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository                { return outboxRepository{s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

// sorted returns copies of the entries accepted by keep, ordered by the key
// returned from at and then by insertion order.
func sorted[T any](m map[uuid.UUID]entry[T], keep func(*T) bool, at func(*T) time.Time) []*T {
	list := make([]entry[T], 0)
	for _, e := range m {
		if keep(&e.v) {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		ti, tj := at(&list[i].v), at(&list[j].v)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return list[i].seq < list[j].seq
	})
	out := make([]*T, len(list))
	for i := range list {
		v := list[i].v
		out[i] = &v
	}
	return out
}

type userRepository struct{ s *Store }

func (r userRepository) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[user.ID] = entry[model.User]{seq: r.s.next(), v: *user}
	return nil
}

func (r userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := e.v
	return &u, nil
}

func (r userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.users {
		if strings.EqualFold(e.v.Email, email) {
			u := e.v
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepository) List(ctx context.Context) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.users, func(*model.User) bool { return true },
		func(u *model.User) time.Time { return u.CreatedAt }), nil
}

type patientRepository struct{ s *Store }

func (r patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.patients[patient.ID] = entry[model.Patient]{seq: r.s.next(), v: *patient}
	return nil
}

func (r patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := e.v
	return &p, nil
}

func (r patientRepository) Update(ctx context.Context, patient *model.Patient) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.patients[patient.ID]
	if !ok {
		return false, nil
	}
	updated := *patient
	updated.CreatedAt = e.v.CreatedAt
	e.v = updated
	r.s.patients[patient.ID] = e
	return true, nil
}

func (r patientRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.patients, func(p *model.Patient) bool { return p.AssignedTo(doctorID) },
		func(p *model.Patient) time.Time { return p.CreatedAt }), nil
}

type documentRepository struct{ s *Store }

func (r documentRepository) Create(ctx context.Context, doc *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.documents[doc.ID] = entry[model.Document]{seq: r.s.next(), v: *doc}
	return nil
}

func (r documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d := e.v
	return &d, nil
}

func (r documentRepository) Update(ctx context.Context, doc *model.Document) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.documents[doc.ID]
	if !ok {
		return false, nil
	}
	updated := *doc
	updated.UploaderID = e.v.UploaderID
	updated.CreatedAt = e.v.CreatedAt
	e.v = updated
	r.s.documents[doc.ID] = e
	return true, nil
}

func (r documentRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[id]; !ok {
		return false, nil
	}
	delete(r.s.documents, id)
	r.s.deleteGrantsLocked(id)
	return true, nil
}

func (r documentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.documents, func(d *model.Document) bool { return d.OwnerID == ownerID },
		func(d *model.Document) time.Time { return d.CreatedAt }), nil
}

func (r documentRepository) ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]*model.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.documents, func(d *model.Document) bool { return d.UploaderID == uploaderID },
		func(d *model.Document) time.Time { return d.CreatedAt }), nil
}

type recordRepository struct{ s *Store }

func copyRecord(rec model.MedicalRecord) model.MedicalRecord {
	if rec.Attachments != nil {
		rec.Attachments = append([]model.Attachment(nil), rec.Attachments...)
	}
	if rec.AttachmentsJSON != nil {
		rec.AttachmentsJSON = append(rec.AttachmentsJSON[:0:0], rec.AttachmentsJSON...)
	}
	return rec
}

func (r recordRepository) Create(ctx context.Context, record *model.MedicalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.records[record.ID] = entry[model.MedicalRecord]{seq: r.s.next(), v: copyRecord(*record)}
	return nil
}

func (r recordRepository) Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec := copyRecord(e.v)
	return &rec, nil
}

func (r recordRepository) Update(ctx context.Context, record *model.MedicalRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.records[record.ID]
	if !ok {
		return false, nil
	}
	updated := copyRecord(*record)
	updated.PatientID = e.v.PatientID
	updated.CreatedBy = e.v.CreatedBy
	updated.CreatedAt = e.v.CreatedAt
	e.v = updated
	r.s.records[record.ID] = e
	return true, nil
}

func (r recordRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[id]; !ok {
		return false, nil
	}
	delete(r.s.records, id)
	r.s.deleteGrantsLocked(id)
	return true, nil
}

func (r recordRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.MedicalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := sorted(r.s.records, func(rec *model.MedicalRecord) bool { return rec.PatientID == patientID },
		func(rec *model.MedicalRecord) time.Time { return rec.Date })
	for i, rec := range list {
		cp := copyRecord(*rec)
		list[i] = &cp
	}
	return list, nil
}

type grantRepository struct{ s *Store }

func (s *Store) deleteGrantsLocked(subjectID uuid.UUID) int64 {
	var n int64
	for id, e := range s.grants {
		if e.v.SubjectID == subjectID {
			delete(s.grants, id)
			n++
		}
	}
	return n
}

func (r grantRepository) Get(ctx context.Context, id uuid.UUID) (*model.AccessGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.grants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	g := e.v
	return &g, nil
}

func (r grantRepository) CreateIfNoActive(ctx context.Context, grant *model.AccessGrant, now time.Time) (*model.AccessGrant, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var existing *model.AccessGrant
	for _, e := range r.s.grants {
		g := e.v
		if g.SubjectID != grant.SubjectID || g.RequestingUserID != grant.RequestingUserID || !g.IsActive(now) {
			continue
		}
		if existing == nil || g.GrantedAt.Before(existing.GrantedAt) {
			existing = &g
		}
	}
	if existing != nil {
		return existing, false, nil
	}

	r.s.grants[grant.ID] = entry[model.AccessGrant]{seq: r.s.next(), v: *grant}
	stored := *grant
	return &stored, true, nil
}

func (r grantRepository) Transition(ctx context.Context, id uuid.UUID, from model.GrantStatus, change repository.GrantChange) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.grants[id]
	if !ok || e.v.Status != from {
		return false, nil
	}
	reviewer := change.ReviewedBy
	at := change.At
	e.v.Status = change.To
	e.v.ReviewedBy = &reviewer
	e.v.ReviewedAt = &at
	if change.ExpiresAt != nil {
		exp := *change.ExpiresAt
		e.v.ExpiresAt = &exp
	}
	r.s.grants[id] = e
	return true, nil
}

func (r grantRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*model.AccessGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.grants, func(g *model.AccessGrant) bool { return g.SubjectID == subjectID },
		func(g *model.AccessGrant) time.Time { return g.GrantedAt }), nil
}

func (r grantRepository) ListByRequester(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sorted(r.s.grants, func(g *model.AccessGrant) bool { return g.RequestingUserID == userID },
		func(g *model.AccessGrant) time.Time { return g.GrantedAt }), nil
}

func (r grantRepository) DeleteBySubject(ctx context.Context, subjectID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deleteGrantsLocked(subjectID), nil
}

type auditRepository struct{ s *Store }

func (r auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *log)
	return nil
}

func (r auditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.AuditLog
	for i := range r.s.audit {
		if r.s.audit[i].EntityType == entityType && r.s.audit[i].EntityID == entityID {
			l := r.s.audit[i]
			out = append(out, &l)
		}
	}
	return out, nil
}

func (r auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.audit[:0]
	var n int64
	for _, l := range r.s.audit {
		if l.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.s.audit = kept
	return n, nil
}

type versionRepository struct{ s *Store }

func (r versionRepository) Create(ctx context.Context, v *model.EntityVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	max := 0
	for _, e := range r.s.versions {
		if e.v.EntityType == v.EntityType && e.v.EntityID == v.EntityID && e.v.Version > max {
			max = e.v.Version
		}
	}
	v.Version = max + 1
	r.s.versions[v.ID] = entry[model.EntityVersion]{seq: r.s.next(), v: *v}
	return nil
}

func (r versionRepository) Get(ctx context.Context, id uuid.UUID) (*model.EntityVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.versions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	v := e.v
	return &v, nil
}

func (r versionRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.EntityVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := sorted(r.s.versions, func(v *model.EntityVersion) bool {
		return v.EntityType == entityType && v.EntityID == entityID
	}, func(v *model.EntityVersion) time.Time { return v.CreatedAt })
	return list, nil
}

type outboxRepository struct{ s *Store }

func (r outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	r.s.outbox[event.ID] = entry[model.OutboxEvent]{seq: r.s.next(), v: *event}
	return nil
}

func (r outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	now := time.Now()
	list := sorted(r.s.outbox, func(e *model.OutboxEvent) bool {
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			return false
		}
		return e.RetryAt == nil || !e.RetryAt.After(now)
	}, func(e *model.OutboxEvent) time.Time { return e.CreatedAt })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	e.v.Status = status
	e.v.ErrorMessage = errorMessage
	e.v.RetryAt = retryAt
	e.v.UpdatedAt = now
	switch status {
	case model.OutboxStatusProcessed:
		e.v.ProcessedAt = &now
	case model.OutboxStatusRetry, model.OutboxStatusFailed:
		e.v.RetryCount++
	}
	r.s.outbox[id] = e
	return nil
}

func (r outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.outbox {
		if e.v.Status == model.OutboxStatusProcessed && e.v.ProcessedAt != nil && e.v.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}

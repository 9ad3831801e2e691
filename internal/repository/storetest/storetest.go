// Package storetest holds the behaviour every repository.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
)

// Run exercises newStore against the shared store contract. newStore must
// return an empty store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Patients", func(t *testing.T) { testPatients(t, newStore(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("MedicalRecords", func(t *testing.T) { testRecords(t, newStore(t)) })
	t.Run("GrantLifecycle", func(t *testing.T) { testGrantLifecycle(t, newStore(t)) })
	t.Run("GrantDuplicateCollapse", func(t *testing.T) { testGrantDuplicates(t, newStore(t)) })
	t.Run("DeleteCascadesGrants", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("AuditAndVersions", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewUser stores a user with the given role.
func NewUser(t *testing.T, s repository.Store, role model.Role) *model.User {
	t.Helper()
	id := uuid.New()
	u := &model.User{
		Base:         model.Base{ID: id, CreatedAt: base, UpdatedAt: base},
		Email:        id.String() + "@santetogo.test",
		Name:         string(role) + " " + id.String()[:8],
		Role:         role,
		PasswordHash: "x",
	}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u
}

func newPatient(t *testing.T, s repository.Store, doctorID *uuid.UUID) *model.Patient {
	t.Helper()
	u := NewUser(t, s, model.RolePatient)
	p := &model.Patient{Base: u.Base, Name: u.Name, DoctorID: doctorID}
	require.NoError(t, s.Patients().Create(context.Background(), p))
	return p
}

func newDocument(t *testing.T, s repository.Store, owner, uploader uuid.UUID, at time.Time) *model.Document {
	t.Helper()
	d := &model.Document{
		Base:       model.Base{ID: uuid.New(), CreatedAt: at, UpdatedAt: at},
		Name:       "scan.pdf",
		Type:       model.DocumentTypeMedicalTest,
		FileFormat: "pdf",
		FileSize:   2048,
		StorageKey: "documents/scan.pdf",
		UploaderID: uploader,
		OwnerID:    owner,
		IsPrivate:  true,
	}
	require.NoError(t, s.Documents().Create(context.Background(), d))
	return d
}

func pendingGrant(subject uuid.UUID, requester uuid.UUID, at time.Time) *model.AccessGrant {
	return &model.AccessGrant{
		ID:               uuid.New(),
		SubjectID:        subject,
		SubjectType:      model.SubjectTypeDocument,
		RequestingUserID: requester,
		GrantedByUserID:  requester,
		GrantedAt:        at,
		Status:           model.GrantStatusPending,
	}
}

func testUsers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := NewUser(t, s, model.RoleDoctor)

	got, err := s.Users().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, model.RoleDoctor, got.Role)

	byEmail, err := s.Users().GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.Users().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Users().GetByEmail(ctx, "nobody@santetogo.test")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testPatients(t *testing.T, s repository.Store) {
	ctx := context.Background()
	doctor := NewUser(t, s, model.RoleDoctor)
	p := newPatient(t, s, nil)

	p.DoctorID = &doctor.ID
	p.PINHash = "hash"
	ok, err := s.Patients().Update(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Patients().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.AssignedTo(doctor.ID))
	assert.True(t, got.HasPIN())

	list, err := s.Patients().ListByDoctor(ctx, doctor.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	missing := &model.Patient{Base: model.Base{ID: uuid.New()}}
	ok, err = s.Patients().Update(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDocuments(t *testing.T, s repository.Store) {
	ctx := context.Background()
	owner := NewUser(t, s, model.RolePatient)
	uploader := NewUser(t, s, model.RoleDoctor)
	first := newDocument(t, s, owner.ID, uploader.ID, base)
	second := newDocument(t, s, owner.ID, owner.ID, base.Add(time.Hour))

	owned, err := s.Documents().ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, first.ID, owned[0].ID)
	assert.Equal(t, second.ID, owned[1].ID)

	uploaded, err := s.Documents().ListByUploader(ctx, uploader.ID)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.Equal(t, first.ID, uploaded[0].ID)

	first.Name = "renamed.pdf"
	first.IsPrivate = false
	ok, err := s.Documents().Update(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Documents().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", got.Name)
	assert.False(t, got.IsPrivate)
	assert.Equal(t, uploader.ID, got.UploaderID)

	ok, err = s.Documents().Update(ctx, &model.Document{Base: model.Base{ID: uuid.New()}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Documents().Delete(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRecords(t *testing.T, s repository.Store) {
	ctx := context.Background()
	doctor := NewUser(t, s, model.RoleDoctor)
	p := newPatient(t, s, &doctor.ID)

	later := &model.MedicalRecord{
		Base:        model.Base{ID: uuid.New(), CreatedAt: base, UpdatedAt: base},
		PatientID:   p.ID,
		Type:        model.RecordTypeConsultation,
		Title:       "Follow-up",
		Date:        base.Add(48 * time.Hour),
		DoctorID:    &doctor.ID,
		Attachments: []model.Attachment{{Name: "ecg", Format: "png", StorageKey: "records/ecg.png"}},
		PINAccess:   true,
		IsApproved:  true,
		CreatedBy:   doctor.ID,
	}
	earlier := &model.MedicalRecord{
		Base:      model.Base{ID: uuid.New(), CreatedAt: base, UpdatedAt: base},
		PatientID: p.ID,
		Type:      model.RecordTypeSelfReport,
		Title:     "Headache",
		Date:      base,
		CreatedBy: p.ID,
	}
	require.NoError(t, s.MedicalRecords().Create(ctx, later))
	require.NoError(t, s.MedicalRecords().Create(ctx, earlier))

	got, err := s.MedicalRecords().Get(ctx, later.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "records/ecg.png", got.Attachments[0].StorageKey)
	assert.True(t, got.PINAccess)
	assert.True(t, got.IsApproved)

	list, err := s.MedicalRecords().ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, earlier.ID, list[0].ID)
	assert.Equal(t, later.ID, list[1].ID)

	earlier.IsApproved = true
	earlier.Title = "Migraine"
	ok, err := s.MedicalRecords().Update(ctx, earlier)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.MedicalRecords().Get(ctx, earlier.ID)
	require.NoError(t, err)
	assert.Equal(t, "Migraine", got.Title)
	assert.True(t, got.IsApproved)
	assert.Empty(t, got.Attachments)

	ok, err = s.MedicalRecords().Delete(ctx, earlier.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.MedicalRecords().Get(ctx, earlier.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testGrantLifecycle(t *testing.T, s repository.Store) {
	ctx := context.Background()
	owner := NewUser(t, s, model.RolePatient)
	requester := NewUser(t, s, model.RoleDoctor)
	doc := newDocument(t, s, owner.ID, owner.ID, base)

	g, created, err := s.Grants().CreateIfNoActive(ctx, pendingGrant(doc.ID, requester.ID, base), base)
	require.NoError(t, err)
	require.True(t, created)

	expires := base.Add(30 * 24 * time.Hour)
	ok, err := s.Grants().Transition(ctx, g.ID, model.GrantStatusPending, repository.GrantChange{
		To: model.GrantStatusApproved, ReviewedBy: owner.ID, At: base.Add(time.Minute), ExpiresAt: &expires,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// a second decision on the same grant loses the compare-and-set
	ok, err = s.Grants().Transition(ctx, g.ID, model.GrantStatusPending, repository.GrantChange{
		To: model.GrantStatusDenied, ReviewedBy: owner.ID, At: base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Grants().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusApproved, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, owner.ID, *got.ReviewedBy)
	assert.Equal(t, requester.ID, got.GrantedByUserID)

	ok, err = s.Grants().Transition(ctx, g.ID, model.GrantStatusApproved, repository.GrantChange{
		To: model.GrantStatusRevoked, ReviewedBy: owner.ID, At: base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.Grants().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusRevoked, got.Status)
	assert.True(t, got.ExpiresAt.Equal(expires))

	ok, err = s.Grants().Transition(ctx, uuid.New(), model.GrantStatusPending, repository.GrantChange{To: model.GrantStatusApproved})
	require.NoError(t, err)
	assert.False(t, ok)

	byRequester, err := s.Grants().ListByRequester(ctx, requester.ID)
	require.NoError(t, err)
	require.Len(t, byRequester, 1)
	assert.Equal(t, g.ID, byRequester[0].ID)
}

func testGrantDuplicates(t *testing.T, s repository.Store) {
	ctx := context.Background()
	owner := NewUser(t, s, model.RolePatient)
	requester := NewUser(t, s, model.RoleDoctor)
	doc := newDocument(t, s, owner.ID, owner.ID, base)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]int)
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, ok, err := s.Grants().CreateIfNoActive(ctx,
				pendingGrant(doc.ID, requester.ID, base.Add(time.Duration(i)*time.Millisecond)), base)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[g.ID]++
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	grants, err := s.Grants().ListBySubject(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	// once the approved grant has expired a fresh request is stored
	expires := base.Add(time.Hour)
	ok, err := s.Grants().Transition(ctx, grants[0].ID, model.GrantStatusPending, repository.GrantChange{
		To: model.GrantStatusApproved, ReviewedBy: owner.ID, At: base, ExpiresAt: &expires,
	})
	require.NoError(t, err)
	require.True(t, ok)

	again, created2, err := s.Grants().CreateIfNoActive(ctx, pendingGrant(doc.ID, requester.ID, base.Add(time.Minute)), base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, grants[0].ID, again.ID)

	after := expires.Add(time.Second)
	fresh, created3, err := s.Grants().CreateIfNoActive(ctx, pendingGrant(doc.ID, requester.ID, after), after)
	require.NoError(t, err)
	assert.True(t, created3)
	assert.NotEqual(t, grants[0].ID, fresh.ID)

	grants, err = s.Grants().ListBySubject(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, fresh.ID, grants[1].ID)
}

func testCascade(t *testing.T, s repository.Store) {
	ctx := context.Background()
	owner := NewUser(t, s, model.RolePatient)
	requester := NewUser(t, s, model.RoleDoctor)
	doc := newDocument(t, s, owner.ID, owner.ID, base)
	other := newDocument(t, s, owner.ID, owner.ID, base)

	_, _, err := s.Grants().CreateIfNoActive(ctx, pendingGrant(doc.ID, requester.ID, base), base)
	require.NoError(t, err)
	_, _, err = s.Grants().CreateIfNoActive(ctx, pendingGrant(other.ID, requester.ID, base), base)
	require.NoError(t, err)

	ok, err := s.Documents().Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	grants, err := s.Grants().ListBySubject(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	grants, err = s.Grants().ListBySubject(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	n, err := s.Grants().DeleteBySubject(ctx, other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	p := newPatient(t, s, nil)
	rec := &model.MedicalRecord{
		Base:      model.Base{ID: uuid.New(), CreatedAt: base, UpdatedAt: base},
		PatientID: p.ID,
		Type:      model.RecordTypeAllergy,
		Title:     "Penicillin",
		Date:      base,
		CreatedBy: p.ID,
	}
	require.NoError(t, s.MedicalRecords().Create(ctx, rec))
	recGrant := pendingGrant(rec.ID, requester.ID, base)
	recGrant.SubjectType = model.SubjectTypeMedicalRecord
	_, _, err = s.Grants().CreateIfNoActive(ctx, recGrant, base)
	require.NoError(t, err)

	ok, err = s.MedicalRecords().Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	grants, err = s.Grants().ListBySubject(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	ok, err = s.MedicalRecords().Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing entry reports false")
}

func testAudit(t *testing.T, s repository.Store) {
	ctx := context.Background()
	actor := uuid.New()
	entity := uuid.New()

	old := &model.AuditLog{ID: uuid.New(), ActorID: actor, Action: model.AuditActionCreate,
		EntityType: model.AuditEntityPatient, EntityID: entity, After: []byte(`{"name":"Afi"}`), CreatedAt: base}
	recent := &model.AuditLog{ID: uuid.New(), ActorID: actor, Action: model.AuditActionUpdate,
		EntityType: model.AuditEntityPatient, EntityID: entity,
		Before: []byte(`{"name":"Afi"}`), After: []byte(`{"name":"Afi K."}`), CreatedAt: base.Add(48 * time.Hour)}
	require.NoError(t, s.Audit().Create(ctx, old))
	require.NoError(t, s.Audit().Create(ctx, recent))

	logs, err := s.Audit().ListByEntity(ctx, model.AuditEntityPatient, entity)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionCreate, logs[0].Action)
	assert.JSONEq(t, `{"name":"Afi K."}`, string(logs[1].After))

	n, err := s.Audit().Cleanup(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	logs, err = s.Audit().ListByEntity(ctx, model.AuditEntityPatient, entity)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, recent.ID, logs[0].ID)

	first := &model.EntityVersion{ID: uuid.New(), EntityType: model.AuditEntityPatient, EntityID: entity,
		Snapshot: []byte(`{"v":1}`), ActorID: actor, CreatedAt: base}
	require.NoError(t, s.Versions().Create(ctx, first))
	assert.Equal(t, 1, first.Version)

	second := &model.EntityVersion{ID: uuid.New(), EntityType: model.AuditEntityPatient, EntityID: entity,
		Snapshot: []byte(`{"v":2}`), ActorID: actor, RestoredFrom: &first.ID, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.Versions().Create(ctx, second))
	assert.Equal(t, 2, second.Version)

	got, err := s.Versions().Get(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RestoredFrom)
	assert.Equal(t, first.ID, *got.RestoredFrom)
	assert.JSONEq(t, `{"v":2}`, string(got.Snapshot))

	versions, err := s.Versions().ListByEntity(ctx, model.AuditEntityPatient, entity)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)

	_, err = s.Versions().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testOutbox(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ev := &model.OutboxEvent{EventType: model.EventAccessRequested, Payload: []byte(`{"grant_id":"x"}`)}
	require.NoError(t, s.Outbox().Create(ctx, ev))
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, model.OutboxStatusPending, ev.Status)

	pending, err := s.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)

	msg := "broker down"
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.Outbox().UpdateStatus(ctx, ev.ID, model.OutboxStatusRetry, &msg, &future))
	pending, err = s.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.Outbox().UpdateStatus(ctx, ev.ID, model.OutboxStatusProcessed, nil, nil))
	n, err := s.Outbox().DeleteProcessedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

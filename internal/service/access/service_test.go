package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditCall struct {
	actorID uuid.UUID
	action  string
	before  interface{}
	after   interface{}
}

type recordingAuditor struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *recordingAuditor) LogAuditAction(_ context.Context, actorID uuid.UUID, action, _ string, _ uuid.UUID,
	before, after interface{}, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{actorID: actorID, action: action, before: before, after: after})
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) GrantChanged(_ context.Context, eventType string, _ *model.AccessGrant, _ *Subject) {
	o.events = append(o.events, eventType)
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	auditor  *recordingAuditor
	observer *recordingObserver
	svc      *Service

	patient uuid.UUID
	doctor  uuid.UUID
	other   uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		clock:    newFakeClock(),
		auditor:  &recordingAuditor{},
		observer: &recordingObserver{},
		patient:  uuid.New(),
		doctor:   uuid.New(),
		other:    uuid.New(),
	}
	ctx := context.Background()
	for id, role := range map[uuid.UUID]model.Role{f.patient: model.RolePatient, f.doctor: model.RoleDoctor, f.other: model.RoleDoctor} {
		require.NoError(t, f.store.Users().Create(ctx, &model.User{Base: model.Base{ID: id}, Role: role}))
	}
	require.NoError(t, f.store.Patients().Create(ctx, &model.Patient{Base: model.Base{ID: f.patient}, Name: "Afi"}))

	opts = append([]Option{
		WithClock(f.clock.Now),
		WithAuditor(f.auditor),
		WithObserver(f.observer),
	}, opts...)
	f.svc = NewService(f.store, Config{}, opts...)
	return f
}

func (f *fixture) document(t *testing.T, owner, uploader uuid.UUID, private bool) *model.Document {
	t.Helper()
	d := &model.Document{
		Base:       model.Base{ID: uuid.New(), CreatedAt: f.clock.Now()},
		Name:       "ordonnance.pdf",
		Type:       model.DocumentTypePrescription,
		UploaderID: uploader,
		OwnerID:    owner,
		IsPrivate:  private,
	}
	require.NoError(t, f.store.Documents().Create(context.Background(), d))
	return d
}

func (f *fixture) record(t *testing.T, author uuid.UUID) *model.MedicalRecord {
	t.Helper()
	r := &model.MedicalRecord{
		Base:      model.Base{ID: uuid.New(), CreatedAt: f.clock.Now()},
		PatientID: f.patient,
		Type:      model.RecordTypeAllergy,
		Title:     "Penicillin",
		Date:      f.clock.Now(),
		CreatedBy: author,
	}
	require.NoError(t, f.store.MedicalRecords().Create(context.Background(), r))
	return r
}

func TestCanViewPublicDocument(t *testing.T) {
	f := newFixture(t)
	d := f.document(t, f.patient, f.patient, false)

	for _, user := range []uuid.UUID{f.patient, f.doctor, f.other, uuid.New()} {
		assert.True(t, f.svc.CanView(context.Background(), user, d.ID))
	}
}

func TestCanViewOwnerAndUploaderBypass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, private := range []bool{true, false} {
		d := f.document(t, f.patient, f.doctor, private)
		assert.True(t, f.svc.CanView(ctx, f.patient, d.ID))
		assert.True(t, f.svc.CanView(ctx, f.doctor, d.ID))
	}

	private := f.document(t, f.patient, f.doctor, true)
	assert.False(t, f.svc.CanView(ctx, f.other, private.ID))
}

func TestCanViewMissingSubjectIsFalse(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.svc.CanView(context.Background(), f.patient, uuid.New()))
}

func TestRequestAccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	first, created, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.GrantStatusPending, first.Status)
	assert.Equal(t, f.doctor, first.GrantedByUserID)
	assert.Equal(t, model.SubjectTypeDocument, first.SubjectType)
	assert.True(t, first.GrantedAt.Equal(f.clock.Now()))
	assert.Nil(t, first.ExpiresAt)

	f.clock.Advance(time.Minute)
	second, created, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	grants, err := f.store.Grants().ListBySubject(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
	assert.Equal(t, []string{model.EventAccessRequested}, f.observer.events)
}

func TestRequestAccessConcurrentDuplicatesCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[uuid.UUID]struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
			if assert.NoError(t, err) {
				mu.Lock()
				ids[g.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestRequestAccessShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	private := f.document(t, f.patient, f.doctor, true)
	public := f.document(t, f.patient, f.patient, false)

	_, _, err := f.svc.RequestAccess(ctx, private.ID, f.patient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrAlreadyHasAccess))
	_, _, err = f.svc.RequestAccess(ctx, private.ID, f.doctor)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrAlreadyHasAccess))
	_, _, err = f.svc.RequestAccess(ctx, public.ID, f.other)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrAlreadyHasAccess))

	_, _, err = f.svc.RequestAccess(ctx, uuid.New(), f.other)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	grants, err := f.store.Grants().ListBySubject(ctx, private.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestApprovedGrantExpiresWithoutStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	assert.False(t, f.svc.CanView(ctx, f.doctor, d.ID))

	approved, err := f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusApproved, approved.Status)
	require.NotNil(t, approved.ExpiresAt)
	assert.True(t, approved.ExpiresAt.Equal(f.clock.Now().Add(30*24*time.Hour)))
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, f.patient, *approved.ReviewedBy)
	assert.Equal(t, f.doctor, approved.GrantedByUserID)

	assert.True(t, f.svc.CanView(ctx, f.doctor, d.ID))
	assert.False(t, f.svc.CanView(ctx, f.other, d.ID))

	f.clock.Advance(30*24*time.Hour - time.Second)
	assert.True(t, f.svc.CanView(ctx, f.doctor, d.ID))

	// at ExpiresAt itself access has stopped
	f.clock.Advance(time.Second)
	assert.False(t, f.svc.CanView(ctx, f.doctor, d.ID))

	stored, err := f.store.Grants().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusApproved, stored.Status)

	active, err := f.svc.ListActiveGrantsFor(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// an expired grant no longer blocks a fresh request
	fresh, created, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, g.ID, fresh.ID)
}

func TestDecideDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)

	denied, err := f.svc.Decide(ctx, g.ID, f.patient, false)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusDenied, denied.Status)
	assert.Nil(t, denied.ExpiresAt)
	assert.False(t, f.svc.CanView(ctx, f.doctor, d.ID))

	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	assert.Equal(t, []string{model.EventAccessRequested, model.EventAccessDenied}, f.observer.events)
}

func TestDecideByNonOwnerIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// the uploader is not the owner and cannot decide
	d := f.document(t, f.patient, f.other, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)

	for _, actor := range []uuid.UUID{f.doctor, f.other, uuid.New()} {
		_, err = f.svc.Decide(ctx, g.ID, actor, true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	}

	stored, err := f.store.Grants().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusPending, stored.Status)
	assert.Nil(t, stored.ReviewedBy)
}

func TestDecideUnknownGrant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Decide(context.Background(), uuid.New(), f.patient, true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestConcurrentDecisionsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)
	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, g.ID, f.patient, approve)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)

	err = f.svc.Revoke(ctx, g.ID, f.patient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState), "pending grants cannot be revoked")

	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)
	require.True(t, f.svc.CanView(ctx, f.doctor, d.ID))

	err = f.svc.Revoke(ctx, g.ID, f.doctor)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	require.NoError(t, f.svc.Revoke(ctx, g.ID, f.patient))
	assert.False(t, f.svc.CanView(ctx, f.doctor, d.ID))

	// second revoke is a no-op
	require.NoError(t, f.svc.Revoke(ctx, g.ID, f.patient))

	stored, err := f.store.Grants().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantStatusRevoked, stored.Status)

	assert.Equal(t, []string{model.EventAccessRequested, model.EventAccessApproved, model.EventAccessRevoked},
		f.observer.events)
}

func TestRevokeDeniedGrantIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)
	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, g.ID, f.patient, false)
	require.NoError(t, err)

	err = f.svc.Revoke(ctx, g.ID, f.patient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))
}

type adminAuthority struct{ admin uuid.UUID }

func (a adminAuthority) Authorize(ctx context.Context, action Action, actorID uuid.UUID, subject *Subject) (bool, error) {
	return actorID == a.admin || subject.OwnerID == actorID, nil
}

func TestInjectedAuthority(t *testing.T) {
	admin := uuid.New()
	f := newFixture(t, WithAuthority(adminAuthority{admin: admin}))
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)
	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, g.ID, admin, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, g.ID, admin))
}

func TestListActiveGrantsForOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	third := uuid.New()
	var ids []uuid.UUID
	for _, requester := range []uuid.UUID{f.doctor, f.other, third} {
		g, _, err := f.svc.RequestAccess(ctx, d.ID, requester)
		require.NoError(t, err)
		ids = append(ids, g.ID)
		f.clock.Advance(time.Minute)
	}

	_, err := f.svc.Decide(ctx, ids[2], f.patient, true)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, ids[0], f.patient, true)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, ids[1], f.patient, false)
	require.NoError(t, err)

	active, err := f.svc.ListActiveGrantsFor(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[0], active[0].ID)
	assert.Equal(t, ids[2], active[1].ID)
}

func TestDoctorCanAccessPatientIsIndependentOfGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.store.Patients().Get(ctx, f.patient)
	require.NoError(t, err)
	p.DoctorID = &f.doctor
	_, err = f.store.Patients().Update(ctx, p)
	require.NoError(t, err)

	// the other doctor holds an approved grant on one of the patient's documents
	d := f.document(t, f.patient, f.patient, true)
	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.other)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)

	assert.True(t, f.svc.CanView(ctx, f.other, d.ID))
	assert.False(t, f.svc.DoctorCanAccessPatient(ctx, f.other, f.patient))
	assert.True(t, f.svc.DoctorCanAccessPatient(ctx, f.doctor, f.patient))
	assert.False(t, f.svc.DoctorCanAccessPatient(ctx, f.doctor, uuid.New()))

	// assignment does not open documents either
	assert.False(t, f.svc.CanView(ctx, f.doctor, d.ID))
}

func TestDeletingDocumentCascadesGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)

	ok, err := f.store.Documents().Delete(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, ok)

	grants, err := f.store.Grants().ListBySubject(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
	for _, user := range []uuid.UUID{f.patient, f.doctor, f.other} {
		assert.False(t, f.svc.CanView(ctx, user, d.ID))
	}
	_, err = f.store.Grants().Get(ctx, g.ID)
	assert.Error(t, err)
}

func TestMedicalRecordSubjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.record(t, f.doctor)

	subject, err := f.svc.ResolveSubject(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubjectTypeMedicalRecord, subject.Type)
	assert.Equal(t, f.patient, subject.OwnerID)
	assert.True(t, subject.IsPrivate)

	assert.True(t, f.svc.CanView(ctx, f.patient, r.ID))
	assert.True(t, f.svc.CanView(ctx, f.doctor, r.ID))
	assert.False(t, f.svc.CanView(ctx, f.other, r.ID))

	g, _, err := f.svc.RequestAccess(ctx, r.ID, f.other)
	require.NoError(t, err)
	assert.Equal(t, model.SubjectTypeMedicalRecord, g.SubjectType)

	incoming, err := f.svc.ListIncomingRequests(ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, g.ID, incoming[0].ID)

	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)
	assert.True(t, f.svc.CanView(ctx, f.other, r.ID))

	incoming, err = f.svc.ListIncomingRequests(ctx, f.patient)
	require.NoError(t, err)
	assert.Empty(t, incoming)

	permitted, err := f.svc.ListPermittedFor(ctx, f.other)
	require.NoError(t, err)
	require.Len(t, permitted, 1)
	assert.Equal(t, r.ID, permitted[0].SubjectID)
}

func TestGrantMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)

	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	_, _, err = f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, g.ID, f.patient))

	require.Len(t, f.auditor.calls, 3)
	assert.Equal(t, model.AuditActionRequest, f.auditor.calls[0].action)
	assert.Nil(t, f.auditor.calls[0].before)
	assert.Equal(t, model.AuditActionDecide, f.auditor.calls[1].action)
	assert.Equal(t, model.GrantStatusPending, f.auditor.calls[1].before.(*model.AccessGrant).Status)
	assert.Equal(t, model.GrantStatusApproved, f.auditor.calls[1].after.(*model.AccessGrant).Status)
	assert.Equal(t, model.AuditActionRevoke, f.auditor.calls[2].action)
	assert.Equal(t, f.patient, f.auditor.calls[2].actorID)
}

func TestCustomGrantValidity(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore()
	svc := NewService(store, Config{GrantValidity: time.Hour}, WithClock(clock.Now))
	assert.Equal(t, time.Hour, svc.GrantValidity())
	assert.Equal(t, DefaultGrantValidity, NewService(store, Config{}).GrantValidity())
}

// grantIn drives a fresh grant on a new document into status.
func (f *fixture) grantIn(t *testing.T, status model.GrantStatus) *model.AccessGrant {
	t.Helper()
	ctx := context.Background()
	d := f.document(t, f.patient, f.patient, true)
	g, _, err := f.svc.RequestAccess(ctx, d.ID, f.doctor)
	require.NoError(t, err)
	switch status {
	case model.GrantStatusApproved:
		g, err = f.svc.Decide(ctx, g.ID, f.patient, true)
	case model.GrantStatusDenied:
		g, err = f.svc.Decide(ctx, g.ID, f.patient, false)
	case model.GrantStatusRevoked:
		g, err = f.svc.Decide(ctx, g.ID, f.patient, true)
		require.NoError(t, err)
		err = f.svc.Revoke(ctx, g.ID, f.patient)
		g.Status = model.GrantStatusRevoked
	}
	require.NoError(t, err)
	require.Equal(t, status, g.Status)
	return g
}

func TestGrantOperationsFollowLifecycle(t *testing.T) {
	statuses := []model.GrantStatus{
		model.GrantStatusPending, model.GrantStatusApproved, model.GrantStatusDenied, model.GrantStatusRevoked,
	}
	for _, from := range statuses {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			for _, approve := range []bool{true, false} {
				to := model.GrantStatusDenied
				if approve {
					to = model.GrantStatusApproved
				}
				g := f.grantIn(t, from)
				_, err := f.svc.Decide(ctx, g.ID, f.patient, approve)
				if from.CanTransitionTo(to) {
					assert.NoError(t, err, "decide %s -> %s", from, to)
				} else {
					assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState), "decide %s -> %s", from, to)
				}
			}

			g := f.grantIn(t, from)
			err := f.svc.Revoke(ctx, g.ID, f.patient)
			switch {
			case from == model.GrantStatusRevoked:
				assert.NoError(t, err, "revoking twice is a no-op")
			case from.CanTransitionTo(model.GrantStatusRevoked):
				assert.NoError(t, err)
			default:
				assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState), "revoke from %s", from)
			}
		})
	}
}

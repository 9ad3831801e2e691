package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGrantStatusTransitions(t *testing.T) {
	all := []GrantStatus{GrantStatusPending, GrantStatusApproved, GrantStatusDenied, GrantStatusRevoked}
	allowed := map[GrantStatus][]GrantStatus{
		GrantStatusPending:  {GrantStatusApproved, GrantStatusDenied},
		GrantStatusApproved: {GrantStatusRevoked},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestAccessGrantDerivedExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	g := &AccessGrant{Status: GrantStatusApproved, ExpiresAt: &expires}
	assert.True(t, g.Permits(now))
	assert.True(t, g.IsActive(now))

	later := expires.Add(time.Second)
	assert.False(t, g.Permits(later))
	assert.False(t, g.IsActive(later))
	assert.Equal(t, GrantStatusApproved, g.Status)

	// the boundary instant itself is already expired
	assert.False(t, g.Permits(expires))
}

func TestAccessGrantPendingIsActiveButDoesNotPermit(t *testing.T) {
	now := time.Now()
	g := &AccessGrant{Status: GrantStatusPending}

	assert.True(t, g.IsActive(now))
	assert.False(t, g.Permits(now))
}

func TestAccessGrantWithoutExpiryNeverLapses(t *testing.T) {
	g := &AccessGrant{Status: GrantStatusApproved}
	assert.True(t, g.Permits(time.Now().AddDate(50, 0, 0)))
}

func TestTerminalGrantsAreInactive(t *testing.T) {
	now := time.Now()
	for _, s := range []GrantStatus{GrantStatusDenied, GrantStatusRevoked} {
		g := &AccessGrant{Status: s}
		assert.False(t, g.IsActive(now), s)
		assert.False(t, g.Permits(now), s)
	}
}

func TestEnumParsing(t *testing.T) {
	_, err := ParseDocumentType("report")
	assert.NoError(t, err)
	_, err = ParseDocumentType("selfie")
	assert.Error(t, err)

	_, err = ParseRecordType("SELF_REPORT")
	assert.NoError(t, err)
	_, err = ParseRecordType("self_report")
	assert.Error(t, err)

	r, err := ParseRole("secretary")
	assert.NoError(t, err)
	assert.True(t, r.IsStaff())
	_, err = ParseRole("nurse")
	assert.Error(t, err)
}

func TestMedicalRecordAttachmentsRoundTripAndRedaction(t *testing.T) {
	rec := &MedicalRecord{
		Description: "blood panel",
		Attachments: []Attachment{{Name: "panel.pdf", Format: "pdf", StorageKey: "s3://b/panel.pdf"}},
	}
	assert.NoError(t, rec.MarshalAttachments())
	rec.Attachments = nil
	assert.NoError(t, rec.UnmarshalAttachments())
	assert.Len(t, rec.Attachments, 1)

	red := rec.RedactedCopy()
	assert.True(t, red.Redacted)
	assert.Empty(t, red.Description)
	assert.Nil(t, red.Attachments)
	assert.Equal(t, "blood panel", rec.Description)
}

package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/santetogo/records-api/internal/model"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// PINVerifier checks a caller-supplied code against a patient's record PIN.
type PINVerifier interface {
	Verify(ctx context.Context, patientID, userID uuid.UUID, code string) error
}

// pinGate applies the record PIN gate to medical record snapshots. A snapshot
// of a PIN-gated entry, or of an entry that is PIN-gated now, comes back
// redacted unless the caller sent the patient's PIN.
type pinGate struct {
	ctx      context.Context
	pins     PINVerifier
	userID   uuid.UUID
	code     string
	current  *model.MedicalRecord
	verified map[uuid.UUID]error
}

func (g *pinGate) snapshot(raw types.JSONText) (types.JSONText, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	snap, err := model.DecodeRecordSnapshot(raw)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !snap.PINAccess && (g.current == nil || !g.current.PINAccess) {
		return raw, nil
	}
	if g.code != "" {
		if err := g.verify(snap.PatientID); err != nil {
			return nil, err
		}
		return raw, nil
	}
	out, err := json.Marshal(snap.RedactedCopy())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return types.JSONText(out), nil
}

// verify runs one PIN check per patient so a wrong code counts once per request.
func (g *pinGate) verify(patientID uuid.UUID) error {
	if err, ok := g.verified[patientID]; ok {
		return err
	}
	err := g.pins.Verify(g.ctx, patientID, g.userID, g.code)
	g.verified[patientID] = err
	return err
}

func (g *pinGate) versions(in []*model.EntityVersion) ([]*model.EntityVersion, error) {
	out := make([]*model.EntityVersion, 0, len(in))
	for _, v := range in {
		gated, err := g.version(v)
		if err != nil {
			return nil, err
		}
		out = append(out, gated)
	}
	return out, nil
}

func (g *pinGate) version(v *model.EntityVersion) (*model.EntityVersion, error) {
	snap, err := g.snapshot(v.Snapshot)
	if err != nil {
		return nil, err
	}
	cp := *v
	cp.Snapshot = snap
	return &cp, nil
}

func (g *pinGate) logs(in []*model.AuditLog) ([]*model.AuditLog, error) {
	out := make([]*model.AuditLog, 0, len(in))
	for _, l := range in {
		before, err := g.snapshot(l.Before)
		if err != nil {
			return nil, err
		}
		after, err := g.snapshot(l.After)
		if err != nil {
			return nil, err
		}
		cp := *l
		cp.Before = before
		cp.After = after
		out = append(out, &cp)
	}
	return out, nil
}

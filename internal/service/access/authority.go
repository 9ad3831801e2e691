package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
)

// Action names a grant-management operation that needs authority.
type Action string

const (
	ActionDecide Action = "decide"
	ActionRevoke Action = "revoke"
)

// Authority decides whether actorID may perform action on the grants of
// subject.
type Authority interface {
	Authorize(ctx context.Context, action Action, actorID uuid.UUID, subject *Subject) (bool, error)
}

// OwnerAuthority lets only the subject owner manage its grants.
type OwnerAuthority struct{}

func (OwnerAuthority) Authorize(_ context.Context, _ Action, actorID uuid.UUID, subject *Subject) (bool, error) {
	return subject.OwnerID == actorID, nil
}

// Auditor receives every grant mutation. Implementations must not fail the
// caller.
type Auditor interface {
	LogAuditAction(ctx context.Context, actorID uuid.UUID, action, entityType string, entityID uuid.UUID,
		before, after interface{}, details string)
}

// Observer is told about grant lifecycle changes after they are stored.
type Observer interface {
	GrantChanged(ctx context.Context, eventType string, grant *model.AccessGrant, subject *Subject)
}

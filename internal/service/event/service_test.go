package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/internal/service/access"
)

func TestGrantLifecycleLandsInOutbox(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	events := NewEventService(store.Outbox())
	engine := access.NewService(store, access.Config{}, access.WithObserver(events))

	owner, requester := uuid.New(), uuid.New()
	doc := &model.Document{Base: model.Base{ID: uuid.New()}, Name: "bilan.pdf", Type: model.DocumentTypeReport,
		OwnerID: owner, UploaderID: owner, IsPrivate: true}
	require.NoError(t, store.Documents().Create(ctx, doc))

	g, _, err := engine.RequestAccess(ctx, doc.ID, requester)
	require.NoError(t, err)
	_, err = engine.Decide(ctx, g.ID, owner, true)
	require.NoError(t, err)

	pending, err := store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	types := []string{pending[0].EventType, pending[1].EventType}
	assert.ElementsMatch(t, []string{model.EventAccessRequested, model.EventAccessApproved}, types)

	for _, e := range pending {
		var payload model.GrantEvent
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		assert.Equal(t, g.ID, payload.GrantID)
		assert.Equal(t, owner, payload.OwnerID)
		assert.Equal(t, requester, payload.RequestingUserID)
		if e.EventType == model.EventAccessApproved {
			assert.Equal(t, model.GrantStatusApproved, payload.Status)
			assert.NotNil(t, payload.ExpiresAt)
		}
	}
}

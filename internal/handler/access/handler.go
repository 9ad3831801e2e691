package access

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/model"
	accesssvc "github.com/santetogo/records-api/internal/service/access"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// Engine is the part of the access policy engine exposed over HTTP.
type Engine interface {
	ResolveSubject(ctx context.Context, subjectID uuid.UUID) (*accesssvc.Subject, error)
	RequestAccess(ctx context.Context, subjectID, requesterID uuid.UUID) (*model.AccessGrant, bool, error)
	Decide(ctx context.Context, grantID, deciderID uuid.UUID, approve bool) (*model.AccessGrant, error)
	Revoke(ctx context.Context, grantID, actorID uuid.UUID) error
	ListIncomingRequests(ctx context.Context, ownerID uuid.UUID) ([]*model.AccessGrant, error)
	ListOutgoingRequests(ctx context.Context, requesterID uuid.UUID) ([]*model.AccessGrant, error)
	ListPermittedFor(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error)
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/documents/:id/access-requests", h.requestFor(model.SubjectTypeDocument))
	r.POST("/medical-records/:id/access-requests", h.requestFor(model.SubjectTypeMedicalRecord))

	requests := r.Group("/access-requests")
	{
		requests.GET("", h.ListRequests)
		requests.PATCH("/:id", h.Decide)
		requests.DELETE("/:id", h.Revoke)
	}
}

// requestFor answers 201 for a new pending grant and 200 when the caller
// already had an active one.
func (h *Handler) requestFor(kind model.SubjectType) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := handler.Actor(c)
		if !ok {
			return
		}
		subjectID, ok := handler.ParseID(c, "id")
		if !ok {
			return
		}

		subject, err := h.engine.ResolveSubject(c.Request.Context(), subjectID)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		if subject.Type != kind {
			handler.Fail(c, apperrors.NotFound(string(kind), nil))
			return
		}

		grant, created, err := h.engine.RequestAccess(c.Request.Context(), subjectID, actor.UserID)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, handler.NewSuccessResponse(grant))
	}
}

func (h *Handler) Decide(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	grantID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.DecideAccessRequest
	if !handler.Bind(c, &req) {
		return
	}

	grant, err := h.engine.Decide(c.Request.Context(), grantID, actor.UserID, *req.Approve)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(grant))
}

func (h *Handler) Revoke(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	grantID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.engine.Revoke(c.Request.Context(), grantID, actor.UserID); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRequests lists incoming (pending on what the caller owns), outgoing
// (everything the caller asked for) or permitted (currently readable) grants.
func (h *Handler) ListRequests(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	var (
		grants []*model.AccessGrant
		err    error
	)
	switch c.DefaultQuery("direction", "incoming") {
	case "incoming":
		grants, err = h.engine.ListIncomingRequests(c.Request.Context(), actor.UserID)
	case "outgoing":
		grants, err = h.engine.ListOutgoingRequests(c.Request.Context(), actor.UserID)
	case "permitted":
		grants, err = h.engine.ListPermittedFor(c.Request.Context(), actor.UserID)
	default:
		handler.Fail(c, apperrors.BadRequest("direction must be incoming, outgoing or permitted", nil))
		return
	}
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if grants == nil {
		grants = []*model.AccessGrant{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(grants))
}

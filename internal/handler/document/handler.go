package document

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

type Service interface {
	Upload(ctx context.Context, actor auth.Actor, req *model.CreateDocumentRequest) (*model.Document, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Document, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req *model.UpdateDocumentRequest) (*model.Document, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	ListOwned(ctx context.Context, actor auth.Actor) ([]*model.Document, error)
	ListUploaded(ctx context.Context, actor auth.Actor) ([]*model.Document, error)
	ListShared(ctx context.Context, actor auth.Actor) ([]*model.Document, error)
	ActiveGrants(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*model.AccessGrant, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	documents := r.Group("/documents")
	{
		documents.POST("", h.Upload)
		documents.GET("", h.List)
		documents.GET("/:id", h.Get)
		documents.PATCH("/:id", h.Update)
		documents.DELETE("/:id", h.Delete)
		documents.GET("/:id/access-grants", h.ActiveGrants)
	}
}

func (h *Handler) Upload(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.CreateDocumentRequest
	if !handler.Bind(c, &req) {
		return
	}

	doc, err := h.service.Upload(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(doc))
}

// Get returns the document only when the caller can view it.
func (h *Handler) Get(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	doc, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(doc))
}

func (h *Handler) Update(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateDocumentRequest
	if !handler.Bind(c, &req) {
		return
	}

	doc, err := h.service.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(doc))
}

func (h *Handler) Delete(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List serves ?scope=owned (default), uploaded or shared.
func (h *Handler) List(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	var (
		docs []*model.Document
		err  error
	)
	switch c.DefaultQuery("scope", "owned") {
	case "owned":
		docs, err = h.service.ListOwned(c.Request.Context(), actor)
	case "uploaded":
		docs, err = h.service.ListUploaded(c.Request.Context(), actor)
	case "shared":
		docs, err = h.service.ListShared(c.Request.Context(), actor)
	default:
		handler.Fail(c, apperrors.BadRequest("scope must be owned, uploaded or shared", nil))
		return
	}
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(docs))
}

func (h *Handler) ActiveGrants(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	grants, err := h.service.ActiveGrants(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if grants == nil {
		grants = []*model.AccessGrant{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(grants))
}

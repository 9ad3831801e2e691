package record

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/middleware"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/pkg/auth"
)

type Service interface {
	Create(ctx context.Context, actor auth.Actor, patientID uuid.UUID, req *model.CreateMedicalRecordRequest) (*model.MedicalRecord, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID, code string) (*model.MedicalRecord, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req *model.UpdateMedicalRecordRequest) (*model.MedicalRecord, error)
	Approve(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.MedicalRecord, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	ListByPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*model.MedicalRecord, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/patients/:id/records", h.Create)
	r.GET("/patients/:id/records", h.ListByPatient)

	records := r.Group("/medical-records")
	{
		records.GET("/:id", h.Get)
		records.PATCH("/:id", h.Update)
		records.POST("/:id/approve", h.Approve)
		records.DELETE("/:id", h.Delete)
	}
}

func (h *Handler) Create(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	patientID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.CreateMedicalRecordRequest
	if !handler.Bind(c, &req) {
		return
	}

	rec, err := h.service.Create(c.Request.Context(), actor, patientID, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(rec))
}

// Get reads the PIN from the X-Record-PIN header. Without it a PIN-gated
// entry comes back redacted.
func (h *Handler) Get(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), actor, id, c.GetHeader(middleware.HeaderRecordPIN))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
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
	var req model.UpdateMedicalRecordRequest
	if !handler.Bind(c, &req) {
		return
	}

	rec, err := h.service.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) Approve(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.service.Approve(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
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

func (h *Handler) ListByPatient(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	patientID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	records, err := h.service.ListByPatient(c.Request.Context(), actor, patientID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if records == nil {
		records = []*model.MedicalRecord{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

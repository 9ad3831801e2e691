package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/service/patient"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

type Handler struct {
	service patient.PatientService
}

func NewHandler(service patient.PatientService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.CreatePatient)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id/doctor", h.AssignDoctor)
		patients.PUT("/:id/pin", h.SetPIN)
	}
	r.GET("/doctors/:id/patients", h.ListForDoctor)
}

func (h *Handler) CreatePatient(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.CreatePatientRequest
	if !handler.Bind(c, &req) {
		return
	}

	p, err := h.service.CreatePatient(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

func (h *Handler) GetPatient(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	p, err := h.service.GetPatient(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

// AssignDoctor sets the assigned doctor; a null doctor_id clears it.
func (h *Handler) AssignDoctor(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.AssignDoctorRequest
	if !handler.Bind(c, &req) {
		return
	}

	var doctorID *uuid.UUID
	if req.DoctorID != nil {
		parsed, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			handler.Fail(c, apperrors.BadRequest("invalid doctor_id", err))
			return
		}
		doctorID = &parsed
	}

	p, err := h.service.AssignDoctor(c.Request.Context(), actor, id, doctorID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) SetPIN(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.SetPINRequest
	if !handler.Bind(c, &req) {
		return
	}

	if err := h.service.SetPIN(c.Request.Context(), actor, id, req.PIN); err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("PIN updated"))
}

func (h *Handler) ListForDoctor(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	doctorID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	patients, err := h.service.ListForDoctor(c.Request.Context(), actor, doctorID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if patients == nil {
		patients = []*model.Patient{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(patients))
}

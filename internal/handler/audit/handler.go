package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/middleware"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

type Service interface {
	ListAuditLogs(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error)
	ListVersions(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.EntityVersion, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*model.EntityVersion, error)
	RestoreEntityVersion(ctx context.Context, actorID, versionID uuid.UUID) (*model.EntityVersion, error)
}

type Handler struct {
	service Service
	records repository.MedicalRecordRepository
	pins    PINVerifier
}

// NewHandler needs the record store to let patients read the version
// history of their own entries, and pins to hold record history behind the
// same PIN gate as the entries themselves.
func NewHandler(service Service, records repository.MedicalRecordRepository, pins PINVerifier) *Handler {
	return &Handler{service: service, records: records, pins: pins}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/:type/:id/logs", h.GetEntityLogs)
		audit.GET("/:type/:id/versions", h.ListVersions)
	}
	versions := r.Group("/versions")
	{
		versions.GET("/:id", h.GetVersion)
		versions.POST("/:id/restore", h.RestoreVersion)
	}
}

// GetEntityLogs is admin only. ?format=csv streams an export.
func (h *Handler) GetEntityLogs(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	if actor.Role != model.RoleAdmin {
		handler.Fail(c, apperrors.NewForbidden("only admins can read audit logs"))
		return
	}
	entityID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	entityType := c.Param("type")

	logs, err := h.service.ListAuditLogs(c.Request.Context(), entityType, entityID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		gate, err := h.gateFor(c, actor, entityType, entityID)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		if gate != nil {
			if logs, err = gate.logs(logs); err != nil {
				handler.Fail(c, err)
				return
			}
		}
		if logs == nil {
			logs = []*model.AuditLog{}
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
	case "csv":
		filename := fmt.Sprintf("audit_%s_%s_%s.csv", entityType, entityID, time.Now().UTC().Format("20060102_150405"))
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
		c.Status(http.StatusOK)

		writer := csv.NewWriter(c.Writer)
		_ = writer.Write([]string{"ID", "Actor ID", "Action", "Entity Type", "Entity ID", "Details", "IP Address", "Request ID", "Created At"})
		for _, l := range logs {
			_ = writer.Write([]string{
				l.ID.String(),
				l.ActorID.String(),
				l.Action,
				l.EntityType,
				l.EntityID.String(),
				l.Details,
				l.IPAddress,
				l.RequestID,
				l.CreatedAt.Format(time.RFC3339),
			})
		}
		writer.Flush()
	default:
		handler.Fail(c, apperrors.BadRequest("unsupported format", nil))
	}
}

// ListVersions is open to admins and to the patient the entity belongs to.
// Snapshots of PIN-gated entries are redacted unless X-Record-PIN is sent.
func (h *Handler) ListVersions(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	entityID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	entityType := c.Param("type")

	gate, err := h.gateFor(c, actor, entityType, entityID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if err := h.canReadHistory(actor, entityType, entityID, gate); err != nil {
		handler.Fail(c, err)
		return
	}

	versions, err := h.service.ListVersions(c.Request.Context(), entityType, entityID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if gate != nil {
		if versions, err = gate.versions(versions); err != nil {
			handler.Fail(c, err)
			return
		}
	}
	if versions == nil {
		versions = []*model.EntityVersion{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(versions))
}

func (h *Handler) GetVersion(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	v, err := h.service.GetVersion(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondVersion(c, actor, v, http.StatusOK, true)
}

func (h *Handler) RestoreVersion(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	if actor.Role != model.RoleAdmin {
		handler.Fail(c, apperrors.NewForbidden("only admins can restore versions"))
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	v, err := h.service.RestoreEntityVersion(c.Request.Context(), actor.UserID, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondVersion(c, actor, v, http.StatusCreated, false)
}

func (h *Handler) respondVersion(c *gin.Context, actor auth.Actor, v *model.EntityVersion, status int, checkReader bool) {
	gate, err := h.gateFor(c, actor, v.EntityType, v.EntityID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if checkReader {
		if err := h.canReadHistory(actor, v.EntityType, v.EntityID, gate); err != nil {
			handler.Fail(c, err)
			return
		}
	}
	if gate != nil {
		if v, err = gate.version(v); err != nil {
			handler.Fail(c, err)
			return
		}
	}
	c.JSON(status, handler.NewSuccessResponse(v))
}

// gateFor returns the PIN gate for medical record history and nil for every
// other entity type. The entry itself may already be deleted.
func (h *Handler) gateFor(c *gin.Context, actor auth.Actor, entityType string, entityID uuid.UUID) (*pinGate, error) {
	if entityType != model.AuditEntityMedicalRecord {
		return nil, nil
	}
	ctx := c.Request.Context()
	rec, err := h.records.Get(ctx, entityID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}
	return &pinGate{
		ctx:      ctx,
		pins:     h.pins,
		userID:   actor.UserID,
		code:     c.GetHeader(middleware.HeaderRecordPIN),
		current:  rec,
		verified: make(map[uuid.UUID]error),
	}, nil
}

func (h *Handler) canReadHistory(actor auth.Actor, entityType string, entityID uuid.UUID, gate *pinGate) error {
	if actor.Role == model.RoleAdmin {
		return nil
	}
	switch entityType {
	case model.AuditEntityPatient:
		if actor.UserID == entityID {
			return nil
		}
	case model.AuditEntityMedicalRecord:
		if gate != nil && gate.current != nil && gate.current.PatientID == actor.UserID {
			return nil
		}
	}
	return apperrors.NewForbidden("not allowed to read this history")
}

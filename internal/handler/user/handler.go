package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/santetogo/records-api/internal/handler"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/service/user"
)

type Handler struct {
	service user.UserServicer
}

func NewHandler(service user.UserServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.CreateUser)
		users.GET("", h.ListUsers)
		users.GET("/:id", h.GetUser)
	}
	r.GET("/me", h.Me)
}

func (h *Handler) CreateUser(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.CreateUserRequest
	if !handler.Bind(c, &req) {
		return
	}

	u, err := h.service.CreateUser(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(u))
}

func (h *Handler) GetUser(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	u, err := h.service.GetUser(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(u))
}

func (h *Handler) Me(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	u, err := h.service.GetUser(c.Request.Context(), actor, actor.UserID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(u))
}

func (h *Handler) ListUsers(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	users, err := h.service.ListUsers(c.Request.Context(), actor)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

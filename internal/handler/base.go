package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// Fail hands err to the error middleware, which renders it.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

// ParseID reads a UUID path parameter. On failure the error is already
// attached and ok is false.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		Fail(c, apperrors.BadRequest("invalid "+param, err))
		return uuid.Nil, false
	}
	return id, true
}

// Bind decodes the JSON body into req. Validation failures keep the
// validator error chain so the validation middleware can report fields.
func Bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		Fail(c, apperrors.BadRequest("invalid request body", err))
		return false
	}
	return true
}

// Actor returns the authenticated caller. Routes behind Authenticate always
// have one.
func Actor(c *gin.Context) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(c.Request.Context())
	if !ok {
		Fail(c, apperrors.Unauthorized(nil))
	}
	return actor, ok
}

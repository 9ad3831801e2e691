package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/santetogo/records-api/internal/model"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationConfig represents validation middleware configuration
type ValidationConfig struct {
	CustomErrorMessages map[string]string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomErrorMessages: map[string]string{
			"required":      "Field is required",
			"email":         "Invalid email format",
			"min":           "Value is too short",
			"max":           "Value is too long",
			"uuid":          "Invalid identifier",
			"document_type": "Unknown document type",
			"record_type":   "Unknown medical record type",
			"user_role":     "Unknown role",
			"pin":           "PIN must be 4 to 6 digits",
		},
	}
}

var registerOnce sync.Once

// RegisterValidators installs the closed enum validators on gin's validator
// engine and reports field names by their json tag.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		must(v.RegisterValidation("document_type", func(fl validator.FieldLevel) bool {
			return model.DocumentType(fl.Field().String()).Valid()
		}))
		must(v.RegisterValidation("record_type", func(fl validator.FieldLevel) bool {
			return model.RecordType(fl.Field().String()).Valid()
		}))
		must(v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
			return model.Role(fl.Field().String()).Valid()
		}))
		must(v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if len(s) < 4 || len(s) > 6 {
				return false
			}
			for _, r := range s {
				if r < '0' || r > '9' {
					return false
				}
			}
			return true
		}))
	})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validation turns binding failures attached by handlers into per-field
// messages.
func Validation(config ValidationConfig) gin.HandlerFunc {
	RegisterValidators()

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		var fieldErrors []ValidationError
		for _, e := range c.Errors {
			var errs validator.ValidationErrors
			if !errors.As(e.Err, &errs) {
				continue
			}
			for _, fe := range errs {
				msg := config.CustomErrorMessages[fe.Tag()]
				if msg == "" {
					msg = fe.Error()
				}
				fieldErrors = append(fieldErrors, ValidationError{
					Field:   fe.Field(),
					Message: msg,
				})
			}
		}

		if len(fieldErrors) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":     http.StatusBadRequest,
				"message":  "validation failed",
				"errors":   fieldErrors,
				"trace_id": c.GetString(ContextRequestID),
			})
		}
	}
}

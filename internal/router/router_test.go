package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	accessh "github.com/santetogo/records-api/internal/handler/access"
	audith "github.com/santetogo/records-api/internal/handler/audit"
	authh "github.com/santetogo/records-api/internal/handler/auth"
	documenth "github.com/santetogo/records-api/internal/handler/document"
	"github.com/santetogo/records-api/internal/handler/health"
	patienth "github.com/santetogo/records-api/internal/handler/patient"
	"github.com/santetogo/records-api/internal/handler/prometheus"
	recordh "github.com/santetogo/records-api/internal/handler/record"
	userh "github.com/santetogo/records-api/internal/handler/user"
	"github.com/santetogo/records-api/internal/middleware"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/internal/service/access"
	"github.com/santetogo/records-api/internal/service/audit"
	authsvc "github.com/santetogo/records-api/internal/service/auth"
	"github.com/santetogo/records-api/internal/service/document"
	"github.com/santetogo/records-api/internal/service/patient"
	"github.com/santetogo/records-api/internal/service/pin"
	"github.com/santetogo/records-api/internal/service/record"
	"github.com/santetogo/records-api/internal/service/user"
	"github.com/santetogo/records-api/pkg/auth"
	"github.com/santetogo/records-api/pkg/security"
)

type apiEnv struct {
	engine *gin.Engine
	store  *memory.Store
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	store := memory.NewStore()
	hasher := security.NewBcryptHasher(bcrypt.MinCost, 8)
	jwtSvc := auth.NewJWTService("test-secret", time.Hour)
	tokens := authsvc.NewService(store.Users(), jwtSvc, hasher)

	auditSvc := audit.NewService(store.Audit(), store.Versions())
	auditor := audit.NewAuditLogger(auditSvc, zerolog.Nop(), nil)
	engine := access.NewService(store, access.Config{}, access.WithAuditor(auditor))
	docs := document.NewService(store, engine, auditor)
	pins := pin.NewService(store.Patients(), security.NewBcryptHasher(bcrypt.MinCost, 4), pin.Config{MaxAttempts: 3, Lockout: time.Minute}, nil)
	patients := patient.NewService(store, pins, auditor)
	records := record.NewService(store, engine, pins, auditor)
	auditSvc.RegisterRestorer(model.AuditEntityPatient, patients)
	auditSvc.RegisterRestorer(model.AuditEntityMedicalRecord, records)

	r := NewRouter(
		middleware.NewAuthMiddleware(tokens),
		Handlers{
			Public: []Handler{authh.NewHandler(tokens)},
			Protected: []Handler{
				userh.NewHandler(user.NewService(store.Users(), hasher, auditor)),
				patienth.NewHandler(patients),
				documenth.NewHandler(docs),
				recordh.NewHandler(records),
				accessh.NewHandler(engine),
				audith.NewHandler(auditSvc, store.MedicalRecords(), pins),
			},
		},
		health.NewHandler(map[string]health.Pinger{"database": store}),
		prometheus.New(promclient.NewRegistry()),
		RouterConfig{Mode: gin.TestMode, CORSConfig: middleware.DefaultCORSConfig()},
	)
	r.Setup()
	return &apiEnv{engine: r.Engine(), store: store}
}

func (e *apiEnv) user(t *testing.T, email string, role model.Role) string {
	t.Helper()
	_, token := e.account(t, email, role)
	return token
}

// account creates a user directly in the store and logs them in.
func (e *apiEnv) account(t *testing.T, email string, role model.Role) (uuid.UUID, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, e.store.Users().Create(context.Background(), &model.User{
		Base:         model.Base{ID: id},
		Email:        email,
		Name:         email,
		Role:         role,
		PasswordHash: string(hash),
	}))

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data model.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return id, resp.Data.AccessToken
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, body, nil)
}

func (e *apiEnv) doWithHeaders(t *testing.T, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.ID
}

func TestAccessRequestLifecycle(t *testing.T) {
	e := newAPI(t)
	owner := e.user(t, "kossi@santetogo.tg", model.RolePatient)
	doctor := e.user(t, "dr.afi@santetogo.tg", model.RoleDoctor)

	w := e.do(t, http.MethodPost, "/api/v1/documents", owner, gin.H{
		"name": "Blood panel", "type": "medical_test", "file_format": "pdf", "storage_key": "docs/blood.pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	docPath := "/api/v1/documents/" + decodeID(t, w)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, docPath, doctor, nil).Code)

	w = e.do(t, http.MethodPost, docPath+"/access-requests", doctor, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	grantID := decodeID(t, w)

	w = e.do(t, http.MethodPost, docPath+"/access-requests", doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, grantID, decodeID(t, w), "a repeated request returns the pending grant")

	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, docPath+"/access-requests", owner, nil).Code)

	w = e.do(t, http.MethodGet, "/api/v1/access-requests?direction=incoming", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), grantID)

	grantPath := "/api/v1/access-requests/" + grantID
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPatch, grantPath, doctor, gin.H{"approve": true}).Code)

	w = e.do(t, http.MethodPatch, grantPath, owner, gin.H{"approve": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"approved"`)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, docPath, doctor, nil).Code)

	w = e.do(t, http.MethodPatch, grantPath, owner, gin.H{"approve": false})
	assert.Equal(t, http.StatusConflict, w.Code, "an approved grant cannot be decided again")

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, grantPath, owner, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, grantPath, owner, nil).Code, "revoke is idempotent")
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, docPath, doctor, nil).Code)
}

func TestRecordRouteRejectsDocumentSubject(t *testing.T) {
	e := newAPI(t)
	owner := e.user(t, "ama@santetogo.tg", model.RolePatient)
	doctor := e.user(t, "dr.kodjo@santetogo.tg", model.RoleDoctor)

	w := e.do(t, http.MethodPost, "/api/v1/documents", owner, gin.H{
		"name": "Invoice", "type": "invoice", "file_format": "pdf", "storage_key": "docs/inv.pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeID(t, w)

	w = e.do(t, http.MethodPost, "/api/v1/medical-records/"+id+"/access-requests", doctor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidationAndAuthErrors(t *testing.T) {
	e := newAPI(t)
	owner := e.user(t, "yao@santetogo.tg", model.RolePatient)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/documents", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/documents", "garbage", nil).Code)

	w := e.do(t, http.MethodPatch, "/api/v1/access-requests/"+uuid.NewString(), owner, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"approve"`)

	w = e.do(t, http.MethodPatch, "/api/v1/access-requests/"+uuid.NewString(), owner, gin.H{"approve": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPatch, "/api/v1/access-requests/not-a-uuid", owner, gin.H{"approve": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/access-requests?direction=sideways", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "yao@santetogo.tg", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newAPI(t)

	w := e.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

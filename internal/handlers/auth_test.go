package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tempo/backend/internal/handlers"
	"tempo/backend/internal/middleware"
	"tempo/backend/internal/models"
	"tempo/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newAuthTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RegistrationCode{}))
	return db
}

func setupAuthRouter(t *testing.T, requireCode bool) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newAuthTestDB(t)
	authSvc := services.NewAuthService("test-secret", time.Hour)
	regSvc := services.NewRegisterService(requireCode)
	handler := handlers.NewAuthHandler(db, authSvc, regSvc)

	router := gin.New()
	router.POST("/auth/register", handler.Register)
	router.POST("/auth/login", handler.Login)

	protected := router.Group("/", middleware.RequireAuth(db, "test-secret"))
	protected.GET("/auth/me", handler.Me)
	protected.PATCH("/auth/me", handler.UpdateMe)

	return db, router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterEndpoint(t *testing.T) {
	db, router := setupAuthRouter(t, false)

	w := postJSON(router, "/auth/register",
		`{"username": "alice", "email": "A@B.com", "password": "correct-horse"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	// Email is normalized before storage.
	var stored models.User
	require.NoError(t, db.First(&stored, resp.User.ID).Error)
	assert.Equal(t, "a@b.com", stored.Email)

	// Hashes never leave the server.
	assert.NotContains(t, w.Body.String(), "correct-horse")
	assert.NotContains(t, w.Body.String(), stored.Password)
}

func TestRegisterEndpointDuplicateEmail(t *testing.T) {
	_, router := setupAuthRouter(t, false)

	body := `{"username": "alice", "email": "a@b.com", "password": "correct-horse"}`
	require.Equal(t, http.StatusCreated, postJSON(router, "/auth/register", body).Code)

	w := postJSON(router, "/auth/register",
		`{"username": "alice2", "email": "a@b.com", "password": "correct-horse"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already exists")
}

func TestRegisterEndpointRejectsBadCode(t *testing.T) {
	_, router := setupAuthRouter(t, true)

	w := postJSON(router, "/auth/register",
		`{"username": "alice", "email": "a@b.com", "password": "correct-horse", "registrationCode": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid registration code")
}

func TestLoginEndpoint(t *testing.T) {
	_, router := setupAuthRouter(t, false)

	require.Equal(t, http.StatusCreated, postJSON(router, "/auth/register",
		`{"username": "alice", "email": "a@b.com", "password": "correct-horse"}`).Code)

	w := postJSON(router, "/auth/login", `{"email": "a@b.com", "password": "correct-horse"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID       uint   `json:"id"`
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	w = postJSON(router, "/auth/login", `{"email": "a@b.com", "password": "wrong"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid credentials")
}

func TestMeEndpoint(t *testing.T) {
	_, router := setupAuthRouter(t, false)

	w := postJSON(router, "/auth/register",
		`{"username": "alice", "email": "a@b.com", "password": "correct-horse"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req, _ := http.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestUpdateMeEndpointRejectsTakenEmail(t *testing.T) {
	_, router := setupAuthRouter(t, false)

	require.Equal(t, http.StatusCreated, postJSON(router, "/auth/register",
		`{"username": "alice", "email": "a@b.com", "password": "correct-horse"}`).Code)

	w := postJSON(router, "/auth/register",
		`{"username": "bob", "email": "b@c.com", "password": "correct-horse"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req, _ := http.NewRequest("PATCH", "/auth/me", strings.NewReader(`{"email": "a@b.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestUpdateMeEndpointRejectsUnknownFields(t *testing.T) {
	_, router := setupAuthRouter(t, false)

	w := postJSON(router, "/auth/register",
		`{"username": "alice", "email": "a@b.com", "password": "correct-horse"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req, _ := http.NewRequest("PATCH", "/auth/me", strings.NewReader(`{"subscriptionStatus": "active"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid updates!")
}

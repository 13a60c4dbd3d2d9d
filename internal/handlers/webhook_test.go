package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tempo/backend/internal/models"
	"tempo/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testEndpointSecret = "whsec_test"

func newWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RegistrationCode{}))
	return db
}

func signPayload(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testEndpointSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRouter(t *testing.T) (*gorm.DB, *gin.Engine, time.Time) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newWebhookTestDB(t)
	billing := services.NewBillingService("http://localhost:5001", zap.NewNop())
	handler := NewWebhookHandler(db, billing, testEndpointSecret, zap.NewNop())

	now := time.Now()
	handler.now = func() time.Time { return now }

	router := gin.New()
	router.POST("/webhook", handler.Handle)
	return db, router, now
}

func postWebhook(router *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/webhook", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookCheckoutCompletedMintsCode(t *testing.T) {
	db, router, now := newWebhookRouter(t)

	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"subscription": "sub_42",
			"customer_details": {"email": "buyer@example.com", "name": "Buyer"}
		}}
	}`)

	w := postWebhook(router, payload, signPayload(payload, now))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RedirectURL string `json:"redirectUrl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	var code models.RegistrationCode
	require.NoError(t, db.Where("email = ?", "buyer@example.com").First(&code).Error)
	assert.Equal(t, "sub_42", code.SubscriptionID)
	assert.False(t, code.Used)
	assert.Equal(t, "http://localhost:5001/register?code="+code.Code, resp.RedirectURL)
}

func TestWebhookCheckoutActivatesExistingUser(t *testing.T) {
	db, router, now := newWebhookRouter(t)

	require.NoError(t, db.Create(&models.User{
		Username:           "buyer",
		Email:              "buyer@example.com",
		Password:           "hash",
		SubscriptionStatus: models.SubscriptionInactive,
	}).Error)

	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"subscription": "sub_42",
			"customer_details": {"email": "buyer@example.com"}
		}}
	}`)

	w := postWebhook(router, payload, signPayload(payload, now))
	require.Equal(t, http.StatusOK, w.Code)

	var user models.User
	require.NoError(t, db.Where("email = ?", "buyer@example.com").First(&user).Error)
	assert.Equal(t, models.SubscriptionActive, user.SubscriptionStatus)
	assert.Equal(t, "sub_42", user.SubscriptionID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	db, router, _ := newWebhookRouter(t)

	payload := []byte(`{"type": "checkout.session.completed", "data": {"object": {}}}`)

	w := postWebhook(router, payload, "t=123,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(router, payload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	db.Model(&models.RegistrationCode{}).Count(&count)
	assert.Zero(t, count, "rejected events must not mint codes")
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	_, router, now := newWebhookRouter(t)

	payload := []byte(`{"type": "payment_intent.succeeded", "data": {"object": {}}}`)

	w := postWebhook(router, payload, signPayload(payload, now.Add(-10*time.Minute)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSubscriptionUpdated(t *testing.T) {
	db, router, now := newWebhookRouter(t)

	require.NoError(t, db.Create(&models.User{
		Username:           "alice",
		Email:              "a@b.com",
		Password:           "hash",
		SubscriptionID:     "sub_1",
		SubscriptionStatus: models.SubscriptionActive,
	}).Error)

	payload := []byte(`{
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"status": "canceled",
			"customer_email": "a@b.com"
		}}
	}`)

	w := postWebhook(router, payload, signPayload(payload, now))
	require.Equal(t, http.StatusOK, w.Code)

	var user models.User
	require.NoError(t, db.Where("email = ?", "a@b.com").First(&user).Error)
	assert.Equal(t, models.SubscriptionCanceled, user.SubscriptionStatus)
}

func TestWebhookSubscriptionForUnknownUserStillAcks(t *testing.T) {
	_, router, now := newWebhookRouter(t)

	payload := []byte(`{
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_99",
			"status": "active",
			"customer_email": "nobody@example.com"
		}}
	}`)

	w := postWebhook(router, payload, signPayload(payload, now))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookUnknownEventTypeAcked(t *testing.T) {
	_, router, now := newWebhookRouter(t)

	payload := []byte(`{"type": "invoice.finalized", "data": {"object": {}}}`)

	w := postWebhook(router, payload, signPayload(payload, now))
	assert.Equal(t, http.StatusOK, w.Code)
}

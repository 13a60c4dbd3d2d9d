package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tempo/backend/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// signatureTolerance bounds how old a webhook timestamp may be before the
// payload is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

var errBadSignature = errors.New("webhook signature verification failed")

type WebhookHandler struct {
	db             *gorm.DB
	billingService services.BillingService
	endpointSecret string
	logger         *zap.Logger
	now            func() time.Time
}

func NewWebhookHandler(db *gorm.DB, billingService services.BillingService, endpointSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		db:             db,
		billingService: billingService,
		endpointSecret: endpointSecret,
		logger:         logger,
		now:            time.Now,
	}
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Handle verifies the provider's signature over the raw body before any
// parsing, then dispatches on the event type. Unknown event types are
// acknowledged and logged, never failed, so the provider does not retry them.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := verifySignature(body, sig, h.endpointSecret, h.now()); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session services.CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
			return
		}

		redirectURL, err := h.billingService.HandleCheckoutCompleted(h.db, session)
		if err != nil {
			h.logger.Error("checkout handling failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process checkout"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"redirectUrl": redirectURL})
		return

	case "customer.subscription.created", "customer.subscription.updated":
		var sub services.SubscriptionObject
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
			return
		}

		if err := h.billingService.UpdateSubscription(h.db, sub.CustomerEmail, sub.ID, sub.Status); err != nil {
			// Provider events for users we don't know about are normal.
			h.logger.Warn("subscription update skipped",
				zap.String("subscription_id", sub.ID),
				zap.Error(err),
			)
		}

	case "payment_intent.succeeded", "customer.created", "customer.updated":
		h.logger.Info("billing event acknowledged", zap.String("type", event.Type))

	default:
		h.logger.Info("unhandled billing event type", zap.String("type", event.Type))
	}

	c.Status(http.StatusOK)
}

// verifySignature checks the provider's v1 scheme: the header carries a unix
// timestamp and an HMAC-SHA256 of "<timestamp>.<payload>" under the endpoint
// secret.
func verifySignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return errBadSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return errBadSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errBadSignature
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", errBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return errBadSignature
}

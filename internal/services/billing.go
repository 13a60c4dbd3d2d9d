package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"tempo/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckoutSession is the slice of the billing provider's checkout object we
// consume.
type CheckoutSession struct {
	CustomerEmail   string `json:"customer_email"`
	Subscription    string `json:"subscription"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

// SubscriptionObject is the provider's subscription record.
type SubscriptionObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
}

type BillingService interface {
	HandleCheckoutCompleted(db *gorm.DB, session CheckoutSession) (redirectURL string, err error)
	UpdateSubscription(db *gorm.DB, email, subscriptionID, status string) error
}

type BillingServiceImpl struct {
	frontendURL string
	logger      *zap.Logger
}

func NewBillingService(frontendURL string, logger *zap.Logger) *BillingServiceImpl {
	return &BillingServiceImpl{frontendURL: frontendURL, logger: logger}
}

// HandleCheckoutCompleted mints a single-use registration code tied to the
// checkout and activates the subscription of an already-registered user with
// the same email. The returned URL sends the buyer to the registration form
// with the code pre-filled.
func (s *BillingServiceImpl) HandleCheckoutCompleted(db *gorm.DB, session CheckoutSession) (string, error) {
	email := session.CustomerDetails.Email
	if email == "" {
		email = session.CustomerEmail
	}

	code, err := newRegistrationCode()
	if err != nil {
		return "", err
	}

	rc := models.RegistrationCode{
		Code:           code,
		Email:          email,
		SubscriptionID: session.Subscription,
	}
	if err := db.Create(&rc).Error; err != nil {
		return "", fmt.Errorf("failed to store registration code: %w", err)
	}

	if err := s.UpdateSubscription(db, email, session.Subscription, models.SubscriptionActive); err != nil {
		// The code is already minted; an absent user just means the buyer
		// has not registered yet.
		s.logger.Warn("subscription update after checkout skipped",
			zap.String("email", email),
			zap.Error(err),
		)
	}

	s.logger.Info("checkout completed, registration code minted",
		zap.String("email", email),
		zap.String("subscription_id", session.Subscription),
	)

	return fmt.Sprintf("%s/register?code=%s", s.frontendURL, code), nil
}

// UpdateSubscription mutates the billing fields of the user with the given
// email, if one exists.
func (s *BillingServiceImpl) UpdateSubscription(db *gorm.DB, email, subscriptionID, status string) error {
	if email == "" {
		return nil
	}

	result := db.Model(&models.User{}).
		Where("email = ?", email).
		Updates(map[string]interface{}{
			"subscription_id":     subscriptionID,
			"subscription_status": status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func newRegistrationCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

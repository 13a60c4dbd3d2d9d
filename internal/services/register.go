package services

import (
	"encoding/json"
	"errors"

	"tempo/backend/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken              = errors.New("email or username already exists")
	ErrInvalidRegistrationCode = errors.New("invalid or already used registration code")
	ErrInvalidUpdate           = errors.New("invalid updates")
)

type RegistrationRequest struct {
	Username         string `json:"username" binding:"required,min=3,max=50"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=8"`
	RegistrationCode string `json:"registrationCode"`
}

type RegisterService interface {
	RegisterUser(db *gorm.DB, req RegistrationRequest) (*models.User, error)
	UpdateUser(db *gorm.DB, user *models.User, updates map[string]json.RawMessage) error
}

type RegisterServiceImpl struct {
	// requireCode gates registration behind a completed billing checkout.
	requireCode bool
}

func NewRegisterService(requireCode bool) *RegisterServiceImpl {
	return &RegisterServiceImpl{requireCode: requireCode}
}

// RegisterUser creates the user and, when a registration code is required or
// supplied, consumes it in the same transaction. A consumed code carries the
// checkout's subscription over to the new account.
func (s *RegisterServiceImpl) RegisterUser(db *gorm.DB, req RegistrationRequest) (*models.User, error) {
	var existing models.User
	if err := db.Where("email = ? OR username = ?", req.Email, req.Username).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:           req.Username,
		Email:              req.Email,
		Password:           string(hashedPassword),
		SubscriptionStatus: models.SubscriptionInactive,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if s.requireCode || req.RegistrationCode != "" {
			code, err := consumeRegistrationCode(tx, req.RegistrationCode)
			if err != nil {
				return err
			}
			user.SubscriptionID = code.SubscriptionID
			user.SubscriptionStatus = models.SubscriptionActive
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func consumeRegistrationCode(tx *gorm.DB, code string) (*models.RegistrationCode, error) {
	if code == "" {
		return nil, ErrInvalidRegistrationCode
	}

	// The guarded update is the single-use check: whoever flips used first
	// wins, everyone after gets zero rows.
	result := tx.Model(&models.RegistrationCode{}).
		Where("code = ? AND used = ?", code, false).
		Update("used", true)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrInvalidRegistrationCode
	}

	var rc models.RegistrationCode
	if err := tx.Where("code = ?", code).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

// allowedUserUpdates is the PATCH /auth/me allow-list. Anything else in the
// body rejects the whole request.
var allowedUserUpdates = map[string]bool{
	"username":            true,
	"email":               true,
	"password":            true,
	"schedulePreferences": true,
}

// UpdateUser applies an allow-listed partial update to the user. A password
// change is re-hashed before it is stored.
func (s *RegisterServiceImpl) UpdateUser(db *gorm.DB, user *models.User, updates map[string]json.RawMessage) error {
	for field := range updates {
		if !allowedUserUpdates[field] {
			return ErrInvalidUpdate
		}
	}

	if raw, ok := updates["username"]; ok {
		if err := json.Unmarshal(raw, &user.Username); err != nil {
			return ErrInvalidUpdate
		}
	}
	if raw, ok := updates["email"]; ok {
		if err := json.Unmarshal(raw, &user.Email); err != nil {
			return ErrInvalidUpdate
		}
	}
	_, changedUsername := updates["username"]
	_, changedEmail := updates["email"]
	if changedUsername || changedEmail {
		var existing models.User
		err := db.Where("(email = ? OR username = ?) AND id <> ?",
			user.Email, user.Username, user.ID).First(&existing).Error
		if err == nil {
			return ErrEmailTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	if raw, ok := updates["schedulePreferences"]; ok {
		if err := json.Unmarshal(raw, &user.SchedulePreferences); err != nil {
			return ErrInvalidUpdate
		}
	}
	if raw, ok := updates["password"]; ok {
		var plain string
		if err := json.Unmarshal(raw, &plain); err != nil {
			return ErrInvalidUpdate
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user.Password = string(hashed)
	}

	return db.Save(user).Error
}

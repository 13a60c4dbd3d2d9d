package middleware

import (
	"errors"
	"net/http"
	"strings"

	"tempo/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const (
	// ContextUser holds the *models.User the bearer token resolved to.
	ContextUser = "user"
	// ContextUserID holds the numeric user id.
	ContextUserID = "user_id"
)

// RequireAuth resolves the bearer token to a stored user or fails the request
// with 401. Stateless per request: the user is loaded fresh every time.
func RequireAuth(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "No token, authorization denied",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Token is not valid",
			})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Token is not valid",
			})
			return
		}

		userID, ok := claims["userId"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Token is not valid",
			})
			return
		}

		var user models.User
		if err := db.First(&user, "id = ?", uint(userID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"message": "User not found",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"message": "Server error",
			})
			return
		}

		c.Set(ContextUser, &user)
		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}

// CurrentUser pulls the authenticated user out of the request context.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get(ContextUser)
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

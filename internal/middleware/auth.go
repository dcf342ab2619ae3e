package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Context keys set by Auth for downstream handlers.
const (
	CtxParticipantID = "participant_id"
	CtxDisplayName   = "display_name"
)

// ErrMissingAuthHeader means the request carried no credential at all.
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth returns a middleware validating the caller's JWT and exposing
// the participant identity to handlers. Tokens come from an external
// identity provider; this service trusts the participant_id and
// display_name claims and never issues credentials itself.
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing credential")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization is required"})
			} else {
				logrus.WithError(err).Warn("Auth middleware: Malformed token format")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")

			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx.Warn("Reason: Token is expired")
				}
				if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx.Warn("Reason: Token signature is invalid")
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		participantID, ok := claims[CtxParticipantID].(string)
		if !ok || participantID == "" {
			logrus.Error("Auth middleware: 'participant_id' claim missing or not a string")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token missing participant identity"})
			c.Abort()
			return
		}
		displayName, _ := claims[CtxDisplayName].(string)
		if displayName == "" {
			displayName = participantID
		}

		c.Set(CtxParticipantID, participantID)
		c.Set(CtxDisplayName, displayName)
		logrus.WithField("participant_id", participantID).Debug("Auth middleware: Participant authenticated via JWT")

		c.Next()
	}
}

// extractToken reads the Bearer token from the Authorization header,
// falling back to the token query parameter for WebSocket upgrades
// (browsers cannot set headers on those).
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

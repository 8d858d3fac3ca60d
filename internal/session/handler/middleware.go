package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"refreshguard/internal/session/domain"
	"refreshguard/internal/session/service"
)

const subjectKey = "refreshguard.subject"

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(accessToken string) (service.Subject, error)
}

// RequireAuth rejects requests without a valid bearer access token and stores
// the verified subject on the gin context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortError(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		subject, err := auth.Authenticate(token)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

// RequireRole must run after RequireAuth. It answers 403 when the subject's
// role is not in allowed.
func RequireRole(allowed ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := SubjectFromContext(c)
		if !ok {
			abortError(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if err := service.RequireRole(subject, allowed...); err != nil {
			abortError(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

// SubjectFromContext returns the subject stored by RequireAuth.
func SubjectFromContext(c *gin.Context) (service.Subject, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return service.Subject{}, false
	}
	s, ok := v.(service.Subject)
	return s, ok
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func abortError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

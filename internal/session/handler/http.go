// Package handler exposes the session lifecycle over HTTP with gin. The refresh
// token travels only in an HttpOnly cookie; access tokens travel in JSON bodies
// and Authorization headers.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	identitydomain "refreshguard/internal/identity/domain"
	identityservice "refreshguard/internal/identity/service"
	"refreshguard/internal/security"
	"refreshguard/internal/session/domain"
	"refreshguard/internal/session/service"
)

// Sessions is the part of the session manager the HTTP layer uses.
type Sessions interface {
	Authenticator
	Rotate(ctx context.Context, refreshToken string, meta service.Metadata) (*service.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
}

// Accounts registers and signs in users.
type Accounts interface {
	Register(ctx context.Context, email, password, name string, meta service.Metadata) (*identityservice.AuthResult, error)
	Login(ctx context.Context, email, password string, meta service.Metadata) (*identityservice.AuthResult, error)
	GetUser(ctx context.Context, userID string) (*identitydomain.User, error)
}

// Handler serves the /auth endpoints.
type Handler struct {
	sessions Sessions
	accounts Accounts
	cookie   CookieOptions
}

// NewHandler returns a Handler. cookie.MaxAge should equal the refresh token TTL.
func NewHandler(sessions Sessions, accounts Accounts, cookie CookieOptions) *Handler {
	return &Handler{sessions: sessions, accounts: accounts, cookie: cookie.normalize()}
}

// RegisterRoutes mounts the auth API on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	auth := r.Group("/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)

	authed := auth.Group("", RequireAuth(h.sessions))
	authed.POST("/logout-all", h.logoutAll)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/me", h.me)

	admin := r.Group("/admin", RequireAuth(h.sessions), RequireRole(domain.RoleAdmin))
	admin.POST("/users/:id/revoke-sessions", h.adminRevokeAll)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

type authResponse struct {
	AccessToken     string       `json:"accessToken"`
	AccessExpiresAt time.Time    `json:"accessExpiresAt"`
	User            userResponse `json:"user"`
}

type sessionResponse struct {
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

func metadata(c *gin.Context) service.Metadata {
	return service.Metadata{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func toUserResponse(u *identitydomain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	res, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password, req.Name, metadata(c))
	switch {
	case errors.Is(err, identityservice.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	case errors.Is(err, identityservice.ErrEmailAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	case err != nil:
		log.Printf("auth: register: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	h.writeAuth(c, http.StatusCreated, res)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	res, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password, metadata(c))
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	case err != nil:
		log.Printf("auth: login: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	h.writeAuth(c, http.StatusOK, res)
}

func (h *Handler) writeAuth(c *gin.Context, status int, res *identityservice.AuthResult) {
	SetRefreshCookie(c.Writer, res.Tokens.RefreshToken, h.cookie)
	c.JSON(status, authResponse{
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
		User:            toUserResponse(res.User),
	})
}

func (h *Handler) refresh(c *gin.Context) {
	token := refreshCookie(c.Request, h.cookie)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	pair, err := h.sessions.Rotate(c.Request.Context(), token, metadata(c))
	switch {
	case errors.Is(err, service.ErrSessionCompromised):
		ClearRefreshCookie(c.Writer, h.cookie)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_compromised"})
		return
	case errors.Is(err, service.ErrUnauthenticated):
		ClearRefreshCookie(c.Writer, h.cookie)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	case err != nil:
		log.Printf("auth: refresh: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	SetRefreshCookie(c.Writer, pair.RefreshToken, h.cookie)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":     pair.AccessToken,
		"accessExpiresAt": pair.AccessExpiresAt,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if token := refreshCookie(c.Request, h.cookie); token != "" {
		if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
			log.Printf("auth: logout: %v", err)
		}
	}
	ClearRefreshCookie(c.Writer, h.cookie)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) logoutAll(c *gin.Context) {
	subject, _ := SubjectFromContext(c)
	n, err := h.sessions.RevokeAll(c.Request.Context(), subject.ID)
	if err != nil {
		log.Printf("auth: logout all: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	ClearRefreshCookie(c.Writer, h.cookie)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *Handler) listSessions(c *gin.Context) {
	subject, _ := SubjectFromContext(c)
	sessions, err := h.sessions.ListSessions(c.Request.Context(), subject.ID)
	if err != nil {
		log.Printf("auth: list sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			Fingerprint: security.ShortFingerprint(s.Fingerprint),
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.ExpiresAt,
			IP:          s.CreatedByIP,
			UserAgent:   s.UserAgent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) me(c *gin.Context) {
	subject, _ := SubjectFromContext(c)
	resp := userResponse{ID: subject.ID, Role: string(subject.Role)}
	if h.accounts != nil {
		u, err := h.accounts.GetUser(c.Request.Context(), subject.ID)
		if err != nil {
			log.Printf("auth: me: %v", err)
		}
		if u != nil {
			resp.Email = u.Email
			resp.Name = u.Name
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": resp})
}

func (h *Handler) adminRevokeAll(c *gin.Context) {
	userID := c.Param("id")
	n, err := h.sessions.RevokeAll(c.Request.Context(), userID)
	if err != nil {
		log.Printf("auth: admin revoke sessions for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

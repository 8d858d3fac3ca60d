package handler

import (
	"net/http"
	"time"
)

// CookieOptions controls how the refresh token cookie is issued.
type CookieOptions struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
	// MaxAge is the cookie lifetime; normally the refresh token TTL.
	MaxAge time.Duration
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = "refresh_token"
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteStrictMode
	}
	return o
}

// SetRefreshCookie writes the refresh token cookie. It is always HttpOnly.
func SetRefreshCookie(w http.ResponseWriter, token string, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    token,
		Path:     opts.Path,
		MaxAge:   int(opts.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearRefreshCookie expires the refresh token cookie on the client.
func ClearRefreshCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// refreshCookie returns the refresh token presented by the client, or "".
func refreshCookie(r *http.Request, opts CookieOptions) string {
	c, err := r.Cookie(opts.normalize().Name)
	if err != nil {
		return ""
	}
	return c.Value
}

package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultRefreshPath is the server endpoint that rotates the refresh cookie.
const DefaultRefreshPath = "/auth/refresh"

// Transport attaches the in-memory access token to outgoing requests. On a 401
// it refreshes through the Coordinator and retries the request once. Requests
// to the refresh endpoint itself are never retried.
type Transport struct {
	// Base performs the requests. nil means http.DefaultTransport.
	Base        http.RoundTripper
	Tokens      *TokenSource
	Coordinator *Coordinator
	// RefreshPath defaults to DefaultRefreshPath.
	RefreshPath string
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) refreshPath() string {
	if t.RefreshPath != "" {
		return t.RefreshPath
	}
	return DefaultRefreshPath
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path == t.refreshPath() {
		return t.base().RoundTrip(req)
	}
	resp, err := t.base().RoundTrip(t.withBearer(req, t.Tokens.Token()))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || t.Coordinator == nil {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	token, rerr := t.Coordinator.Refresh(req.Context())
	if rerr != nil {
		return resp, nil
	}
	retry := t.withBearer(req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	drain(resp)
	return t.base().RoundTrip(retry)
}

// withBearer clones req with the Authorization header set to token.
func (t *Transport) withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

// NewHTTPRotator returns a RotateFunc that POSTs to refreshURL with client and
// reads the accessToken field of the JSON reply. The client's cookie jar
// carries the refresh cookie.
func NewHTTPRotator(client *http.Client, refreshURL string) RotateFunc {
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, http.NoBody)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer drain(resp)
		if resp.StatusCode != http.StatusOK {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body)
			return "", fmt.Errorf("refresh rejected: status %d %s", resp.StatusCode, body.Error)
		}
		var body struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decode refresh response: %w", err)
		}
		return body.AccessToken, nil
	}
}

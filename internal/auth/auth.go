package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for missing, malformed or rejected sessions.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves the user behind a Supabase session. With a JWT secret the
// access token is verified locally; otherwise the auth server is asked.
type Verifier struct {
	supabaseURL string
	anonKey     string
	jwtSecret   []byte
	cookieName  string
	httpClient  *http.Client
}

type Config struct {
	SupabaseURL string
	AnonKey     string
	JWTSecret   string
	CookieName  string
}

func NewVerifier(cfg Config) *Verifier {
	v := &Verifier{
		supabaseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		anonKey:     cfg.AnonKey,
		cookieName:  cfg.CookieName,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.JWTSecret != "" {
		v.jwtSecret = []byte(cfg.JWTSecret)
	}
	return v
}

// Authenticate extracts the access token from the request and verifies it.
func (v *Verifier) Authenticate(r *http.Request) (uuid.UUID, error) {
	token := v.TokenFromRequest(r)
	if token == "" {
		return uuid.Nil, fmt.Errorf("no session token: %w", ErrUnauthorized)
	}
	return v.Verify(r.Context(), token)
}

// TokenFromRequest looks at the Authorization header, the configured session
// cookie, then any (possibly chunked) sb-*-auth-token cookie.
func (v *Verifier) TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}

	if v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
			if tok := accessTokenFromCookie(c.Value); tok != "" {
				return tok
			}
		}
	}

	return accessTokenFromCookie(supabaseAuthCookie(r.Cookies()))
}

// supabaseAuthCookie joins the sb-<ref>-auth-token cookie, which the browser
// client splits into .0, .1, ... chunks once it grows past the cookie limit.
func supabaseAuthCookie(cookies []*http.Cookie) string {
	var whole string
	chunks := map[string]string{}
	for _, c := range cookies {
		if !strings.HasPrefix(c.Name, "sb-") {
			continue
		}
		switch {
		case strings.HasSuffix(c.Name, "-auth-token"):
			whole = c.Value
		case strings.Contains(c.Name, "-auth-token."):
			idx := c.Name[strings.LastIndex(c.Name, ".")+1:]
			chunks[idx] = c.Value
		}
	}
	if whole != "" {
		return whole
	}
	if len(chunks) == 0 {
		return ""
	}

	keys := make([]string, 0, len(chunks))
	for k := range chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(chunks[k])
	}
	return b.String()
}

// accessTokenFromCookie accepts a bare JWT, a URL-encoded or "base64-"
// prefixed session JSON, a JSON object with access_token, or the legacy JSON
// array whose first element is the access token.
func accessTokenFromCookie(raw string) string {
	if raw == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}

	if strings.HasPrefix(raw, "base64-") {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(raw, "base64-"), "="))
		if err != nil {
			decoded, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "base64-"))
			if err != nil {
				return ""
			}
		}
		raw = string(decoded)
	}

	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "{"):
		var session struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return ""
		}
		return session.AccessToken
	case strings.HasPrefix(raw, "["):
		var parts []interface{}
		if err := json.Unmarshal([]byte(raw), &parts); err != nil || len(parts) == 0 {
			return ""
		}
		s, _ := parts[0].(string)
		return s
	case strings.Count(raw, ".") == 2:
		return raw
	}
	return ""
}

// Verify returns the user id (the token subject) for a valid access token.
func (v *Verifier) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	if v.jwtSecret != nil {
		return v.verifyLocal(token)
	}
	return v.verifyRemote(ctx, token)
}

func (v *Verifier) verifyLocal(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session token: %v: %w", err, ErrUnauthorized)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session subject is not a user id: %w", ErrUnauthorized)
	}
	return id, nil
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.supabaseURL+"/auth/v1/user", nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.anonKey != "" {
		req.Header.Set("apikey", v.anonKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return uuid.Nil, fmt.Errorf("auth server rejected session: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return uuid.Nil, fmt.Errorf("auth server returned status %d", resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse auth user: %w", err)
	}

	id, err := uuid.Parse(user.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth user id is not a uuid: %w", ErrUnauthorized)
	}
	return id, nil
}

type contextKey struct{}

// WithUserID stores the authenticated user on a context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// UserID returns the authenticated user stored by WithUserID.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok
}

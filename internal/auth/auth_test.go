package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chaplin/healthboard/internal/config"
)

func testService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewService(config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenExpiry: time.Hour,
		Users: []config.UserConfig{
			{Username: "ops", PasswordHash: hash},
		},
	})
}

func TestLoginAndValidate(t *testing.T) {
	s := testService(t)

	token, expiresAt, err := s.Login("ops", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || time.Until(expiresAt) <= 0 {
		t.Fatalf("unexpected token %q expiring %v", token, expiresAt)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "ops" {
		t.Errorf("expected username ops, got %q", claims.Username)
	}
}

func TestLoginRejections(t *testing.T) {
	s := testService(t)

	if _, _, err := s.Login("ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := s.Login("nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	s := testService(t)
	token, _, err := s.Login("ops", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	other := NewService(config.AuthConfig{JWTSecret: "different", TokenExpiry: time.Hour})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	hash, _ := HashPassword("s3cret")
	s := NewService(config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenExpiry: -time.Minute,
		Users:       []config.UserConfig{{Username: "ops", PasswordHash: hash}},
	})

	token, _, err := s.Login("ops", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := s.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	s := testService(t)
	token, _, err := s.Login("ops", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := UserFromContext(r.Context())
		if !ok || claims.Username != "ops" {
			t.Errorf("claims missing from context: %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusNoContent},
		{"query token", "", token, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed header", "Token " + token, "", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.query != "" {
				q := req.URL.Query()
				q.Set("token", tt.query)
				req.URL.RawQuery = q.Encode()
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

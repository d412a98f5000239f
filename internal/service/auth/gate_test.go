package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestTokenServiceGateFetchesAndCaches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/usertoken/GetToken" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("userId"); got != "u1" {
			t.Errorf("unexpected userId %q", got)
		}
		if got := r.URL.Query().Get("connectionName"); got != "databricks" {
			t.Errorf("unexpected connectionName %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	gate := NewTokenServiceGate(srv.URL, "databricks", nil, "https://login.test", zap.NewNop())

	for i := 0; i < 3; i++ {
		tok, err := gate.Token(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("got token %q", tok)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestTokenServiceGateLoginRequired(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"empty token", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"token": ""})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			gate := NewTokenServiceGate(srv.URL, "databricks", nil, "https://login.test", zap.NewNop())
			_, err := gate.Token(context.Background(), "u1")
			if !errors.Is(err, ErrLoginRequired) {
				t.Fatalf("expected ErrLoginRequired, got %v", err)
			}
		})
	}
}

func TestTokenServiceGateStoreTokenSkipsService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("token service must not be called for a stored token")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gate := NewTokenServiceGate(srv.URL, "databricks", nil, "https://login.test", zap.NewNop())
	gate.StoreToken("u1", "delivered", "")

	tok, err := gate.Token(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "delivered" {
		t.Fatalf("got token %q", tok)
	}
}

func TestTokenServiceGateSignOut(t *testing.T) {
	var signOuts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/usertoken/SignOut":
			signOuts++
			if r.Method != http.MethodDelete {
				t.Errorf("unexpected method %s", r.Method)
			}
			w.WriteHeader(http.StatusOK)
		case "/api/usertoken/GetToken":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gate := NewTokenServiceGate(srv.URL, "databricks", nil, "https://login.test", zap.NewNop())
	gate.StoreToken("u1", "tok-1", "")

	if err := gate.SignOut(context.Background(), "u1"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if signOuts != 1 {
		t.Fatalf("expected 1 sign-out call, got %d", signOuts)
	}
	if _, err := gate.Token(context.Background(), "u1"); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("cached token must be gone after sign-out, got %v", err)
	}
}

func TestTokenServiceGateLoginMessage(t *testing.T) {
	gate := NewTokenServiceGate("http://unused", "databricks", nil, "https://login.test/start", zap.NewNop())
	msg := gate.LoginMessage()
	if msg.Card == nil {
		t.Fatal("expected a sign-in card")
	}
}

func TestServicePrincipalGateMintsAndCaches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/oidc/v1/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			t.Errorf("unexpected basic auth %q/%q", id, secret)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "machine-token", "expires_in": 3600})
	}))
	defer srv.Close()

	gate := NewServicePrincipalGate(srv.URL, "client-id", "client-secret", zap.NewNop())

	for i := 0; i < 2; i++ {
		tok, err := gate.Token(context.Background(), "any-user")
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "machine-token" {
			t.Fatalf("got token %q", tok)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 grant call, got %d", calls)
	}
}

func TestServicePrincipalGateSignOutForcesRemint(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"access_token": "machine-token", "expires_in": 3600})
	}))
	defer srv.Close()

	gate := NewServicePrincipalGate(srv.URL, "id", "secret", zap.NewNop())
	if _, err := gate.Token(context.Background(), "u1"); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if err := gate.SignOut(context.Background(), "u1"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := gate.Token(context.Background(), "u2"); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a fresh grant after sign-out, got %d calls", calls)
	}
}

func TestServicePrincipalGateGrantFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gate := NewServicePrincipalGate(srv.URL, "id", "bad-secret", zap.NewNop())
	if _, err := gate.Token(context.Background(), "u1"); err == nil {
		t.Fatal("expected an error for a rejected grant")
	}
}

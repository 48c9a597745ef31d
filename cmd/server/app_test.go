package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/auth"
	"github.com/ibimina/saccoledger/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Database.Path = filepath.Join(t.TempDir(), "sacco.db")
	cfg.Security.JWTSecret = "app-test-secret"
	cfg.Security.TokenTTL = time.Hour
	cfg.Security.PIIKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg.Ledger.DefaultCurrency = "RWF"
	cfg.RateLimit.MaxHits = 20
	cfg.RateLimit.Window = time.Minute
	cfg.Idempotency.TTL = time.Hour
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_Routes(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)

	if code, body := get(t, server.URL+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body)
	}
	if code, body := get(t, server.URL+"/metrics"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Errorf("metrics = %d, missing runtime collectors", code)
	}

	client := api.NewDirectoryServiceClient(http.DefaultClient, server.URL)
	_, err = client.CreateCooperative(context.Background(), connect.NewRequest(&api.CreateCooperativeRequest{Name: "Kigali SACCO"}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("Expected Unauthenticated without a token, got %v", err)
	}

	token, err := auth.NewJWTManager(cfg.Security.JWTSecret, time.Hour).Generate("", "", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	req := connect.NewRequest(&api.CreateCooperativeRequest{Name: "Kigali SACCO"})
	req.Header().Set("Authorization", "Bearer "+token)
	resp, err := client.CreateCooperative(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCooperative failed: %v", err)
	}
	if resp.Msg.Cooperative.ID == "" {
		t.Error("Expected a cooperative id")
	}

	if code, _ := get(t, server.URL+"/saccoledger.v1.PaymentService/Unknown"); code != http.StatusNotFound {
		t.Errorf("unknown procedure = %d, want 404", code)
	}
}

func TestApp_BadKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.PIIKey = "not base64"
	if _, err := newApp(cfg); err == nil {
		t.Fatal("Expected an error for an invalid vault key")
	}
}

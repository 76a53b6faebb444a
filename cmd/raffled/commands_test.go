package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/R3E-Network/raffle_layer/internal/httputil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusPrintsSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/raffle" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"state": "OPEN", "players": 2})
	}))
	defer server.Close()

	out, err := run(t, "status", "--api", server.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"state": "OPEN"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestUpkeepSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing token")
		}
		httputil.WriteError(w, http.StatusConflict, "upkeep_not_needed", "upkeep not needed", nil)
	}))
	defer server.Close()

	_, err := run(t, "upkeep", "--api", server.URL, "--token", "tok")
	if err == nil || !strings.Contains(err.Error(), "upkeep_not_needed") {
		t.Fatalf("expected upkeep_not_needed error, got %v", err)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: s3cret\nlogging:\n  output: stderr\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "token", "--config", path, "--role", "oracle")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}

	if _, err := run(t, "token", "--config", path, "--role", "admin"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestMigrateList(t *testing.T) {
	out, err := run(t, "migrate", "--list")
	if err != nil {
		t.Fatalf("migrate --list: %v", err)
	}
	if !strings.Contains(out, "0001_raffle_state.sql") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if !strings.Contains(out, "raffled") {
		t.Fatalf("unexpected completion script")
	}
	if _, err := run(t, "completion", "fish"); err == nil {
		t.Fatal("expected error for unsupported shell")
	}
}

package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/raffle_layer/internal/config"
)

func TestParseOracleSecret(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		ok      bool
	}{
		{"empty", "", 0, true},
		{"raw-16", "1234567890abcdeg", 16, true},
		{"hex", "3031323334353637383961626364656630313233343536373839616263646566", 32, true},
		{"0x-hex", "0x30313233343536373839616263646566", 16, true},
		{"base64", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=", 32, true},
		{"0x-short", "0x3031", 0, false},
		{"0x-invalid", "0xzz", 0, false},
		{"too-short", "short", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := parseOracleSecret(tt.input)
			if tt.ok {
				if err != nil {
					t.Fatalf("expected success, got error: %v", err)
				}
				if len(key) != tt.wantLen {
					t.Fatalf("unexpected length: got %d want %d", len(key), tt.wantLen)
				}
			} else if err == nil {
				t.Fatalf("expected error, got none")
			}
		})
	}
}

func TestNewApplicationInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	cfg.Keeper.Enabled = false
	cfg.Server.Host = "127.0.0.1"

	a, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if a.db != nil {
		t.Fatal("expected no database without a dsn")
	}
	if a.server.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr %s", a.server.Addr)
	}

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/raffle", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status %d", rec.Code)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewApplicationRejectsBadSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Output = "stderr"
	cfg.Oracle.Secret = "tiny"
	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("expected error for short oracle secret")
	}
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                              "/",
		"/healthz":                       "/healthz",
		"/v1/raffle":                     "/v1/raffle",
		"/v1/raffle/entries":             "/v1/raffle/entries",
		"/v1/raffle/players/3":           "/v1/raffle/players/:index",
		"/v1/raffle/winnings/0xabc":      "/v1/raffle/winnings/:identifier",
		"/v1/raffle/payout/retry":        "/v1/raffle/payout",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/raffle", "200"))

	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/raffle", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/raffle", "200"))
	if after-before != 1 {
		t.Fatalf("expected one request recorded, got %v", after-before)
	}
}

func TestRecordUpkeep(t *testing.T) {
	before := testutil.ToFloat64(raffleUpkeeps.WithLabelValues("performed"))
	RecordUpkeep("performed")
	if got := testutil.ToFloat64(raffleUpkeeps.WithLabelValues("performed")); got-before != 1 {
		t.Fatalf("expected upkeep counter to grow by one")
	}
}

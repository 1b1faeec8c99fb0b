package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordConflict(t *testing.T) {
	before := testutil.ToFloat64(storeConflicts.WithLabelValues("Envelope"))
	RecordConflict("Envelope")
	RecordConflict("Envelope")
	after := testutil.ToFloat64(storeConflicts.WithLabelValues("Envelope"))

	if after-before != 2 {
		t.Errorf("conflicts delta = %v, want 2", after-before)
	}
}

func TestRecordCommand(t *testing.T) {
	before := testutil.ToFloat64(commandsExecuted.WithLabelValues("succeeded", "200"))
	RecordCommand("succeeded", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(commandsExecuted.WithLabelValues("succeeded", "200"))

	if after-before != 1 {
		t.Errorf("commands delta = %v, want 1", after-before)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	counter := httpRequests.WithLabelValues("/api/v1/commands/{id}", "GET", "404")
	before := testutil.ToFloat64(counter)
	RecordHTTPRequest("/api/v1/commands/{id}", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests delta = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	RecordPoll("timer")
	RecordPublish("catalog", true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"peerlink_relay_polls_total", "peerlink_catalog_publishes_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
}

package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

func testRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	r.Post("/api/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})
	r.Get("/api/v1/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get(HeaderCommandID)))
	})
	return r
}

func startWorker(t *testing.T, store recordstore.Store, exec Executor) (*Worker, *Client) {
	t.Helper()
	p := newTestPublisher(t, store, "MAC-1")
	w := NewWorker(p, exec, WorkerConfig{PollInterval: 10 * time.Millisecond, LeaseDuration: time.Second})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		w.Stop()
		w.Wait()
	})
	return w, NewClient(store, 5*time.Millisecond)
}

// ============================================================================
// Worker
// ============================================================================

func TestWorker_ExecutesQueuedCommand(t *testing.T) {
	store := recordstore.NewMemoryStore()
	_, client := startWorker(t, store, NewHandlerExecutor(testRouter()))
	ctx := context.Background()

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/ping")
	got, err := client.WaitForCommand(ctx, cmd.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForCommand() error = %v", err)
	}
	if got.State != model.CommandSucceeded || got.StatusCode != http.StatusOK || string(got.Result) != "pong" {
		t.Errorf("got = state %s status %d result %q, want succeeded 200 pong", got.State, got.StatusCode, got.Result)
	}
	if got.LeaseOwner != "" {
		t.Errorf("LeaseOwner = %q, want cleared", got.LeaseOwner)
	}
}

func TestWorker_ErrorStatusFails(t *testing.T) {
	store := recordstore.NewMemoryStore()
	_, client := startWorker(t, store, NewHandlerExecutor(testRouter()))

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/nowhere")
	got, err := client.WaitForCommand(context.Background(), cmd.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForCommand() error = %v", err)
	}
	if got.State != model.CommandFailed || got.StatusCode != http.StatusNotFound {
		t.Errorf("got = state %s status %d, want failed 404", got.State, got.StatusCode)
	}
}

func TestWorker_ExecutorErrorFails(t *testing.T) {
	store := recordstore.NewMemoryStore()
	exec := ExecutorFunc(func(context.Context, model.Command) (Result, error) {
		return Result{}, errors.New("backend unreachable")
	})
	_, client := startWorker(t, store, exec)

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/ping")
	got, err := client.WaitForCommand(context.Background(), cmd.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForCommand() error = %v", err)
	}
	if got.State != model.CommandFailed || !strings.Contains(string(got.Result), "backend unreachable") {
		t.Errorf("got = state %s result %s, want failed with error payload", got.State, got.Result)
	}
}

func TestWorker_IgnoresOtherHosts(t *testing.T) {
	store := recordstore.NewMemoryStore()
	calls := 0
	exec := ExecutorFunc(func(context.Context, model.Command) (Result, error) {
		calls++
		return Result{StatusCode: http.StatusOK}, nil
	})
	p := newTestPublisher(t, store, "MAC-1")
	w := NewWorker(p, exec, WorkerConfig{})
	client := NewClient(store, 0)

	queueCommand(t, client, "PC-1", "/api/v1/ping")
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	w.Wait()
	if calls != 0 {
		t.Errorf("executor calls = %d, want 0", calls)
	}
}

func TestWorker_TelemetryAndNotification(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	telemetry := &fakeCommandTelemetry{}
	w := NewWorker(p, NewHandlerExecutor(testRouter()), WorkerConfig{PollInterval: time.Hour})
	w.SetTelemetry(telemetry)
	client := NewClient(store, 0)
	ctx := context.Background()

	if w.SubscriptionID() != "commands-MAC-1" {
		t.Errorf("SubscriptionID() = %q", w.SubscriptionID())
	}

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/whoami")
	if err := w.HandleNotification(ctx, nil); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	w.Wait()

	got := fetchCommand(t, store, cmd.ID)
	if got.State != model.CommandSucceeded || string(got.Result) != cmd.ID {
		t.Errorf("got = state %s result %q, want succeeded with command header echoed", got.State, got.Result)
	}
	if telemetry.count() != 1 {
		t.Errorf("telemetry events = %d, want 1", telemetry.count())
	}
}

func TestWorker_StartTwice(t *testing.T) {
	store := recordstore.NewMemoryStore()
	w, _ := startWorker(t, store, NewHandlerExecutor(testRouter()))

	if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerRunning) {
		t.Errorf("second Start() error = %v, want ErrWorkerRunning", err)
	}
}

// ============================================================================
// Executors
// ============================================================================

func TestHandlerExecutor_PassesBody(t *testing.T) {
	exec := NewHandlerExecutor(testRouter())

	res, err := exec.Execute(context.Background(), model.Command{ID: "c1", Verb: "POST", Path: "/api/v1/echo", Body: []byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.StatusCode != http.StatusCreated || string(res.Body) != `{"a":1}` {
		t.Errorf("res = %d %s, want 201 echo", res.StatusCode, res.Body)
	}
}

func TestProxyExecutor(t *testing.T) {
	srv := httptest.NewServer(testRouter())
	defer srv.Close()

	exec, err := NewProxyExecutor(srv.URL)
	if err != nil {
		t.Fatalf("NewProxyExecutor() error = %v", err)
	}
	res, err := exec.Execute(context.Background(), model.Command{ID: "c1", Verb: "GET", Path: "/api/v1/ping"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.StatusCode != http.StatusOK || string(res.Body) != "pong" {
		t.Errorf("res = %d %s, want 200 pong", res.StatusCode, res.Body)
	}

	if _, err := NewProxyExecutor("not a url"); err == nil {
		t.Error("NewProxyExecutor(invalid) error = nil")
	}
}

func TestWorker_ReclaimsAbandonedCommand(t *testing.T) {
	store := recordstore.NewMemoryStore()
	crashed := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/ping")
	if got, err := crashed.Claim(ctx, cmd.ID, "dead-worker", time.Millisecond); err != nil || got == nil {
		t.Fatalf("Claim() = %+v, %v", got, err)
	}
	time.Sleep(5 * time.Millisecond)

	p := newTestPublisher(t, store, "MAC-1")
	w := NewWorker(p, NewHandlerExecutor(testRouter()), WorkerConfig{PollInterval: time.Hour})
	if err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	w.Wait()

	got := fetchCommand(t, store, cmd.ID)
	if got.State != model.CommandSucceeded || string(got.Result) != "pong" {
		t.Errorf("got = state %s result %q, want succeeded pong", got.State, got.Result)
	}
}

// ============================================================================
// Executor
// ============================================================================

func TestHandlerExecutor_CapturesResponse(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
	}{
		{
			name:       "silent handler is 200",
			handler:    func(http.ResponseWriter, *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name: "first status wins",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("short and stout"))
			},
			wantStatus: http.StatusTeapot,
			wantBody:   "short and stout",
		},
		{
			name: "write implies 200",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("a"))
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("b"))
			},
			wantStatus: http.StatusOK,
			wantBody:   "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewHandlerExecutor(tt.handler)
			res, err := exec.Execute(context.Background(), model.Command{ID: "c1", Verb: "GET", Path: "/x"})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.StatusCode != tt.wantStatus || string(res.Body) != tt.wantBody {
				t.Errorf("Execute() = %d %q, want %d %q", res.StatusCode, res.Body, tt.wantStatus, tt.wantBody)
			}
		})
	}
}

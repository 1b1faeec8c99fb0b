package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

func TestFetchQueuedCommands(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmds, err := p.FetchQueuedCommands(ctx, 10)
	if err != nil {
		t.Fatalf("FetchQueuedCommands() on empty store error = %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("len(cmds) = %d, want 0", len(cmds))
	}

	first := queueCommand(t, client, "mac-1", "/api/v1/health")
	queueCommand(t, client, "MAC-1", "/api/v1/catalog")
	queueCommand(t, client, "MAC-1", "/api/v1/relay/poll")
	queueCommand(t, client, "PC-1", "/api/v1/health")

	cmds, err = p.FetchQueuedCommands(ctx, 10)
	if err != nil {
		t.Fatalf("FetchQueuedCommands() error = %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("len(cmds) = %d, want 3", len(cmds))
	}
	if cmds[0].ID != first.ID {
		t.Errorf("cmds[0] = %s, want oldest %s", cmds[0].ID, first.ID)
	}

	if cmds, _ = p.FetchQueuedCommands(ctx, 2); len(cmds) != 2 {
		t.Errorf("len(cmds) with limit 2 = %d", len(cmds))
	}

	if _, err := p.Claim(ctx, first.ID, "w1", time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if cmds, _ = p.FetchQueuedCommands(ctx, 0); len(cmds) != 2 {
		t.Errorf("len(cmds) after claim = %d, want 2", len(cmds))
	}
}

func TestClaim(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")

	claimed, err := p.Claim(ctx, cmd.ID, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil {
		t.Fatal("Claim() = nil, want command")
	}
	if claimed.State != model.CommandRunning || claimed.LeaseOwner != "w1" || claimed.LeaseUntil == nil {
		t.Errorf("claimed = %+v, want running leased to w1", claimed)
	}

	again, err := p.Claim(ctx, cmd.ID, "w2", time.Minute)
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if again != nil {
		t.Errorf("second Claim() = %+v, want nil", again)
	}

	if _, err := p.Claim(ctx, "missing", "w1", time.Minute); !errors.Is(err, recordstore.ErrNotFound) {
		t.Errorf("Claim(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClaim_ConcurrentClaimersOneWins(t *testing.T) {
	store := recordstore.NewMemoryStore()
	client := NewClient(store, 0)
	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")

	// Separate publishers stand in for separate processes of the same host.
	const claimers = 6
	publishers := make([]*Publisher, claimers)
	for i := range publishers {
		publishers[i] = newTestPublisher(t, store, "MAC-1")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i, p := range publishers {
		wg.Add(1)
		go func(i int, p *Publisher) {
			defer wg.Done()
			<-start
			got, err := p.Claim(context.Background(), cmd.ID, string(rune('a'+i)), time.Minute)
			if err != nil {
				t.Errorf("Claim() error = %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i, p)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if got := fetchCommand(t, store, cmd.ID); got.State != model.CommandRunning {
		t.Errorf("State = %s, want running", got.State)
	}
}

func TestComplete(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")
	if _, err := p.Claim(ctx, cmd.ID, "w1", time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	_, err := p.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "w2", State: model.CommandSucceeded, StatusCode: 200})
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("Complete(other owner) error = %v, want ErrLeaseHeld", err)
	}

	_, err = p.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "w1", State: model.CommandRunning})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete(non-terminal) error = %v, want ErrInvalidTransition", err)
	}

	done, err := p.Complete(ctx, CompleteRequest{
		CommandID:  cmd.ID,
		Owner:      "w1",
		State:      model.CommandSucceeded,
		StatusCode: 200,
		Result:     []byte(`{"status":"ok"}`),
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.State != model.CommandSucceeded || done.StatusCode != 200 || string(done.Result) != `{"status":"ok"}` {
		t.Errorf("done = %+v", done)
	}

	stored := fetchCommand(t, store, cmd.ID)
	if stored.LeaseOwner != "" || stored.LeaseUntil != nil {
		t.Errorf("lease not cleared: owner %q until %v", stored.LeaseOwner, stored.LeaseUntil)
	}

	_, err = p.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "w1", State: model.CommandFailed})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete(finished) error = %v, want ErrInvalidTransition", err)
	}
}

func TestComplete_ExpiredLeaseAllowsOtherOwner(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")
	if _, err := p.Claim(ctx, cmd.ID, "w1", time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	now = base.Add(2 * time.Minute)
	if _, err := p.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "w2", State: model.CommandFailed, ErrorMessage: "lease expired"}); err != nil {
		t.Fatalf("Complete() after lease expiry error = %v", err)
	}
}

func TestComplete_ErrorPayload(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")
	done, err := p.Complete(ctx, CompleteRequest{
		CommandID:    cmd.ID,
		State:        model.CommandFailed,
		Result:       []byte("ignored"),
		ErrorMessage: "connection refused",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if string(done.Result) != `{"error":"connection refused"}` {
		t.Errorf("Result = %s, want error payload", done.Result)
	}
	if done.ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q", done.ErrorMessage)
	}
}

func TestClaim_ForeignHostRejected(t *testing.T) {
	store := recordstore.NewMemoryStore()
	owner := newTestPublisher(t, store, "HOST-A")
	other := newTestPublisher(t, store, "HOST-B")
	client := NewClient(store, 0)
	ctx := context.Background()

	cmd := queueCommand(t, client, "HOST-A", "/api/v1/health")

	got, err := other.Claim(ctx, cmd.ID, "HOST-B", time.Minute)
	if !errors.Is(err, ErrForeignCommand) {
		t.Fatalf("Claim() by HOST-B error = %v, want ErrForeignCommand", err)
	}
	if got != nil {
		t.Errorf("Claim() by HOST-B = %+v, want nil", got)
	}

	_, err = other.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "HOST-B", State: model.CommandFailed})
	if !errors.Is(err, ErrForeignCommand) {
		t.Fatalf("Complete() by HOST-B error = %v, want ErrForeignCommand", err)
	}

	queued, err := owner.FetchQueuedCommands(ctx, 0)
	if err != nil {
		t.Fatalf("FetchQueuedCommands() error = %v", err)
	}
	if len(queued) != 1 || queued[0].ID != cmd.ID {
		t.Errorf("HOST-A queued = %+v, want the untouched command", queued)
	}
	if stored := fetchCommand(t, store, cmd.ID); stored.State != model.CommandQueued || stored.LeaseOwner != "" {
		t.Errorf("stored = state %s owner %q, want queued with no lease", stored.State, stored.LeaseOwner)
	}
}

func TestClaim_ReclaimsExpiredLease(t *testing.T) {
	store := recordstore.NewMemoryStore()
	p := newTestPublisher(t, store, "MAC-1")
	client := NewClient(store, 0)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	cmd := queueCommand(t, client, "MAC-1", "/api/v1/health")
	if _, err := p.Claim(ctx, cmd.ID, "w1", time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	now = base.Add(30 * time.Second)
	if got, err := p.Claim(ctx, cmd.ID, "w2", time.Minute); err != nil || got != nil {
		t.Fatalf("Claim() under live lease = %+v, %v, want nil, nil", got, err)
	}
	if expired, _ := p.FetchExpiredCommands(ctx, 0); len(expired) != 0 {
		t.Errorf("FetchExpiredCommands() under live lease = %d, want 0", len(expired))
	}

	now = base.Add(2 * time.Minute)
	expired, err := p.FetchExpiredCommands(ctx, 0)
	if err != nil {
		t.Fatalf("FetchExpiredCommands() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != cmd.ID {
		t.Fatalf("FetchExpiredCommands() = %+v, want %s", expired, cmd.ID)
	}

	got, err := p.Claim(ctx, cmd.ID, "w2", time.Minute)
	if err != nil {
		t.Fatalf("Claim() after expiry error = %v", err)
	}
	if got == nil || got.LeaseOwner != "w2" || !got.LeaseUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("reclaimed = %+v, want leased to w2 until %v", got, now.Add(time.Minute))
	}

	_, err = p.Complete(ctx, CompleteRequest{CommandID: cmd.ID, Owner: "w1", State: model.CommandSucceeded})
	if !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("Complete() by previous owner error = %v, want ErrLeaseHeld", err)
	}
}

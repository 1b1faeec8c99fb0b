package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

func newTestPublisher(t *testing.T, store recordstore.Store, host string) *Publisher {
	t.Helper()
	p, err := NewPublisher(store, host)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func fetchModel(t *testing.T, store recordstore.Store, host, id string) model.Model {
	t.Helper()
	rec, err := store.Fetch(context.Background(), model.TypeModel, model.ModelRecordID(host, id))
	if err != nil {
		t.Fatalf("Fetch(model %s) error = %v", id, err)
	}
	var m model.Model
	if err := model.Decode(rec, &m); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return m
}

func fetchCommand(t *testing.T, store recordstore.Store, id string) model.Command {
	t.Helper()
	rec, err := store.Fetch(context.Background(), model.TypeCommand, id)
	if err != nil {
		t.Fatalf("Fetch(command %s) error = %v", id, err)
	}
	var cmd model.Command
	if err := model.Decode(rec, &cmd); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return cmd
}

func modelDraft(id string) model.Model {
	return model.Model{ID: id, Name: id, Provider: "ollama", Exposed: true}
}

func queueCommand(t *testing.T, client *Client, host, path string) *model.Command {
	t.Helper()
	cmd, err := client.CreateCommand(context.Background(), CommandRequest{HostID: host, Verb: "GET", Path: path})
	if err != nil {
		t.Fatalf("CreateCommand() error = %v", err)
	}
	return cmd
}

type fakeStateTelemetry struct {
	mu     sync.Mutex
	states []model.HostState
}

func (f *fakeStateTelemetry) RecordHostState(s model.HostState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

type fakeCommandTelemetry struct {
	mu   sync.Mutex
	cmds []model.Command
}

func (f *fakeCommandTelemetry) RecordCommandExecution(cmd model.Command, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
}

func (f *fakeCommandTelemetry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

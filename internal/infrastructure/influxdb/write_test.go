package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
	"github.com/nerrad567/peerlink-core/internal/model"
)

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestHostStatePoint(t *testing.T) {
	tps := 42.5
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := model.HostState{
		HostID:          "MAC-1",
		ActiveModelID:   "llama",
		Status:          model.DeviceRunning,
		TokensPerSecond: &tps,
		Context:         &model.ContextMetrics{Used: 100, Limit: 4096},
		StateVersion:    7,
		UpdatedAt:       ts,
	}

	line := lineProtocol(hostStatePoint(state))

	for _, want := range []string{
		"host_state,",
		"host_id=MAC-1",
		"model_id=llama",
		"status=running",
		"tokens_per_second=42.5",
		"context_used=100i",
		"context_limit=4096i",
		"state_version=7i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if p := hostStatePoint(state); !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}
}

func TestHostStatePoint_OptionalFields(t *testing.T) {
	line := lineProtocol(hostStatePoint(model.HostState{HostID: "MAC-1", Status: model.DeviceIdle, StateVersion: 1}))

	for _, unwanted := range []string{"tokens_per_second", "context_used", "model_id"} {
		if strings.Contains(line, unwanted) {
			t.Errorf("line %q should not contain %q", line, unwanted)
		}
	}
}

func TestRelayPoint(t *testing.T) {
	line := lineProtocol(relayPoint("conv-1", "completed", 1500*time.Millisecond, time.Now()))

	for _, want := range []string{"relay_processing,outcome=completed", `conversation_id="conv-1"`, "duration_ms=1500"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCommandPoint(t *testing.T) {
	cmd := model.Command{ID: "cmd-1", HostID: "MAC-1", Verb: "GET", State: model.CommandSucceeded, StatusCode: 200}

	line := lineProtocol(commandPoint(cmd, 20*time.Millisecond, time.Now()))

	for _, want := range []string{
		"command_execution,",
		"host_id=MAC-1",
		"state=succeeded",
		"verb=GET",
		`command_id="cmd-1"`,
		"status_code=200i",
		"duration_ms=20",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWrites_NoopWhenDisconnected(t *testing.T) {
	// A zero client has no write API; every write must be dropped.
	c := &Client{}

	c.RecordHostState(model.HostState{HostID: "MAC-1"})
	c.RecordRelayProcessing("conv-1", "completed", time.Second)
	c.RecordCommandExecution(model.Command{ID: "x"}, time.Second)
	c.Flush()

	if got := c.Written(); got != 0 {
		t.Errorf("Written() = %d, want 0", got)
	}

	var nilClient *Client
	nilClient.RecordHostState(model.HostState{HostID: "MAC-1"})
	if got := nilClient.Written(); got != 0 {
		t.Errorf("nil Written() = %d, want 0", got)
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{name: "configured", batch: 50, flush: 2, wantBatch: 50, wantFlush: 2000},
		{name: "zero uses defaults", wantBatch: 100, wantFlush: 10000},
		{name: "negative uses defaults", batch: -5, flush: -1, wantBatch: 100, wantFlush: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

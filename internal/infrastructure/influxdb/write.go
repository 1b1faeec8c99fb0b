package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/peerlink-core/internal/model"
)

// Measurement names.
const (
	measurementHostState = "host_state"
	measurementRelay     = "relay_processing"
	measurementCommand   = "command_execution"
)

// RecordHostState writes a published host state.
//
// Token rate and context usage are only written when the host reported them.
func (c *Client) RecordHostState(state model.HostState) {
	c.writePoint(hostStatePoint(state))
}

// RecordRelayProcessing writes one processed envelope.
//
// The conversation ID is a field rather than a tag to keep series
// cardinality bounded.
func (c *Client) RecordRelayProcessing(conversationID, outcome string, duration time.Duration) {
	c.writePoint(relayPoint(conversationID, outcome, duration, time.Now()))
}

// RecordCommandExecution writes one finished command.
func (c *Client) RecordCommandExecution(cmd model.Command, duration time.Duration) {
	c.writePoint(commandPoint(cmd, duration, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() || c.writeAPI == nil {
		return
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}

func hostStatePoint(state model.HostState) *write.Point {
	fields := map[string]interface{}{
		"state_version": state.StateVersion,
	}
	if state.TokensPerSecond != nil {
		fields["tokens_per_second"] = *state.TokensPerSecond
	}
	if state.Context != nil {
		fields["context_used"] = state.Context.Used
		fields["context_limit"] = state.Context.Limit
	}

	tags := map[string]string{
		"host_id": state.HostID,
		"status":  string(state.Status),
	}
	if state.ActiveModelID != "" {
		tags["model_id"] = state.ActiveModelID
	}

	ts := state.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(measurementHostState, tags, fields, ts)
}

func relayPoint(conversationID, outcome string, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementRelay,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"conversation_id": conversationID,
			"duration_ms":     float64(duration) / float64(time.Millisecond),
		},
		ts,
	)
}

func commandPoint(cmd model.Command, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementCommand,
		map[string]string{
			"host_id": cmd.HostID,
			"verb":    cmd.Verb,
			"state":   string(cmd.State),
		},
		map[string]interface{}{
			"command_id":  cmd.ID,
			"status_code": cmd.StatusCode,
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		ts,
	)
}

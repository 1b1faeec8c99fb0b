package relay

import (
	"time"

	"github.com/nerrad567/peerlink-core/internal/model"
)

// mergeReply folds a generated reply into the current envelope state.
//
// The result is the snapshot the reply was generated from, then the reply,
// then any messages that appeared in current after the snapshot was taken,
// each ID at most once. Without late messages the envelope is completed and
// disarmed. With late messages the requester's needsResponse is kept and the
// envelope goes back to pending when it is still set.
func mergeReply(current *model.Envelope, snapshot []model.RelayMessage, reply model.RelayMessage, now time.Time) {
	seen := make(map[string]struct{}, len(snapshot)+len(current.Messages)+1)
	merged := make([]model.RelayMessage, 0, len(snapshot)+len(current.Messages)+1)

	add := func(m model.RelayMessage) bool {
		if _, ok := seen[m.ID]; ok {
			return false
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
		return true
	}

	for _, m := range snapshot {
		add(m)
	}
	add(reply)

	late := 0
	for _, m := range current.Messages {
		if add(m) {
			late++
		}
	}

	current.Messages = merged
	if late == 0 {
		current.NeedsResponse = false
		current.SetStatus(model.StatusCompleted, now)
		return
	}
	if current.NeedsResponse {
		current.SetStatus(model.StatusPending, now)
		return
	}
	current.SetStatus(model.StatusCompleted, now)
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// Record type names in the store.
const (
	TypeEnvelope  = "Envelope"
	TypeDevice    = "Device"
	TypeModel     = "Model"
	TypeEndpoint  = "Endpoint"
	TypeHostState = "HostState"
	TypeCommand   = "Command"
)

// commandNamespace scopes idempotency-derived command IDs.
var commandNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("peerlink:command"))

// ToFields encodes v into record fields.
func ToFields(v any) (recordstore.Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record fields: %w", err)
	}
	var fields recordstore.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encoding record fields: %w", err)
	}
	return fields, nil
}

// FromFields decodes record fields into v.
func FromFields(fields recordstore.Fields, v any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// Encode replaces rec's fields with the encoding of v.
func Encode(rec *recordstore.Record, v any) error {
	fields, err := ToFields(v)
	if err != nil {
		return err
	}
	rec.Fields = fields
	return nil
}

// Decode decodes rec's fields into v.
func Decode(rec *recordstore.Record, v any) error {
	if err := FromFields(rec.Fields, v); err != nil {
		return fmt.Errorf("%s/%s: %w", rec.Type, rec.ID, err)
	}
	return nil
}

// GenerateID returns a random identifier for messages and commands.
func GenerateID() string {
	return uuid.NewString()
}

// CommandIDForKey derives a stable command ID from a host and idempotency
// key, so re-issuing the same request names the same record.
func CommandIDForKey(hostID, key string) string {
	return uuid.NewSHA1(commandNamespace, []byte(NormalizeHostID(hostID)+"\x00"+key)).String()
}

// NormalizeHostID upper-cases and trims a host identifier.
func NormalizeHostID(hostID string) string {
	return strings.ToUpper(strings.TrimSpace(hostID))
}

// ModelRecordID is the record ID of a host's model.
func ModelRecordID(hostID, modelID string) string {
	return NormalizeHostID(hostID) + "/" + modelID
}

// EndpointRecordID is the record ID of a host's endpoint.
func EndpointRecordID(hostID, endpointID string) string {
	return NormalizeHostID(hostID) + "/" + endpointID
}

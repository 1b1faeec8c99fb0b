package recordstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"time"
)

// Fields holds a record's JSON-compatible field values.
type Fields map[string]any

// Record is one document in the store.
type Record struct {
	Type string
	ID   string

	// ChangeTag is assigned by the store on every save. Zero means the record
	// has never been saved.
	ChangeTag int64

	Fields     Fields
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// NewRecord returns an unsaved record with empty fields.
func NewRecord(recordType, id string) *Record {
	return &Record{Type: recordType, ID: id, Fields: Fields{}}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = cloneFields(r.Fields)
	return &c
}

// Key returns the record's (type, id) identity.
func (r *Record) Key() Key {
	return Key{Type: r.Type, ID: r.ID}
}

// Key identifies a record.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	return k.Type + "/" + k.ID
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	// Values are JSON-shaped; a JSON round trip copies nested maps and slices.
	data, err := json.Marshal(f)
	if err != nil {
		return maps.Clone(f)
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return maps.Clone(f)
	}
	return out
}

// SavePolicy selects how Save treats change tags.
type SavePolicy int

const (
	// IfUnchanged rejects the batch when any record's change tag differs from
	// the stored one.
	IfUnchanged SavePolicy = iota

	// Overwrite saves regardless of the stored change tag.
	Overwrite
)

func (p SavePolicy) String() string {
	switch p {
	case IfUnchanged:
		return "if_unchanged"
	case Overwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("SavePolicy(%d)", int(p))
	}
}

// Condition is an equality test on a top-level field.
type Condition struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Eq builds an equality condition. The value is normalised to its JSON form
// so it compares equal to stored field values.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Value: normalise(value)}
}

// Query filters records of one type. Conditions are ANDed. Results are
// ordered oldest first; Limit <= 0 means no limit.
type Query struct {
	Where []Condition
	Limit int
}

// Subscription asks the store to signal whenever a record of Type matching
// Where is saved.
type Subscription struct {
	ID    string
	Type  string
	Where []Condition
}

// Change is the opaque wake signal delivered for a matching save.
type Change struct {
	SubscriptionID string `json:"subscription"`
	Type           string `json:"type"`
	ID             string `json:"id"`
	ChangeTag      int64  `json:"change_tag"`
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateConditions(conds []Condition) error {
	for _, c := range conds {
		if !fieldNamePattern.MatchString(c.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, c.Field)
		}
	}
	return nil
}

// Matches reports whether the record satisfies every condition.
func Matches(rec *Record, conds []Condition) bool {
	for _, c := range conds {
		v, ok := rec.Fields[c.Field]
		if !ok {
			if c.Value != nil {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(normalise(v), normalise(c.Value)) {
			return false
		}
	}
	return true
}

// normalise converts v to the shape encoding/json decodes it into.
func normalise(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

package recordstore

import (
	"errors"
	"fmt"
)

// Domain-specific errors for record store operations.
var (
	// ErrNotConfigured is returned when no store has been set up.
	ErrNotConfigured = errors.New("recordstore: store not configured")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("recordstore: record not found")

	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("recordstore: record changed concurrently")

	// ErrConflictExceeded is returned when Update exhausts its attempts.
	ErrConflictExceeded = errors.New("recordstore: conflict retry budget exhausted")

	// ErrSchemaUnknown is matched by *SchemaUnknownError.
	ErrSchemaUnknown = errors.New("recordstore: record type unknown")

	// ErrSubscriptionExists is returned when a subscription ID is already registered.
	ErrSubscriptionExists = errors.New("recordstore: subscription already exists")

	// ErrInvalidRecord is returned for records missing a type or ID, or a
	// batch naming the same record twice.
	ErrInvalidRecord = errors.New("recordstore: invalid record")

	// ErrInvalidField is returned for query fields that are not plain identifiers.
	ErrInvalidField = errors.New("recordstore: invalid field name")

	// ErrNoChange is returned by a mutator to abort an update without saving.
	ErrNoChange = errors.New("recordstore: no change")
)

// ConflictError reports an IfUnchanged save whose expected change tag no
// longer matches the stored record. A zero tag means "did not exist".
type ConflictError struct {
	Type     string
	ID       string
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("recordstore: record changed concurrently: %s/%s (expected tag %d, current %d)",
		e.Type, e.ID, e.Expected, e.Current)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// SchemaUnknownError reports a query against a record type the store has
// never provisioned.
type SchemaUnknownError struct {
	Type string
}

func (e *SchemaUnknownError) Error() string {
	return "recordstore: did not find record type: " + e.Type
}

// Is makes errors.Is(err, ErrSchemaUnknown) match.
func (e *SchemaUnknownError) Is(target error) bool {
	return target == ErrSchemaUnknown
}

package recordstore

import (
	"context"
	"errors"
	"strings"
)

// schemaUnknownPhrases are the message shapes stores use when a query names
// a record type that does not exist yet.
var schemaUnknownPhrases = []string{
	"did not find record type",
	"unknown record type",
	"record type unknown",
}

// IsSchemaUnknown reports whether err means recordType has not been
// provisioned in the store. Typed errors are checked first. Errors from
// stores that only report text are matched on the message, which must carry
// one of the known phrases and the type name.
//
// The text match is a best-effort heuristic and can break when a store
// changes its wording.
func IsSchemaUnknown(err error, recordType string) bool {
	if err == nil {
		return false
	}

	var schemaErr *SchemaUnknownError
	if errors.As(err, &schemaErr) {
		return schemaErr.Type == "" || strings.EqualFold(schemaErr.Type, recordType)
	}
	if errors.Is(err, ErrSchemaUnknown) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, strings.ToLower(recordType)) {
		return false
	}
	for _, phrase := range schemaUnknownPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// QueryOrEmpty runs q and maps a schema-unknown failure for recordType to an
// empty result. Any other failure is returned unchanged.
func QueryOrEmpty(ctx context.Context, store Store, recordType string, q Query) ([]*Record, error) {
	recs, err := store.Query(ctx, recordType, q)
	if IsSchemaUnknown(err, recordType) {
		return nil, nil
	}
	return recs, err
}

package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/database"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a SQLite database created by the record
// store migrations. Several peers may open the same database file.
type SQLiteStore struct {
	db   *database.DB
	opts options
}

// NewSQLiteStore creates a store backed by db. The schema must already be
// migrated.
func NewSQLiteStore(db *database.DB, opts ...Option) (*SQLiteStore, error) {
	if db == nil || db.DB == nil {
		return nil, ErrNotConfigured
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLiteStore{db: db, opts: o}, nil
}

// Fetch returns the record or ErrNotFound.
func (s *SQLiteStore) Fetch(ctx context.Context, recordType, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT type, id, change_tag, fields, created_at, modified_at
		 FROM records WHERE type = ? AND id = ?`, recordType, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, recordType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", recordType, id, err)
	}
	return rec, nil
}

// Save writes records in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []*Record, policy SavePolicy) ([]*Record, error) {
	if err := checkBatch(records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var saved []*Record
	var subs []Subscription
	err := database.RetryOnBusy(ctx, database.DefaultBusyRetries, func() error {
		var txErr error
		saved, subs, txErr = s.saveTx(ctx, records, policy)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.opts.signal(ctx, subs, saved)
	return saved, nil
}

func (s *SQLiteStore) saveTx(ctx context.Context, records []*Record, policy SavePolicy) ([]*Record, []Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := s.opts.now().UTC()
	stamp := now.Format(timeLayout)
	saved := make([]*Record, 0, len(records))
	types := make(map[string]struct{})

	for _, rec := range records {
		var currentTag int64
		var createdAt string
		err := tx.QueryRowContext(ctx,
			`SELECT change_tag, created_at FROM records WHERE type = ? AND id = ?`,
			rec.Type, rec.ID).Scan(&currentTag, &createdAt)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("reading change tag for %s: %w", rec.Key(), err)
		}

		if policy == IfUnchanged && currentTag != rec.ChangeTag {
			return nil, nil, &ConflictError{Type: rec.Type, ID: rec.ID, Expected: rec.ChangeTag, Current: currentTag}
		}

		if _, ok := types[rec.Type]; !ok {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO record_types (name, provisioned_at) VALUES (?, ?)`,
				rec.Type, stamp); err != nil {
				return nil, nil, fmt.Errorf("provisioning type %s: %w", rec.Type, err)
			}
			types[rec.Type] = struct{}{}
		}

		fields := rec.Fields
		if fields == nil {
			fields = Fields{}
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding fields for %s: %w", rec.Key(), err)
		}

		out := rec.Clone()
		out.ChangeTag = currentTag + 1
		out.ModifiedAt = now
		if exists {
			out.CreatedAt = parseTime(createdAt)
			_, err = tx.ExecContext(ctx,
				`UPDATE records SET change_tag = ?, fields = ?, modified_at = ? WHERE type = ? AND id = ?`,
				out.ChangeTag, string(data), stamp, rec.Type, rec.ID)
		} else {
			out.CreatedAt = now
			_, err = tx.ExecContext(ctx,
				`INSERT INTO records (type, id, change_tag, fields, created_at, modified_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				rec.Type, rec.ID, out.ChangeTag, string(data), stamp, stamp)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("writing %s: %w", rec.Key(), err)
		}
		saved = append(saved, out)
	}

	subs, err := loadSubscriptions(ctx, tx, types)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing save: %w", err)
	}
	return saved, subs, nil
}

// Query returns records of recordType matching q, oldest first.
func (s *SQLiteStore) Query(ctx context.Context, recordType string, q Query) ([]*Record, error) {
	if err := validateConditions(q.Where); err != nil {
		return nil, err
	}

	var provisioned int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM record_types WHERE name = ?`, recordType).Scan(&provisioned); err != nil {
		return nil, fmt.Errorf("checking record type %s: %w", recordType, err)
	}
	if provisioned == 0 {
		return nil, &SchemaUnknownError{Type: recordType}
	}

	var sb strings.Builder
	args := []any{recordType}
	sb.WriteString(`SELECT type, id, change_tag, fields, created_at, modified_at FROM records WHERE type = ?`)
	for _, c := range q.Where {
		path := "$." + c.Field
		if c.Value == nil {
			sb.WriteString(` AND json_extract(fields, ?) IS NULL`)
			args = append(args, path)
			continue
		}
		sb.WriteString(` AND json_extract(fields, ?) = ?`)
		args = append(args, path, sqlValue(c.Value))
	}
	sb.WriteString(` ORDER BY created_at, rowid`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", recordType, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", recordType, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", recordType, err)
	}
	return out, nil
}

// Subscribe persists the subscription so every peer writing to this
// database signals it.
func (s *SQLiteStore) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.ID == "" || sub.Type == "" {
		return ErrInvalidRecord
	}
	if err := validateConditions(sub.Where); err != nil {
		return err
	}
	where, err := json.Marshal(sub.Where)
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, type, where_json, created_at) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.Type, string(where), s.opts.now().UTC().Format(timeLayout))
	if database.IsUniqueConstraint(err) {
		return fmt.Errorf("%w: %s", ErrSubscriptionExists, sub.ID)
	}
	if err != nil {
		return fmt.Errorf("registering subscription %s: %w", sub.ID, err)
	}
	return nil
}

func loadSubscriptions(ctx context.Context, tx *sql.Tx, types map[string]struct{}) ([]Subscription, error) {
	var subs []Subscription
	for recordType := range types {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, type, where_json FROM subscriptions WHERE type = ?`, recordType)
		if err != nil {
			return nil, fmt.Errorf("loading subscriptions: %w", err)
		}
		for rows.Next() {
			var sub Subscription
			var where string
			if err := rows.Scan(&sub.ID, &sub.Type, &where); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning subscription: %w", err)
			}
			if err := json.Unmarshal([]byte(where), &sub.Where); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decoding subscription %s: %w", sub.ID, err)
			}
			subs = append(subs, sub)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating subscriptions: %w", err)
		}
	}
	return subs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var fields, createdAt, modifiedAt string
	if err := row.Scan(&rec.Type, &rec.ID, &rec.ChangeTag, &fields, &createdAt, &modifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = Fields{}
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.ModifiedAt = parseTime(modifiedAt)
	return &rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // Format is controlled
	}
	return t
}

// sqlValue maps a normalised condition value onto what json_extract returns.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string, float64:
		return x
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

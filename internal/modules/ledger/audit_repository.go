package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
)

// AuditRepository appends audit facts to the audit log
type AuditRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// AuditEntry is a stored audit fact
type AuditEntry struct {
	ID int64 `json:"id"`
	domain.AuditFact
}

// Record appends facts atomically: either all are written or none
func (r *AuditRepository) Record(ctx context.Context, facts []domain.AuditFact) error {
	if len(facts) == 0 {
		return nil
	}
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for _, f := range facts {
			oldJSON, err := marshalFields(f.Old)
			if err != nil {
				return err
			}
			newJSON, err := marshalFields(f.New)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO audit_log (at, actor, action, entity, entity_id, old_json, new_json, note)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				f.At.UnixNano(), f.Actor, f.Action, f.Entity, f.EntityID, oldJSON, newJSON,
				sql.NullString{String: f.Note, Valid: f.Note != ""})
			if err != nil {
				return fmt.Errorf("failed to append audit fact %s for %s %s: %w", f.Action, f.Entity, f.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Debug().Int("facts", len(facts)).Msg("Audit facts recorded")
	return nil
}

// List returns audit entries, oldest first. Empty entity or entityID match
// everything; limit <= 0 means no limit.
func (r *AuditRepository) List(ctx context.Context, entity, entityID string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, at, actor, action, entity, entity_id, old_json, new_json, COALESCE(note, '')
		FROM audit_log WHERE (? = '' OR entity = ?) AND (? = '' OR entity_id = ?) ORDER BY id`
	args := []interface{}{entity, entity, entityID, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var at int64
		var oldJSON, newJSON sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &e.Entity, &e.EntityID, &oldJSON, &newJSON, &e.Note); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		if e.Old, err = unmarshalFields(oldJSON); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w", e.ID, err)
		}
		if e.New, err = unmarshalFields(newJSON); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

func marshalFields(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal audit fields: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalFields(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("invalid audit fields: %w", err)
	}
	return m, nil
}

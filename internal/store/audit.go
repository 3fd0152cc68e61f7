// ABOUTME: Audit log entity and store methods for tracking account and credential changes
// ABOUTME: Records who changed what on which user; entries never carry secret material

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreateUser       AuditAction = "create_user"
	AuditChangePassword   AuditAction = "change_password"
	AuditSetCredential    AuditAction = "set_credential"
	AuditClearCredential  AuditAction = "clear_credential"
	AuditSetPreference    AuditAction = "set_preference"
	AuditIssueToken       AuditAction = "issue_token"
	AuditRevealCredential AuditAction = "reveal_credential"
)

// ActorOperator is the actor recorded for CLI operations.
const ActorOperator = "operator"

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditCreateUser,
	AuditChangePassword,
	AuditSetCredential,
	AuditClearCredential,
	AuditSetPreference,
	AuditIssueToken,
	AuditRevealCredential,
}

// ParseAuditAction returns the action named s.
func ParseAuditAction(s string) (AuditAction, error) {
	for _, a := range ValidAuditActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown audit action %q", s)
}

// AuditEntry represents a single audit log entry.
// Detail holds identifiers only (provider names, TTLs), never keys or passwords.
type AuditEntry struct {
	ID        string         // UUID v4
	Actor     string         // user ID, or ActorOperator
	Action    AuditAction    // what action was performed
	UserID    string         // user the action applied to
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since  *time.Time   // entries at or after this time
	Until  *time.Time   // entries at or before this time
	Actor  *string      // filter by actor
	Action *AuditAction // filter by action type
	UserID *string      // filter by affected user
	Limit  int          // max results (default 100, max 1000)
}

// AuditLog records and lists audit entries.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// prepareAuditEntry fills in ID and Timestamp when unset.
func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor, action, user_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Actor,
		e.Action,
		e.UserID,
		e.Timestamp.UTC().Format(time.RFC3339),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"user_id", e.UserID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// auditQueryArgs builds the query arguments from an AuditFilter.
type auditQueryArgs struct {
	sinceStr  *string
	untilStr  *string
	actionStr *string
}

// buildAuditQueryArgs converts filter time/action fields to query args.
func buildAuditQueryArgs(f AuditFilter) auditQueryArgs {
	var args auditQueryArgs
	if f.Since != nil {
		s := f.Since.UTC().Format(time.RFC3339)
		args.sinceStr = &s
	}
	if f.Until != nil {
		s := f.Until.UTC().Format(time.RFC3339)
		args.untilStr = &s
	}
	if f.Action != nil {
		a := string(*f.Action)
		args.actionStr = &a
	}
	return args
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.Actor,
		&actionStr,
		&e.UserID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// Entries within the same second keep insertion order via rowid.
const auditLogQuery = `
	SELECT audit_id, actor, action, user_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR user_id = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)
	args := buildAuditQueryArgs(f)

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		args.sinceStr, args.sinceStr,
		args.untilStr, args.untilStr,
		f.Actor, f.Actor,
		args.actionStr, args.actionStr,
		f.UserID, f.UserID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// matches reports whether e passes f. Used by MockStore.
func (f AuditFilter) matches(e AuditEntry) bool {
	ts := e.Timestamp.UTC().Truncate(time.Second)
	if f.Since != nil && ts.Before(f.Since.UTC().Truncate(time.Second)) {
		return false
	}
	if f.Until != nil && ts.After(f.Until.UTC().Truncate(time.Second)) {
		return false
	}
	if f.Actor != nil && e.Actor != *f.Actor {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.UserID != nil && e.UserID != *f.UserID {
		return false
	}
	return true
}

var _ AuditLog = (*SQLiteStore)(nil)

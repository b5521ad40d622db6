package repo

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// SyncSessionRepository handles the sync_sessions and sync_log_entries
// tables.
type SyncSessionRepository struct {
	log zerolog.Logger
}

// NewSyncSessionRepository creates a SyncSessionRepository.
func NewSyncSessionRepository(log zerolog.Logger) *SyncSessionRepository {
	return &SyncSessionRepository{log: log.With().Str("repo", "sync_session").Logger()}
}

// Create inserts a new SyncSession with the is_complete flag the caller set.
func (r *SyncSessionRepository) Create(q Querier, session *domain.SyncSession) error {
	_, err := q.Exec(`INSERT INTO sync_sessions (id, timestamp, is_complete, error_message) VALUES (?, ?, ?, ?)`,
		session.ID, session.Timestamp, session.IsComplete, session.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create sync session %s: %w", session.ID, err)
	}
	return nil
}

// Complete mutates the session once with its final status; sessions are
// never edited after that.
func (r *SyncSessionRepository) Complete(q Querier, sessionID string, isComplete bool, errMsg *string) error {
	_, err := q.Exec(`UPDATE sync_sessions SET is_complete = ?, error_message = ? WHERE id = ?`, isComplete, errMsg, sessionID)
	if err != nil {
		return fmt.Errorf("complete sync session %s: %w", sessionID, err)
	}
	return nil
}

// Get loads a single sync session by ID.
func (r *SyncSessionRepository) Get(q Querier, id string) (*domain.SyncSession, error) {
	var s domain.SyncSession
	var errMsg sql.NullString
	err := q.QueryRow(`SELECT id, timestamp, is_complete, error_message FROM sync_sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Timestamp, &s.IsComplete, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync session %s: %w", id, err)
	}
	if errMsg.Valid {
		m := errMsg.String
		s.ErrorMessage = &m
	}
	return &s, nil
}

// LogEntry is one provider's outcome summary within a sync session.
type LogEntry struct {
	SyncSessionID  string
	ProviderName   string
	Status         string
	AccountsSynced int
	AccountsStale  int
	AccountsError  int
	ErrorMessage   *string
}

// WriteLogEntry inserts one provider's log entry for a sync session.
func (r *SyncSessionRepository) WriteLogEntry(q Querier, e LogEntry) error {
	_, err := q.Exec(`INSERT INTO sync_log_entries
		(sync_session_id, provider_name, status, accounts_synced, accounts_stale, accounts_error, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SyncSessionID, e.ProviderName, e.Status, e.AccountsSynced, e.AccountsStale, e.AccountsError, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("write log entry for %s: %w", e.ProviderName, err)
	}
	return nil
}

// LogEntriesFor returns every log entry written for a session, for the
// HTTP read surface.
func (r *SyncSessionRepository) LogEntriesFor(q Querier, sessionID string) ([]LogEntry, error) {
	rows, err := q.Query(`SELECT sync_session_id, provider_name, status, accounts_synced, accounts_stale, accounts_error, error_message
		FROM sync_log_entries WHERE sync_session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("log entries for %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var errMsg sql.NullString
		if err := rows.Scan(&e.SyncSessionID, &e.ProviderName, &e.Status, &e.AccountsSynced, &e.AccountsStale, &e.AccountsError, &errMsg); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if errMsg.Valid {
			m := errMsg.String
			e.ErrorMessage = &m
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

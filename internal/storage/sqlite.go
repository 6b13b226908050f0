package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/storage/migrations"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/session"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const migrationTable = "schema_migrations"

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens a SQLite store and applies embedded migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("SQLite store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := db.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := upMigration(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec("INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)", file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upMigration returns the SQL between the Up and Down markers.
func upMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	content = content[upIdx+len("-- +migrate Up"):]
	if downIdx := strings.Index(content, "-- +migrate Down"); downIdx != -1 {
		content = content[:downIdx]
	}
	return content
}

func isUniqueConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `id, world_description, player_description, language, initial_message, created_at, ended_at`

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s         session.Session
		rawID     string
		createdAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&rawID, &s.WorldDescription, &s.PlayerDescription, &s.Language, &s.InitialMessage, &createdAt, &endedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("malformed session id %q: %w", rawID, err)
	}
	s.ID = id
	s.CreatedAt = fromMillis(createdAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		sess.ID.String(), sess.WorldDescription, sess.PlayerDescription, sess.Language, sess.InitialMessage, toMillis(sess.CreatedAt))
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("session %s already exists", sess.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listCharacters(ctx context.Context, q queryer, id uuid.UUID) ([]session.Character, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, description, gender FROM characters WHERE session_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.Character
	for rows.Next() {
		var ch session.Character
		var gender string
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &gender); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		ch.Gender = session.Gender(gender)
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListCharacters(ctx context.Context, id uuid.UUID) ([]session.Character, error) {
	return listCharacters(ctx, s.db, id)
}

func (s *SQLiteStore) CommitTurn(ctx context.Context, id uuid.UUID, commit *session.TurnCommit) (*Committed, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}

	chars, err := listCharacters(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	var turnCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, id.String()).Scan(&turnCount); err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}

	out, err := prepareCommit(chars, turnCount, maxCharacterID(chars)+1, commit)
	if err != nil {
		return nil, err
	}

	for _, ch := range out.Characters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO characters (session_id, id, name, description, gender) VALUES (?, ?, ?, ?, ?)`,
			id.String(), ch.ID, ch.Name, ch.Description, string(ch.Gender)); err != nil {
			if isUniqueConstraint(err) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateCharacter, ch.Name)
			}
			return nil, fmt.Errorf("insert character: %w", err)
		}
	}

	t := out.Turn
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, sequence, user_input, master_output, narrative, display, ended, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), t.Sequence, t.UserInput, t.MasterOutput, t.Narrative, t.Display, t.Ended, toMillis(t.CreatedAt)); err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: sequence %d already committed", ErrSequenceConflict, t.Sequence)
		}
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	for pos, charID := range t.ActiveCharacterIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turn_characters (session_id, sequence, position, character_id) VALUES (?, ?, ?, ?)`,
			id.String(), t.Sequence, pos, charID); err != nil {
			return nil, fmt.Errorf("insert active character: %w", err)
		}
	}
	if at := endedAt(t); at != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, toMillis(*at), id.String()); err != nil {
			return nil, fmt.Errorf("mark session ended: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	s.logger.Debug("Turn committed", "session_id", id, "sequence", t.Sequence, "new_characters", len(out.Characters))
	return out, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, id uuid.UUID) ([]session.Turn, error) {
	return s.queryTurns(ctx, id, 0)
}

func (s *SQLiteStore) LoadTurn(ctx context.Context, id uuid.UUID, sequence int) (*session.Turn, error) {
	if sequence < 1 {
		return nil, nil
	}
	turns, err := s.queryTurns(ctx, id, sequence)
	if err != nil || len(turns) == 0 {
		return nil, err
	}
	return &turns[0], nil
}

// queryTurns loads one turn when sequence > 0, otherwise all of them.
func (s *SQLiteStore) queryTurns(ctx context.Context, id uuid.UUID, sequence int) ([]session.Turn, error) {
	query := `SELECT sequence, user_input, master_output, narrative, display, ended, created_at
		FROM turns WHERE session_id = ?`
	args := []any{id.String()}
	if sequence > 0 {
		query += ` AND sequence = ?`
		args = append(args, sequence)
	}
	query += ` ORDER BY sequence`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	var turns []session.Turn
	for rows.Next() {
		var t session.Turn
		var createdAt int64
		if err := rows.Scan(&t.Sequence, &t.UserInput, &t.MasterOutput, &t.Narrative, &t.Display, &t.Ended, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = fromMillis(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	active, err := s.activeIDs(ctx, id, sequence)
	if err != nil {
		return nil, err
	}
	for i := range turns {
		turns[i].ActiveCharacterIDs = active[turns[i].Sequence]
	}
	return turns, nil
}

func (s *SQLiteStore) activeIDs(ctx context.Context, id uuid.UUID, sequence int) (map[int][]int64, error) {
	query := `SELECT sequence, character_id FROM turn_characters WHERE session_id = ?`
	args := []any{id.String()}
	if sequence > 0 {
		query += ` AND sequence = ?`
		args = append(args, sequence)
	}
	query += ` ORDER BY sequence, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active characters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int][]int64)
	for rows.Next() {
		var seq int
		var charID int64
		if err := rows.Scan(&seq, &charID); err != nil {
			return nil, fmt.Errorf("scan active character: %w", err)
		}
		out[seq] = append(out[seq], charID)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ActiveCharacters(ctx context.Context, id uuid.UUID, sequence int) ([]session.Character, error) {
	t, err := s.LoadTurn(ctx, id, sequence)
	if err != nil || t == nil {
		return nil, err
	}
	chars, err := s.ListCharacters(ctx, id)
	if err != nil {
		return nil, err
	}
	return pickCharacters(chars, t.ActiveCharacterIDs), nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, id uuid.UUID, rec *session.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM audit_records WHERE session_id = ?`, id.String()).Scan(&next); err != nil {
		return fmt.Errorf("allocate audit id: %w", err)
	}
	if err := prepareAudit(rec, next); err != nil {
		return err
	}

	var respRole, respContent sql.NullString
	if rec.Response != nil {
		respRole = sql.NullString{String: rec.Response.Role, Valid: true}
		respContent = sql.NullString{String: rec.Response.Content, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_records (session_id, id, agent, purpose, sequence, request_role, request_content, response_role, response_content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), rec.ID, string(rec.Agent), string(rec.Purpose), rec.Sequence,
		rec.Request.Role, rec.Request.Content, respRole, respContent, toMillis(rec.CreatedAt)); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListAudit(ctx context.Context, id uuid.UUID, agent session.AgentKind) ([]session.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, purpose, sequence, request_role, request_content, response_role, response_content, created_at
		 FROM audit_records WHERE session_id = ? AND agent = ? ORDER BY id`, id.String(), string(agent))
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.AuditRecord
	for rows.Next() {
		var (
			rec                   session.AuditRecord
			purpose               string
			respRole, respContent sql.NullString
			createdAt             int64
		)
		if err := rows.Scan(&rec.ID, &purpose, &rec.Sequence, &rec.Request.Role, &rec.Request.Content, &respRole, &respContent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Agent = agent
		rec.Purpose = session.Purpose(purpose)
		rec.CreatedAt = fromMillis(createdAt)
		if respRole.Valid {
			rec.Response = &chat.ChatMessage{Role: respRole.String, Content: respContent.String}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

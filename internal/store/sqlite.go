package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crucible_materials (
	name     TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	kind     TEXT NOT NULL DEFAULT 'alloy',
	yield    REAL,
	content  TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_additives (
	name     TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	content  TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_limits (
	group_key TEXT PRIMARY KEY,
	limits    TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_presets (
	channel TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crucible_sheets (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	instrument_group TEXT NOT NULL DEFAULT '',
	channels         TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crucible_runs (
	id               TEXT PRIMARY KEY,
	sheet_id         TEXT,
	channel          TEXT NOT NULL,
	instrument_group TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL,
	passed           INTEGER NOT NULL,
	solver_rank      INTEGER NOT NULL,
	topup_g          REAL NOT NULL DEFAULT 0,
	warning_count    INTEGER NOT NULL DEFAULT 0,
	result           TEXT NOT NULL,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS crucible_runs_sheet_idx ON crucible_runs (sheet_id, created_at);
`

// SQLiteStore keeps everything in a single local database file. It backs the
// offline CLI and single-station deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "crucible.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; parallel channel solves persist through the same handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- Catalog ---

func (s *SQLiteStore) ListMaterials(ctx context.Context) ([]alloy.Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, yield, content
		FROM crucible_materials ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []alloy.Material
	for rows.Next() {
		var m alloy.Material
		var kind, content string
		var yield sql.NullFloat64
		if err := rows.Scan(&m.Name, &kind, &yield, &content); err != nil {
			return nil, err
		}
		m.Kind = alloy.MaterialKind(kind)
		if yield.Valid {
			y := yield.Float64
			m.Yield = &y
		}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decode material %s: %w", m.Name, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertMaterial(ctx context.Context, m alloy.Material) error {
	return sqliteUpsertMaterial(ctx, s.db, m)
}

func (s *SQLiteStore) ListAdditives(ctx context.Context) ([]alloy.Additive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, content FROM crucible_additives ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []alloy.Additive
	for rows.Next() {
		var a alloy.Additive
		var content string
		if err := rows.Scan(&a.Name, &content); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &a.Content); err != nil {
			return nil, fmt.Errorf("decode additive %s: %w", a.Name, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertAdditive(ctx context.Context, a alloy.Additive) error {
	return sqliteUpsertAdditive(ctx, s.db, a)
}

func (s *SQLiteStore) ListLimits(ctx context.Context) (map[string]alloy.Limits, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_key, limits FROM crucible_limits`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]alloy.Limits)
	for rows.Next() {
		var group, raw string
		if err := rows.Scan(&group, &raw); err != nil {
			return nil, err
		}
		var l alloy.Limits
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("decode limits %s: %w", group, err)
		}
		out[group] = l
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertLimits(ctx context.Context, group string, l alloy.Limits) error {
	return sqliteUpsertLimits(ctx, s.db, group, l)
}

func (s *SQLiteStore) ListPresets(ctx context.Context) ([]catalog.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM crucible_presets ORDER BY channel ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Preset
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p catalog.Preset
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode preset: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertPreset(ctx context.Context, p catalog.Preset) error {
	return sqliteUpsertPreset(ctx, s.db, p)
}

func (s *SQLiteStore) ReplaceCatalog(ctx context.Context, c *catalog.Catalog) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"crucible_materials", "crucible_additives", "crucible_limits", "crucible_presets"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, m := range c.Materials() {
		if err := sqliteUpsertMaterial(ctx, tx, m); err != nil {
			return err
		}
	}
	for _, a := range c.Additives() {
		if err := sqliteUpsertAdditive(ctx, tx, a); err != nil {
			return err
		}
	}
	for group, l := range c.AllLimits() {
		if err := sqliteUpsertLimits(ctx, tx, group, l); err != nil {
			return err
		}
	}
	for _, p := range c.Presets() {
		if err := sqliteUpsertPreset(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func sqliteUpsertMaterial(ctx context.Context, db sqlExecer, m alloy.Material) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode material %s: %w", m.Name, err)
	}
	kind := m.Kind
	if kind == "" {
		kind = alloy.KindAlloy
	}
	var yield sql.NullFloat64
	if m.Yield != nil {
		yield = sql.NullFloat64{Float64: *m.Yield, Valid: true}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO crucible_materials (name, position, kind, yield, content)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM crucible_materials), ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			kind = excluded.kind, yield = excluded.yield, content = excluded.content`,
		catalog.NormalizeName(m.Name), string(kind), yield, string(content),
	)
	return err
}

func sqliteUpsertAdditive(ctx context.Context, db sqlExecer, a alloy.Additive) error {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("encode additive %s: %w", a.Name, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO crucible_additives (name, position, content)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM crucible_additives), ?)
		ON CONFLICT (name) DO UPDATE SET content = excluded.content`,
		catalog.NormalizeName(a.Name), string(content),
	)
	return err
}

func sqliteUpsertLimits(ctx context.Context, db sqlExecer, group string, l alloy.Limits) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode limits %s: %w", group, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO crucible_limits (group_key, limits) VALUES (?, ?)
		ON CONFLICT (group_key) DO UPDATE SET limits = excluded.limits`,
		group, string(raw),
	)
	return err
}

func sqliteUpsertPreset(ctx context.Context, db sqlExecer, p catalog.Preset) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preset %s: %w", p.Channel, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO crucible_presets (channel, payload) VALUES (?, ?)
		ON CONFLICT (channel) DO UPDATE SET payload = excluded.payload`,
		p.Channel, string(payload),
	)
	return err
}

// --- Sheets ---

func (s *SQLiteStore) CreateSheet(ctx context.Context, sheet *Sheet) error {
	channels, err := json.Marshal(sheet.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	id := uuid.New()
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO crucible_sheets (id, name, instrument_group, channels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), sheet.Name, sheet.InstrumentGroup, string(channels), formatTime(now), formatTime(now),
	); err != nil {
		return err
	}
	sheet.ID, sheet.CreatedAt, sheet.UpdatedAt = id, now, now
	return nil
}

func (s *SQLiteStore) GetSheet(ctx context.Context, id uuid.UUID) (*Sheet, error) {
	sheet, err := scanSQLiteSheet(s.db.QueryRowContext(ctx, `
		SELECT `+sheetColumns+` FROM crucible_sheets WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sheet, err
}

func (s *SQLiteStore) ListSheets(ctx context.Context) ([]*Sheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sheetColumns+` FROM crucible_sheets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sheets []*Sheet
	for rows.Next() {
		sheet, err := scanSQLiteSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, rows.Err()
}

func (s *SQLiteStore) DeleteSheet(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE crucible_runs SET sheet_id = NULL WHERE sheet_id = ?`, id.String()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM crucible_sheets WHERE id = ?`, id.String())
	return err
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteSheet(row sqlRow) (*Sheet, error) {
	sheet := &Sheet{}
	var id, channels, created, updated string
	if err := row.Scan(&id, &sheet.Name, &sheet.InstrumentGroup, &channels, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if sheet.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse sheet id: %w", err)
	}
	if sheet.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sheet.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &sheet.Channels); err != nil {
		return nil, fmt.Errorf("decode sheet %s: %w", id, err)
	}
	return sheet, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	id := uuid.New()
	now := s.now()
	var sheetID sql.NullString
	if run.SheetID != nil {
		sheetID = sql.NullString{String: run.SheetID.String(), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO crucible_runs (id, sheet_id, channel, instrument_group, mode, passed, solver_rank,
			topup_g, warning_count, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), sheetID, run.Channel, run.InstrumentGroup, string(run.Mode), run.Passed, run.Rank,
		run.TopUpGrams, run.WarningCount, string(result), formatTime(now),
	); err != nil {
		return err
	}
	run.ID, run.CreatedAt = id, now
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanSQLiteRun(s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM crucible_runs WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM crucible_runs WHERE 1=1`
	args := []any{}

	if filter.SheetID != nil {
		query += " AND sheet_id = ?"
		args = append(args, filter.SheetID.String())
	}
	if filter.Channel != "" {
		query += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, runLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanSQLiteRun(row sqlRow) (*Run, error) {
	run := &Run{}
	var id, mode, result, created string
	var sheetID sql.NullString
	if err := row.Scan(
		&id, &sheetID, &run.Channel, &run.InstrumentGroup, &mode, &run.Passed, &run.Rank,
		&run.TopUpGrams, &run.WarningCount, &result, &created,
	); err != nil {
		return nil, err
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if sheetID.Valid {
		sid, err := uuid.Parse(sheetID.String)
		if err != nil {
			return nil, fmt.Errorf("parse sheet id: %w", err)
		}
		run.SheetID = &sid
	}
	if run.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	run.Mode = alloy.Mode(mode)
	if err := json.Unmarshal([]byte(result), &run.Result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// sqliteTime has a fixed width so timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

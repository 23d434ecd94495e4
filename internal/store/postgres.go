package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS crucible_materials (
	name     TEXT PRIMARY KEY,
	position BIGSERIAL,
	kind     TEXT NOT NULL DEFAULT 'alloy',
	yield    DOUBLE PRECISION,
	content  JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_additives (
	name     TEXT PRIMARY KEY,
	position BIGSERIAL,
	content  JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_limits (
	group_key TEXT PRIMARY KEY,
	limits    JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crucible_presets (
	channel TEXT PRIMARY KEY,
	payload JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS crucible_sheets (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name             TEXT NOT NULL,
	instrument_group TEXT NOT NULL DEFAULT '',
	channels         JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS crucible_runs (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	sheet_id         UUID REFERENCES crucible_sheets(id) ON DELETE SET NULL,
	channel          TEXT NOT NULL,
	instrument_group TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL,
	passed           BOOLEAN NOT NULL,
	solver_rank      INTEGER NOT NULL,
	topup_g          DOUBLE PRECISION NOT NULL DEFAULT 0,
	warning_count    INTEGER NOT NULL DEFAULT 0,
	result           JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crucible_runs_sheet_idx ON crucible_runs (sheet_id, created_at DESC);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Catalog ---

func (s *PostgresStore) ListMaterials(ctx context.Context) ([]alloy.Material, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, kind, yield, content
		FROM crucible_materials ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alloy.Material
	for rows.Next() {
		var m alloy.Material
		var kind string
		var contentJSON []byte
		if err := rows.Scan(&m.Name, &kind, &m.Yield, &contentJSON); err != nil {
			return nil, err
		}
		m.Kind = alloy.MaterialKind(kind)
		if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
			return nil, fmt.Errorf("decode material %s: %w", m.Name, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMaterial(ctx context.Context, m alloy.Material) error {
	return upsertMaterial(ctx, s.pool, m)
}

func (s *PostgresStore) ListAdditives(ctx context.Context) ([]alloy.Additive, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, content FROM crucible_additives ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alloy.Additive
	for rows.Next() {
		var a alloy.Additive
		var contentJSON []byte
		if err := rows.Scan(&a.Name, &contentJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contentJSON, &a.Content); err != nil {
			return nil, fmt.Errorf("decode additive %s: %w", a.Name, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAdditive(ctx context.Context, a alloy.Additive) error {
	return upsertAdditive(ctx, s.pool, a)
}

func (s *PostgresStore) ListLimits(ctx context.Context) (map[string]alloy.Limits, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_key, limits FROM crucible_limits`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]alloy.Limits)
	for rows.Next() {
		var group string
		var limitsJSON []byte
		if err := rows.Scan(&group, &limitsJSON); err != nil {
			return nil, err
		}
		var l alloy.Limits
		if err := json.Unmarshal(limitsJSON, &l); err != nil {
			return nil, fmt.Errorf("decode limits %s: %w", group, err)
		}
		out[group] = l
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertLimits(ctx context.Context, group string, l alloy.Limits) error {
	return upsertLimits(ctx, s.pool, group, l)
}

func (s *PostgresStore) ListPresets(ctx context.Context) ([]catalog.Preset, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM crucible_presets ORDER BY channel ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Preset
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p catalog.Preset
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode preset: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPreset(ctx context.Context, p catalog.Preset) error {
	return upsertPreset(ctx, s.pool, p)
}

// ReplaceCatalog swaps every catalog table for the contents of c in one transaction.
func (s *PostgresStore) ReplaceCatalog(ctx context.Context, c *catalog.Catalog) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"crucible_materials", "crucible_additives", "crucible_limits", "crucible_presets"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, m := range c.Materials() {
		if err := upsertMaterial(ctx, tx, m); err != nil {
			return err
		}
	}
	for _, a := range c.Additives() {
		if err := upsertAdditive(ctx, tx, a); err != nil {
			return err
		}
	}
	for group, l := range c.AllLimits() {
		if err := upsertLimits(ctx, tx, group, l); err != nil {
			return err
		}
	}
	for _, p := range c.Presets() {
		if err := upsertPreset(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgExecer is satisfied by both the pool and a transaction.
type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertMaterial(ctx context.Context, db pgExecer, m alloy.Material) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode material %s: %w", m.Name, err)
	}
	kind := m.Kind
	if kind == "" {
		kind = alloy.KindAlloy
	}
	_, err = db.Exec(ctx, `
		INSERT INTO crucible_materials (name, kind, yield, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind, yield = EXCLUDED.yield, content = EXCLUDED.content`,
		catalog.NormalizeName(m.Name), string(kind), m.Yield, contentJSON,
	)
	return err
}

func upsertAdditive(ctx context.Context, db pgExecer, a alloy.Additive) error {
	contentJSON, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("encode additive %s: %w", a.Name, err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO crucible_additives (name, content)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content`,
		catalog.NormalizeName(a.Name), contentJSON,
	)
	return err
}

func upsertLimits(ctx context.Context, db pgExecer, group string, l alloy.Limits) error {
	limitsJSON, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode limits %s: %w", group, err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO crucible_limits (group_key, limits)
		VALUES ($1, $2)
		ON CONFLICT (group_key) DO UPDATE SET limits = EXCLUDED.limits`,
		group, limitsJSON,
	)
	return err
}

func upsertPreset(ctx context.Context, db pgExecer, p catalog.Preset) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preset %s: %w", p.Channel, err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO crucible_presets (channel, payload)
		VALUES ($1, $2)
		ON CONFLICT (channel) DO UPDATE SET payload = EXCLUDED.payload`,
		p.Channel, payload,
	)
	return err
}

// --- Sheets ---

func (s *PostgresStore) CreateSheet(ctx context.Context, sheet *Sheet) error {
	channelsJSON, err := json.Marshal(sheet.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO crucible_sheets (name, instrument_group, channels)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		sheet.Name, sheet.InstrumentGroup, channelsJSON,
	).Scan(&sheet.ID, &sheet.CreatedAt, &sheet.UpdatedAt)
}

const sheetColumns = `id, name, instrument_group, channels, created_at, updated_at`

func (s *PostgresStore) GetSheet(ctx context.Context, id uuid.UUID) (*Sheet, error) {
	sheet, err := scanSheet(s.pool.QueryRow(ctx, `
		SELECT `+sheetColumns+` FROM crucible_sheets WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return sheet, err
}

func (s *PostgresStore) ListSheets(ctx context.Context) ([]*Sheet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sheetColumns+` FROM crucible_sheets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []*Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, rows.Err()
}

func (s *PostgresStore) DeleteSheet(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM crucible_sheets WHERE id = $1`, id)
	return err
}

func scanSheet(row pgx.Row) (*Sheet, error) {
	sheet := &Sheet{}
	var channelsJSON []byte
	if err := row.Scan(&sheet.ID, &sheet.Name, &sheet.InstrumentGroup, &channelsJSON, &sheet.CreatedAt, &sheet.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channelsJSON, &sheet.Channels); err != nil {
		return nil, fmt.Errorf("decode sheet %s: %w", sheet.ID, err)
	}
	return sheet, nil
}

// --- Runs ---

const runColumns = `id, sheet_id, channel, instrument_group, mode, passed, solver_rank,
	topup_g, warning_count, result, created_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO crucible_runs (sheet_id, channel, instrument_group, mode, passed, solver_rank,
			topup_g, warning_count, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		run.SheetID, run.Channel, run.InstrumentGroup, string(run.Mode), run.Passed, run.Rank,
		run.TopUpGrams, run.WarningCount, resultJSON,
	).Scan(&run.ID, &run.CreatedAt)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM crucible_runs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM crucible_runs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.SheetID != nil {
		n++
		query += fmt.Sprintf(" AND sheet_id = $%d", n)
		args = append(args, *filter.SheetID)
	}
	if filter.Channel != "" {
		n++
		query += fmt.Sprintf(" AND channel = $%d", n)
		args = append(args, filter.Channel)
	}

	query += " ORDER BY created_at DESC"

	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, runLimit(filter.Limit))

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var mode string
	var resultJSON []byte
	if err := row.Scan(
		&run.ID, &run.SheetID, &run.Channel, &run.InstrumentGroup, &mode, &run.Passed, &run.Rank,
		&run.TopUpGrams, &run.WarningCount, &resultJSON, &run.CreatedAt,
	); err != nil {
		return nil, err
	}
	run.Mode = alloy.Mode(mode)
	if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
	}
	return run, nil
}

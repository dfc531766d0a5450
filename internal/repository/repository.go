// Package repository persists RFV configurations, their segments and the
// branch list for the reference RFV API.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ConstraintError is a foreign-key refusal. Error returns the raw driver message.
type ConstraintError struct {
	Err error
}

func (e *ConstraintError) Error() string { return e.Err.Error() }

func (e *ConstraintError) Unwrap() error { return e.Err }

// Config selects and tunes the database.
type Config struct {
	Driver          string
	SQLitePath      string
	PostgresDSN     string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ParameterQuery narrows ListParameters. Today is the reference date of the
// active filter, formatted YYYY-MM-DD.
type ParameterQuery struct {
	Active   *bool
	FilialID *int
	Today    string
}

// SQLRepository works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the database, creates the schema and seeds the branch list.
func New(cfg Config) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(cfg)
	case DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver != DriverSQLite {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range strings.Split(schemaFor(r.driver), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	for _, f := range seedFiliais {
		if _, err := r.db.Exec(r.rebind(`INSERT INTO filiais (id, nome) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`), f.ID, f.Nome); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// Parameters
// ============================================================

const parameterColumns = `id, name, filial_id, rule_recency, rule_frequency, rule_value,
	calculation_strategy, class_ranges, effective_from, effective_to`

// ListParameters returns the configurations ordered by id.
func (r *SQLRepository) ListParameters(ctx context.Context, q ParameterQuery) ([]rfvapi.ParameterFromAPI, error) {
	var (
		where []string
		args  []any
	)
	if q.FilialID != nil {
		where = append(where, "filial_id = ?")
		args = append(args, *q.FilialID)
	}
	if q.Active != nil {
		active := "(effective_from <= ? AND (effective_to IS NULL OR effective_to > ?))"
		if !*q.Active {
			active = "NOT " + active
		}
		where = append(where, active)
		args = append(args, q.Today, q.Today)
	}

	query := "SELECT " + parameterColumns + " FROM rfv_parameters"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rfvapi.ParameterFromAPI{}
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetParameter returns one configuration.
func (r *SQLRepository) GetParameter(ctx context.Context, id int) (*rfvapi.ParameterFromAPI, error) {
	row := r.db.QueryRowContext(ctx, r.rebind("SELECT "+parameterColumns+" FROM rfv_parameters WHERE id = ?"), id)
	p, err := scanParameter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// CreateParameter inserts a configuration and returns it with its id.
func (r *SQLRepository) CreateParameter(ctx context.Context, body rfvapi.ParameterBody) (*rfvapi.ParameterFromAPI, error) {
	cols, err := encodeParameter(body)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rfv_parameters (
			name, filial_id, rule_recency, rule_frequency, rule_value,
			calculation_strategy, class_ranges, effective_from, effective_to,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int
	err = r.db.QueryRowContext(ctx, r.rebind(query), append(cols, now, now)...).Scan(&id)
	if err != nil {
		return nil, r.translate(err)
	}
	return r.GetParameter(ctx, id)
}

// UpdateParameter replaces every column of a configuration.
func (r *SQLRepository) UpdateParameter(ctx context.Context, id int, body rfvapi.ParameterBody) (*rfvapi.ParameterFromAPI, error) {
	cols, err := encodeParameter(body)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE rfv_parameters SET
			name = ?, filial_id = ?, rule_recency = ?, rule_frequency = ?, rule_value = ?,
			calculation_strategy = ?, class_ranges = ?, effective_from = ?, effective_to = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query), append(cols, time.Now().UTC(), id)...)
	if err != nil {
		return nil, r.translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetParameter(ctx, id)
}

// DeleteParameter removes a configuration. Segments still pointing at it
// make the database refuse with a *ConstraintError.
func (r *SQLRepository) DeleteParameter(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM rfv_parameters WHERE id = ?"), id)
	if err != nil {
		return r.translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================
// Segments
// ============================================================

// ListSegments returns all segments, or those of one configuration.
func (r *SQLRepository) ListSegments(ctx context.Context, parameterSetID *int) ([]rfvapi.SegmentFromAPI, error) {
	query := "SELECT id, segment_name, rules, priority, parameter_set_id FROM rfv_segments"
	var args []any
	if parameterSetID != nil {
		query += " WHERE parameter_set_id = ?"
		args = append(args, *parameterSetID)
	}
	query += " ORDER BY parameter_set_id, priority, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rfvapi.SegmentFromAPI{}
	for rows.Next() {
		var (
			s     rfvapi.SegmentFromAPI
			rules string
		)
		if err := rows.Scan(&s.ID, &s.SegmentName, &rules, &s.Priority, &s.ParameterSetID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &s.Rules); err != nil {
			return nil, fmt.Errorf("segment %d: invalid rules: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSegment inserts a segment. An unknown configuration id is a *ConstraintError.
func (r *SQLRepository) CreateSegment(ctx context.Context, body rfvapi.SegmentBody) (*rfvapi.SegmentFromAPI, error) {
	if strings.TrimSpace(body.SegmentName) == "" {
		return nil, fmt.Errorf("%w: segment_name is required", ErrInvalidInput)
	}
	rules, err := json.Marshal(body.Rules)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO rfv_segments (segment_name, rules, priority, parameter_set_id)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	var id int
	err = r.db.QueryRowContext(ctx, r.rebind(query),
		body.SegmentName, string(rules), body.Priority, body.ParameterSetID,
	).Scan(&id)
	if err != nil {
		return nil, r.translate(err)
	}
	return &rfvapi.SegmentFromAPI{
		ID:             id,
		SegmentName:    body.SegmentName,
		Rules:          body.Rules,
		Priority:       body.Priority,
		ParameterSetID: body.ParameterSetID,
	}, nil
}

// DeleteSegment removes one segment.
func (r *SQLRepository) DeleteSegment(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM rfv_segments WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================
// Filiais
// ============================================================

// ListFiliais returns the branch list ordered by id.
func (r *SQLRepository) ListFiliais(ctx context.Context) ([]rfvapi.FilialFromAPI, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, nome FROM filiais ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rfvapi.FilialFromAPI{}
	for rows.Next() {
		var f rfvapi.FilialFromAPI
		if err := rows.Scan(&f.ID, &f.Nome); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// ============================================================
// Helpers
// ============================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanParameter(s scanner) (*rfvapi.ParameterFromAPI, error) {
	var (
		p                         rfvapi.ParameterFromAPI
		filialID                  sql.NullInt64
		recency, frequency, value string
		classRanges, effectiveTo  sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Name, &filialID, &recency, &frequency, &value,
		&p.CalculationStrategy, &classRanges, &p.EffectiveFrom, &effectiveTo); err != nil {
		return nil, err
	}

	if filialID.Valid {
		id := int(filialID.Int64)
		p.FilialID = &id
	}
	if effectiveTo.Valid && effectiveTo.String != "" {
		to := effectiveTo.String
		p.EffectiveTo = &to
	}
	if err := json.Unmarshal([]byte(recency), &p.RuleRecency); err != nil {
		return nil, fmt.Errorf("parameter %d: invalid ruleRecency: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(frequency), &p.RuleFrequency); err != nil {
		return nil, fmt.Errorf("parameter %d: invalid ruleFrequency: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(value), &p.RuleValue); err != nil {
		return nil, fmt.Errorf("parameter %d: invalid ruleValue: %w", p.ID, err)
	}
	if classRanges.Valid && classRanges.String != "" {
		p.ClassRanges = &rfvapi.ClassRanges{}
		if err := json.Unmarshal([]byte(classRanges.String), p.ClassRanges); err != nil {
			return nil, fmt.Errorf("parameter %d: invalid class_ranges: %w", p.ID, err)
		}
	}
	return &p, nil
}

// encodeParameter validates the body and returns the column values in
// insert order (name .. effective_to).
func encodeParameter(body rfvapi.ParameterBody) ([]any, error) {
	if strings.TrimSpace(body.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	// dates are stored as YYYY-MM-DD so the active filter can compare text
	from, err := domain.ParseDate(body.EffectiveFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: effectiveFrom: %v", ErrInvalidInput, err)
	}
	var effectiveTo any
	if body.EffectiveTo != nil && *body.EffectiveTo != "" {
		to, err := domain.ParseDate(*body.EffectiveTo)
		if err != nil {
			return nil, fmt.Errorf("%w: effectiveTo: %v", ErrInvalidInput, err)
		}
		effectiveTo = to.String()
	}
	switch domain.CalculationStrategy(body.CalculationStrategy) {
	case domain.StrategyAutomatic, domain.StrategyManual:
	default:
		return nil, fmt.Errorf("%w: calculation_strategy %q", ErrInvalidInput, body.CalculationStrategy)
	}

	recency, err := json.Marshal(orEmpty(body.RuleRecency))
	if err != nil {
		return nil, err
	}
	frequency, err := json.Marshal(orEmpty(body.RuleFrequency))
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(orEmpty(body.RuleValue))
	if err != nil {
		return nil, err
	}
	var classRanges any
	if body.ClassRanges != nil {
		raw, err := json.Marshal(body.ClassRanges)
		if err != nil {
			return nil, err
		}
		classRanges = string(raw)
	}
	var filialID any
	if body.FilialID != nil {
		filialID = *body.FilialID
	}

	return []any{
		body.Name, filialID, string(recency), string(frequency), string(value),
		body.CalculationStrategy, classRanges, from.String(), effectiveTo,
	}, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// translate turns foreign-key failures into *ConstraintError.
func (r *SQLRepository) translate(err error) error {
	if err == nil {
		return nil
	}
	if r.driver == DriverPostgres && postgresForeignKeyViolation(err) {
		return &ConstraintError{Err: err}
	}
	if r.driver == DriverSQLite && sqliteForeignKeyViolation(err) {
		return &ConstraintError{Err: err}
	}
	return err
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is the durable store backing resumable runs. Output values persist
// as cty JSON alongside their type, so a resumed run restores typed outputs.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the state database at path. WAL mode keeps
// reads available during writes; the single-connection pool avoids
// SQLITE_BUSY between parallel construct evaluations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying state schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Record implements Store.
func (s *SQLite) Record(ctx context.Context, runID string, id runbook.ConstructID, res runbook.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer tx.Rollback()

	existing, attempt, found, err := loadOne(ctx, tx, runID, id)
	if err != nil {
		return err
	}
	if found && existing.Terminal() {
		if existing.Equivalent(res) {
			return nil
		}
		return &ConflictError{RunID: runID, Construct: id, Existing: existing, Proposed: res}
	}
	if attempt == 0 {
		attempt = 1
	}

	valueJSON, typeJSON, err := encodeValue(res.Value)
	if err != nil {
		return fmt.Errorf("encoding output for %s: %w", id, err)
	}

	var diagSummary, diagDetail sql.NullString
	if res.Diagnostic != nil {
		diagSummary = sql.NullString{String: res.Diagnostic.Summary, Valid: true}
		diagDetail = sql.NullString{String: res.Diagnostic.Detail, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO construct_results
			(run_id, construct_id, status, result_code, value_json, value_type_json,
			 diag_summary, diag_detail, skip_reason, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, construct_id) DO UPDATE SET
			status = excluded.status,
			result_code = excluded.result_code,
			value_json = excluded.value_json,
			value_type_json = excluded.value_type_json,
			diag_summary = excluded.diag_summary,
			diag_detail = excluded.diag_detail,
			skip_reason = excluded.skip_reason,
			attempt = excluded.attempt,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		runID, id.String(), res.Status().String(), res.Code.String(),
		valueJSON, typeJSON, diagSummary, diagDetail, nullable(res.Reason), attempt)
	if err != nil {
		return fmt.Errorf("recording result for %s: %w", id, err)
	}
	return tx.Commit()
}

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, runID string) (map[runbook.ConstructID]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT construct_id, status, result_code, value_json, value_type_json,
		       diag_summary, diag_detail, skip_reason, attempt
		FROM construct_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[runbook.ConstructID]Record)
	for rows.Next() {
		var (
			constructID, status, code                    string
			valueJSON, typeJSON, summary, detail, reason sql.NullString
			attempt                                      int
		)
		if err := rows.Scan(&constructID, &status, &code, &valueJSON, &typeJSON,
			&summary, &detail, &reason, &attempt); err != nil {
			return nil, fmt.Errorf("scanning state row: %w", err)
		}

		id := runbook.ConstructID(constructID)
		res, err := decodeResult(id, code, valueJSON, typeJSON, summary, detail, reason)
		if err != nil {
			return nil, err
		}
		out[id] = Record{Status: runbook.ParseStatus(status), Result: res, Attempt: attempt}
	}
	return out, rows.Err()
}

// Invalidate implements Store.
func (s *SQLite) Invalidate(ctx context.Context, runID string, id runbook.ConstructID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE construct_results
		SET status = ?, result_code = ?, value_json = NULL, value_type_json = NULL,
		    diag_summary = NULL, diag_detail = NULL, skip_reason = NULL,
		    attempt = attempt + 1,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE run_id = ? AND construct_id = ?`,
		runbook.StatusUnevaluated.String(), runbook.ResultPending.String(),
		runID, id.String())
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", id, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func loadOne(ctx context.Context, tx *sql.Tx, runID string, id runbook.ConstructID) (runbook.Result, int, bool, error) {
	var (
		code                                         string
		valueJSON, typeJSON, summary, detail, reason sql.NullString
		attempt                                      int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT result_code, value_json, value_type_json, diag_summary, diag_detail, skip_reason, attempt
		FROM construct_results WHERE run_id = ? AND construct_id = ?`,
		runID, id.String()).
		Scan(&code, &valueJSON, &typeJSON, &summary, &detail, &reason, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return runbook.Pending(), 0, false, nil
	}
	if err != nil {
		return runbook.Pending(), 0, false, fmt.Errorf("reading state for %s: %w", id, err)
	}
	res, err := decodeResult(id, code, valueJSON, typeJSON, summary, detail, reason)
	if err != nil {
		return runbook.Pending(), 0, false, err
	}
	return res, attempt, true, nil
}

func decodeResult(id runbook.ConstructID, code string, valueJSON, typeJSON, summary, detail, reason sql.NullString) (runbook.Result, error) {
	switch code {
	case runbook.ResultSuccess.String():
		v, err := decodeValue(valueJSON, typeJSON)
		if err != nil {
			return runbook.Pending(), fmt.Errorf("decoding output for %s: %w", id, err)
		}
		return runbook.Success(v), nil
	case runbook.ResultFailed.String():
		v, err := decodeValue(valueJSON, typeJSON)
		if err != nil {
			return runbook.Pending(), fmt.Errorf("decoding output for %s: %w", id, err)
		}
		return runbook.FailureWithValue(&runbook.Diagnostic{
			Construct: id, Summary: summary.String, Detail: detail.String,
		}, v), nil
	case runbook.ResultSkipped.String():
		return runbook.Skip(reason.String), nil
	default:
		return runbook.Pending(), nil
	}
}

func encodeValue(v cty.Value) (sql.NullString, sql.NullString, error) {
	if v == cty.NilVal {
		return sql.NullString{}, sql.NullString{}, nil
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	rawType, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true},
		sql.NullString{String: string(rawType), Valid: true}, nil
}

func decodeValue(valueJSON, typeJSON sql.NullString) (cty.Value, error) {
	if !valueJSON.Valid || !typeJSON.Valid {
		return cty.NilVal, nil
	}
	typ, err := ctyjson.UnmarshalType([]byte(typeJSON.String))
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal([]byte(valueJSON.String), typ)
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

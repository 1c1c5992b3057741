// Package tursotest provides an in-process libSQL pipeline server backed by
// SQLite, for tests that exercise the remote client end to end.
package tursotest

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"gasto/internal/storage"
)

const Token = "test-token"

// Arg is a decoded request argument.
type Arg struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Base64 string          `json:"base64,omitempty"`
}

type Stmt struct {
	SQL  string `json:"sql"`
	Args []Arg  `json:"args"`
}

type Request struct {
	Type  string `json:"type"`
	Stmt  *Stmt  `json:"stmt,omitempty"`
	Batch *Batch `json:"batch,omitempty"`
}

type Batch struct {
	Steps []Step `json:"steps"`
}

type Step struct {
	Condition *Cond `json:"condition,omitempty"`
	Stmt      Stmt  `json:"stmt"`
}

// Cond is a batch step condition: ok, error, not, and, or.
type Cond struct {
	Type  string `json:"type"`
	Step  *int   `json:"step,omitempty"`
	Cond  *Cond  `json:"cond,omitempty"`
	Conds []Cond `json:"conds,omitempty"`
}

type stepOutcome int

const (
	stepSkipped stepOutcome = iota
	stepOK
	stepFailed
)

func (c *Cond) holds(outcomes []stepOutcome) bool {
	switch c.Type {
	case "ok", "error":
		if c.Step == nil || *c.Step < 0 || *c.Step >= len(outcomes) {
			return false
		}
		if c.Type == "ok" {
			return outcomes[*c.Step] == stepOK
		}
		return outcomes[*c.Step] == stepFailed
	case "not":
		return c.Cond != nil && !c.Cond.holds(outcomes)
	case "and":
		for i := range c.Conds {
			if !c.Conds[i].holds(outcomes) {
				return false
			}
		}
		return true
	case "or":
		for i := range c.Conds {
			if c.Conds[i].holds(outcomes) {
				return true
			}
		}
		return false
	}
	return false
}

// execer is satisfied by *sql.DB and *sql.Conn.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Pipeline is one recorded POST body.
type Pipeline struct {
	Requests []Request `json:"requests"`
}

// Server answers /v2/pipeline against a private SQLite database.
type Server struct {
	*httptest.Server
	Store *storage.Store

	mu         sync.Mutex
	pipelines  []Pipeline
	failStatus int
	failBody   string
}

// New starts a server and applies the schema migrations to its database.
func New(t testing.TB) *Server {
	t.Helper()

	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("open remote store: %v", err)
	}
	m, err := storage.NewMigrator(store)
	if err != nil {
		t.Fatalf("create migrator: %v", err)
	}
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("migrate remote store: %v", err)
	}

	s := &Server{Store: store}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.Close()
		store.Close()
	})
	return s
}

// FailWith makes every following request return status with body. Zero
// restores normal operation.
func (s *Server) FailWith(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failBody = body
}

// Pipelines returns the bodies received so far.
func (s *Server) Pipelines() []Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pipeline, len(s.pipelines))
	copy(out, s.pipelines)
	return out
}

// Count runs a COUNT(*) style query directly against the backing database.
func (s *Server) Count(t testing.TB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := s.Store.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v2/pipeline" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+Token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	status, body := s.failStatus, s.failBody
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, body, status)
		return
	}

	var p Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.pipelines = append(s.pipelines, p)
	s.mu.Unlock()

	results := make([]any, 0, len(p.Requests))
	for _, req := range p.Requests {
		switch req.Type {
		case "execute":
			results = append(results, s.executeRequest(r.Context(), req.Stmt))
		case "batch":
			results = append(results, s.batch(r.Context(), req.Batch))
		case "close":
			results = append(results, map[string]any{"type": "ok", "response": map[string]any{"type": "close"}})
		default:
			results = append(results, errorResult("unsupported request "+req.Type))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"baton": nil, "base_url": nil, "results": results})
}

func errorResult(msg string) map[string]any {
	return map[string]any{"type": "error", "error": map[string]any{"message": msg, "code": "SQLITE_ERROR"}}
}

func (s *Server) executeRequest(ctx context.Context, st *Stmt) any {
	if st == nil {
		return errorResult("missing stmt")
	}
	result, err := execute(ctx, s.Store.DB(), st)
	if err != nil {
		return errorResult(err.Error())
	}
	return map[string]any{
		"type":     "ok",
		"response": map[string]any{"type": "execute", "result": result},
	}
}

// batch runs the steps on one connection, honoring their conditions. Steps
// that do not run report null for both result and error.
func (s *Server) batch(ctx context.Context, b *Batch) any {
	if b == nil {
		return errorResult("missing batch")
	}
	conn, err := s.Store.DB().Conn(ctx)
	if err != nil {
		return errorResult(err.Error())
	}
	defer conn.Close()

	n := len(b.Steps)
	outcomes := make([]stepOutcome, n)
	stepResults := make([]any, n)
	stepErrors := make([]any, n)
	for i := range b.Steps {
		step := &b.Steps[i]
		if step.Condition != nil && !step.Condition.holds(outcomes) {
			continue
		}
		res, err := execute(ctx, conn, &step.Stmt)
		if err != nil {
			outcomes[i] = stepFailed
			stepErrors[i] = map[string]any{"message": err.Error(), "code": "SQLITE_ERROR"}
			continue
		}
		outcomes[i] = stepOK
		stepResults[i] = res
	}

	return map[string]any{
		"type": "ok",
		"response": map[string]any{
			"type":   "batch",
			"result": map[string]any{"step_results": stepResults, "step_errors": stepErrors},
		},
	}
}

func execute(ctx context.Context, db execer, st *Stmt) (map[string]any, error) {
	args := make([]any, len(st.Args))
	for i, a := range st.Args {
		v, err := decodeArg(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	result := map[string]any{
		"cols":               []any{},
		"rows":               []any{},
		"affected_row_count": 0,
		"last_insert_rowid":  nil,
	}

	if storage.ReturnsRows(st.SQL) {
		rows, err := db.QueryContext(ctx, st.SQL, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		cols, rowsOut, err := encodeRows(rows)
		if err != nil {
			return nil, err
		}
		result["cols"] = cols
		result["rows"] = rowsOut
	} else {
		res, err := db.ExecContext(ctx, st.SQL, args...)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		id, _ := res.LastInsertId()
		result["affected_row_count"] = n
		result["last_insert_rowid"] = strconv.FormatInt(id, 10)
	}
	return result, nil
}

func decodeArg(a Arg) (any, error) {
	var text string
	if len(a.Value) > 0 && a.Value[0] == '"' {
		if err := json.Unmarshal(a.Value, &text); err != nil {
			return nil, err
		}
	} else {
		text = string(a.Value)
	}
	switch a.Type {
	case "null":
		return nil, nil
	case "integer":
		return strconv.ParseInt(text, 10, 64)
	case "float":
		return strconv.ParseFloat(text, 64)
	case "blob":
		return base64.StdEncoding.DecodeString(a.Base64)
	default:
		return text, nil
	}
}

func encodeRows(rows *sql.Rows) ([]any, []any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	cols := make([]any, len(names))
	for i, n := range names {
		cols[i] = map[string]any{"name": n}
	}

	out := []any{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		cells := make([]any, len(values))
		for i, v := range values {
			cells[i] = encodeCell(v)
		}
		out = append(out, cells)
	}
	return cols, out, rows.Err()
}

func encodeCell(v any) any {
	switch t := v.(type) {
	case nil:
		return map[string]any{"type": "null"}
	case int64:
		return map[string]any{"type": "integer", "value": strconv.FormatInt(t, 10)}
	case float64:
		return map[string]any{"type": "float", "value": t}
	case []byte:
		return map[string]any{"type": "blob", "base64": base64.StdEncoding.EncodeToString(t)}
	case string:
		return map[string]any{"type": "text", "value": t}
	default:
		return map[string]any{"type": "text", "value": fmt.Sprint(t)}
	}
}

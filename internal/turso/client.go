// Package turso is a minimal client for the libSQL (Turso) HTTP pipeline
// protocol. It implements storage.Executor so the sync coordinator and, in
// remote-only mode, every repository can run against the remote database.
package turso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gasto/internal/storage"
)

const (
	DefaultTimeout = 15 * time.Second
	pipelinePath   = "/v2/pipeline"
	maxErrorBody   = 512
)

// ErrNotConfigured means no remote URL or token was supplied. Callers treat
// it as local-only mode, not as a failure.
var ErrNotConfigured = errors.New("remote database not configured")

// RemoteError describes any failed remote call: transport failure, non-2xx
// status, undecodable response or a per-statement error.
type RemoteError struct {
	Status    int
	Statement int
	Code      string
	Message   string
	Err       error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("remote")
	if e.Status != 0 {
		fmt.Fprintf(&b, " status %d", e.Status)
	}
	if e.Statement > 0 {
		fmt.Fprintf(&b, " statement %d", e.Statement)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

type Config struct {
	URL       string
	AuthToken string
	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the default client; its Timeout is respected.
	HTTPClient *http.Client
}

// Client talks to one remote database.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// StatementResult is the outcome of one statement of a pipeline.
type StatementResult struct {
	Columns          []string
	Rows             []storage.Row
	AffectedRowCount int64
	LastInsertRowID  int64
}

// Result is the non-error form of a call, for callers that prefer a value
// over an error return.
type Result struct {
	Success bool
	Rows    []storage.Row
	Error   string
}

// New returns ErrNotConfigured when the URL or token is missing.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, ErrNotConfigured
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: BaseURL(cfg.URL) + pipelinePath,
		token:    strings.TrimSpace(cfg.AuthToken),
		http:     hc,
	}, nil
}

// BaseURL normalizes a database URL: libsql:// becomes https:// and any
// trailing slash is removed.
func BaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(u, "libsql://"); ok {
		u = "https://" + rest
	}
	return strings.TrimRight(u, "/")
}

// Endpoint returns the pipeline URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Pipeline sends all statements in one request, followed by a close. A
// failure of any statement fails the whole call. Statements are applied in
// order on one stream without an enclosing transaction; use Transaction when
// they must commit together.
func (c *Client) Pipeline(ctx context.Context, stmts []storage.Statement) ([]StatementResult, error) {
	if len(stmts) == 0 {
		return nil, nil
	}

	reqs := make([]streamRequest, 0, len(stmts)+1)
	for _, st := range stmts {
		reqs = append(reqs, streamRequest{
			Type: "execute",
			Stmt: &stmt{SQL: st.SQL, Args: EncodeArgs(st.Args)},
		})
	}
	reqs = append(reqs, streamRequest{Type: "close"})

	out, err := c.send(ctx, reqs, len(stmts))
	if err != nil {
		return nil, err
	}
	return collectResults(out, len(stmts))
}

// send posts one pipeline request and decodes the envelope.
func (c *Client) send(ctx context.Context, reqs []streamRequest, statements int) (pipelineResponse, error) {
	body, err := json.Marshal(pipelineRequest{Requests: reqs})
	if err != nil {
		return pipelineResponse{}, &RemoteError{Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return pipelineResponse{}, &RemoteError{Message: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.WarnContext(ctx, "Remote pipeline request failed", "statements", statements, "error", err)
		return pipelineResponse{}, &RemoteError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.WarnContext(ctx, "Remote pipeline rejected",
			"status", resp.StatusCode,
			"statements", statements)
		return pipelineResponse{}, &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(excerpt))}
	}

	var out pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pipelineResponse{}, &RemoteError{Status: resp.StatusCode, Message: "decode response", Err: err}
	}

	slog.DebugContext(ctx, "Remote pipeline completed",
		"statements", statements,
		"duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

func collectResults(resp pipelineResponse, n int) ([]StatementResult, error) {
	if len(resp.Results) < n {
		return nil, &RemoteError{Message: fmt.Sprintf("expected %d results, got %d", n, len(resp.Results))}
	}

	results := make([]StatementResult, n)
	for i := 0; i < n; i++ {
		r := resp.Results[i]
		if err := resultError(r, i+1); err != nil {
			return nil, err
		}
		if r.Response.Type != "execute" {
			return nil, &RemoteError{Statement: i + 1, Message: fmt.Sprintf("unexpected response type %q", r.Response.Type)}
		}

		var res *execResult
		if len(r.Response.Result) > 0 {
			if err := json.Unmarshal(r.Response.Result, &res); err != nil {
				return nil, &RemoteError{Statement: i + 1, Message: "decode result", Err: err}
			}
		}
		sr, err := statementResult(res, i+1)
		if err != nil {
			return nil, err
		}
		results[i] = sr
	}
	return results, nil
}

// resultError reports a stream-level error or a malformed result.
func resultError(r streamResult, statement int) error {
	if r.Type == "error" || r.Error != nil {
		re := &RemoteError{Statement: statement, Message: "unknown error"}
		if r.Error != nil {
			re.Message = r.Error.Message
			re.Code = r.Error.Code
		}
		return re
	}
	if r.Type != "ok" || r.Response == nil {
		return &RemoteError{Statement: statement, Message: fmt.Sprintf("unexpected result type %q", r.Type)}
	}
	return nil
}

func statementResult(res *execResult, statement int) (StatementResult, error) {
	rows, err := decodeRows(res)
	if err != nil {
		return StatementResult{}, &RemoteError{Statement: statement, Message: "decode rows", Err: err}
	}
	sr := StatementResult{Rows: rows}
	if res != nil {
		sr.AffectedRowCount = res.AffectedRowCount
		sr.LastInsertRowID = decodeRowID(res.LastInsertRowID)
		for _, col := range res.Cols {
			sr.Columns = append(sr.Columns, col.Name)
		}
	}
	return sr, nil
}

func (c *Client) one(ctx context.Context, query string, args []any) (StatementResult, error) {
	results, err := c.Pipeline(ctx, []storage.Statement{{SQL: query, Args: args}})
	if err != nil {
		return StatementResult{}, err
	}
	return results[0], nil
}

func (c *Client) Query(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	r, err := c.one(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return r.Rows, nil
}

func (c *Client) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	r, err := c.one(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return r.LastInsertRowID, nil
}

func (c *Client) Update(ctx context.Context, query string, args ...any) (int64, error) {
	r, err := c.one(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return r.AffectedRowCount, nil
}

// Transaction runs the statements atomically as one batch: BEGIN, each
// statement conditioned on the previous step succeeding, COMMIT, and a
// ROLLBACK that runs whenever COMMIT did not succeed. Rows of every statement
// are concatenated in order.
func (c *Client) Transaction(ctx context.Context, stmts []storage.Statement) ([]storage.Row, error) {
	if len(stmts) == 0 {
		return nil, nil
	}

	n := len(stmts)
	commit := n + 1
	steps := make([]batchStep, 0, n+3)
	steps = append(steps, batchStep{Stmt: stmt{SQL: "BEGIN"}})
	for i, st := range stmts {
		steps = append(steps, batchStep{
			Condition: okStep(i),
			Stmt:      stmt{SQL: st.SQL, Args: EncodeArgs(st.Args)},
		})
	}
	steps = append(steps,
		batchStep{Condition: okStep(n), Stmt: stmt{SQL: "COMMIT"}},
		batchStep{Condition: notCond(okStep(commit)), Stmt: stmt{SQL: "ROLLBACK"}},
	)

	out, err := c.send(ctx, []streamRequest{
		{Type: "batch", Batch: &batchRequest{Steps: steps}},
		{Type: "close"},
	}, n)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, &RemoteError{Message: "expected a batch result, got none"}
	}
	r := out.Results[0]
	if err := resultError(r, 0); err != nil {
		return nil, err
	}
	if r.Response.Type != "batch" {
		return nil, &RemoteError{Message: fmt.Sprintf("unexpected response type %q", r.Response.Type)}
	}

	var br batchResult
	if err := json.Unmarshal(r.Response.Result, &br); err != nil {
		return nil, &RemoteError{Message: "decode batch result", Err: err}
	}

	for i := 0; i <= commit; i++ {
		if i >= len(br.StepErrors) || br.StepErrors[i] == nil {
			continue
		}
		re := &RemoteError{Message: br.StepErrors[i].Message, Code: br.StepErrors[i].Code}
		switch i {
		case 0:
			re.Message = "begin: " + re.Message
		case commit:
			re.Message = "commit: " + re.Message
		default:
			re.Statement = i
		}
		return nil, re
	}
	if len(br.StepResults) <= commit || br.StepResults[commit] == nil {
		return nil, &RemoteError{Message: "transaction was not committed"}
	}

	var rows []storage.Row
	for i := 1; i <= n; i++ {
		sr, err := statementResult(br.StepResults[i], i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, sr.Rows...)
	}
	return rows, nil
}

// Ping checks reachability with SELECT 1.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1")
	return err
}

// Execute runs statements and reports the outcome as a Result value.
func (c *Client) Execute(ctx context.Context, stmts ...storage.Statement) Result {
	rows, err := c.Transaction(ctx, stmts)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Rows: rows}
}

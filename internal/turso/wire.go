package turso

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"gasto/internal/core"
	"gasto/internal/storage"
)

// Value is a tagged Hrana value. Integers and floats travel as decimal
// strings so no precision is lost in JSON; blobs travel as base64.
type Value struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Base64 string          `json:"base64,omitempty"`
}

type pipelineRequest struct {
	Baton    *string         `json:"baton"`
	Requests []streamRequest `json:"requests"`
}

type streamRequest struct {
	Type  string        `json:"type"`
	Stmt  *stmt         `json:"stmt,omitempty"`
	Batch *batchRequest `json:"batch,omitempty"`
}

type stmt struct {
	SQL  string  `json:"sql"`
	Args []Value `json:"args,omitempty"`
}

type batchRequest struct {
	Steps []batchStep `json:"steps"`
}

// batchStep runs Stmt only when Condition holds (always when nil).
type batchStep struct {
	Condition *batchCond `json:"condition,omitempty"`
	Stmt      stmt       `json:"stmt"`
}

type batchCond struct {
	Type  string      `json:"type"`
	Step  *int        `json:"step,omitempty"`
	Cond  *batchCond  `json:"cond,omitempty"`
	Conds []batchCond `json:"conds,omitempty"`
}

func okStep(i int) *batchCond {
	return &batchCond{Type: "ok", Step: &i}
}

func notCond(c *batchCond) *batchCond {
	return &batchCond{Type: "not", Cond: c}
}

type pipelineResponse struct {
	Baton   *string        `json:"baton"`
	BaseURL *string        `json:"base_url"`
	Results []streamResult `json:"results"`
}

type streamResult struct {
	Type     string          `json:"type"`
	Response *streamResponse `json:"response,omitempty"`
	Error    *wireError      `json:"error,omitempty"`
}

// streamResponse.Result is an execResult for "execute" and a batchResult
// for "batch".
type streamResponse struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
}

// batchResult has one slot per step; a step that did not run has neither a
// result nor an error.
type batchResult struct {
	StepResults []*execResult `json:"step_results"`
	StepErrors  []*wireError  `json:"step_errors"`
}

type execResult struct {
	Cols             []column            `json:"cols"`
	Rows             [][]json.RawMessage `json:"rows"`
	AffectedRowCount int64               `json:"affected_row_count"`
	LastInsertRowID  json.RawMessage     `json:"last_insert_rowid"`
}

type column struct {
	Name     string  `json:"name"`
	Decltype *string `json:"decltype,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func quoted(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func integerValue(n string) Value {
	return Value{Type: "integer", Value: quoted(n)}
}

// EncodeArg converts a Go argument to its wire form. Integral numbers become
// integers and other numbers floats; bools are stored as 0/1 integers.
func EncodeArg(arg any) Value {
	switch v := arg.(type) {
	case nil:
		return Value{Type: "null"}
	case Value:
		return v
	case string:
		return Value{Type: "text", Value: quoted(v)}
	case bool:
		if v {
			return integerValue("1")
		}
		return integerValue("0")
	case int:
		return integerValue(strconv.FormatInt(int64(v), 10))
	case int8:
		return integerValue(strconv.FormatInt(int64(v), 10))
	case int16:
		return integerValue(strconv.FormatInt(int64(v), 10))
	case int32:
		return integerValue(strconv.FormatInt(int64(v), 10))
	case int64:
		return integerValue(strconv.FormatInt(v, 10))
	case uint:
		return integerValue(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return integerValue(strconv.FormatUint(uint64(v), 10))
	case uint16:
		return integerValue(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return integerValue(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return integerValue(strconv.FormatUint(v, 10))
	case float32:
		return encodeFloat(float64(v))
	case float64:
		return encodeFloat(v)
	case decimal.Decimal:
		if v.IsInteger() {
			return integerValue(v.String())
		}
		return Value{Type: "float", Value: quoted(v.String())}
	case time.Time:
		return Value{Type: "text", Value: quoted(core.FormatTimestamp(v))}
	case []byte:
		return Value{Type: "blob", Base64: base64.StdEncoding.EncodeToString(v)}
	case fmt.Stringer:
		return Value{Type: "text", Value: quoted(v.String())}
	}

	// Named types over basic kinds, e.g. core.Kind.
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.String:
		return Value{Type: "text", Value: quoted(rv.String())}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return integerValue(strconv.FormatInt(rv.Int(), 10))
	case reflect.Bool:
		return EncodeArg(rv.Bool())
	}
	return Value{Type: "text", Value: quoted(fmt.Sprint(arg))}
}

func encodeFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{Type: "null"}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return integerValue(strconv.FormatInt(int64(f), 10))
	}
	return Value{Type: "float", Value: quoted(strconv.FormatFloat(f, 'f', -1, 64))}
}

// EncodeArgs encodes a full argument list.
func EncodeArgs(args []any) []Value {
	if len(args) == 0 {
		return nil
	}
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = EncodeArg(a)
	}
	return out
}

// decodeCell accepts tagged values as well as bare JSON scalars.
func decodeCell(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		return decodeScalar(raw)
	}

	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch v.Type {
	case "null":
		return nil, nil
	case "integer":
		s, err := scalarText(v.Value)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode integer %q: %w", s, err)
		}
		return n, nil
	case "float":
		s, err := scalarText(v.Value)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("decode float %q: %w", s, err)
		}
		return f, nil
	case "text":
		return scalarText(v.Value)
	case "blob":
		b, err := base64.StdEncoding.DecodeString(v.Base64)
		if err != nil {
			// Hrana servers may omit padding.
			if b, err = base64.RawStdEncoding.DecodeString(v.Base64); err != nil {
				return nil, fmt.Errorf("decode blob: %w", err)
			}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("decode value: unknown type %q", v.Type)
	}
}

// scalarText returns the text of a JSON string or number.
func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode text: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

func decodeScalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return t, nil
	default:
		return nil, fmt.Errorf("decode value: unsupported %T", v)
	}
}

// decodeRows maps each row by this result's own column names.
func decodeRows(res *execResult) ([]storage.Row, error) {
	if res == nil || len(res.Rows) == 0 {
		return nil, nil
	}
	out := make([]storage.Row, 0, len(res.Rows))
	for i, cells := range res.Rows {
		if len(cells) != len(res.Cols) {
			return nil, fmt.Errorf("row %d has %d cells for %d columns", i, len(cells), len(res.Cols))
		}
		row := make(storage.Row, len(cells))
		for j, cell := range cells {
			v, err := decodeCell(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, res.Cols[j].Name, err)
			}
			row[res.Cols[j].Name] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func decodeRowID(raw json.RawMessage) int64 {
	v, err := decodeCell(raw)
	if err != nil {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

package storage

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"gasto/internal/core"
)

// Row maps column names to driver values. Local rows carry int64, float64,
// string and nil; remote rows are decoded to the same set.
type Row map[string]any

func (r Row) value(col string) (any, error) {
	v, ok := r[col]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", ErrMalformedRow, col)
	}
	return v, nil
}

func (r Row) String(col string) (string, error) {
	v, err := r.value(col)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("%w: column %q is %T, want text", ErrMalformedRow, col, v)
	}
}

// NullString returns "" for NULL.
func (r Row) NullString(col string) (string, error) {
	v, err := r.value(col)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return r.String(col)
}

func (r Row) Int64(col string) (int64, error) {
	v, err := r.value(col)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: column %q holds non-integral %v", ErrMalformedRow, col, t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: column %q: %v", ErrMalformedRow, col, err)
		}
		return n, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: column %q is %T, want integer", ErrMalformedRow, col, v)
	}
}

// Bool coerces 0/1 integers and true/false to bool.
func (r Row) Bool(col string) (bool, error) {
	v, err := r.value(col)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("%w: column %q: %v", ErrMalformedRow, col, err)
		}
		return b, nil
	}
	n, err := r.Int64(col)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Decimal reads REAL, INTEGER or numeric text columns.
func (r Row) Decimal(col string) (decimal.Decimal, error) {
	v, err := r.value(col)
	if err != nil {
		return decimal.Zero, err
	}
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: column %q: %v", ErrMalformedRow, col, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: column %q is %T, want number", ErrMalformedRow, col, v)
	}
}

func (r Row) Time(col string) (time.Time, error) {
	s, err := r.String(col)
	if err != nil {
		return time.Time{}, err
	}
	t, err := core.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: column %q: %v", ErrMalformedRow, col, err)
	}
	return t, nil
}

// DecodeCategory maps a categories row to its domain type.
func DecodeCategory(r Row) (core.Category, error) {
	var (
		c   core.Category
		err error
	)
	if c.ID, err = r.String("id"); err != nil {
		return c, err
	}
	if c.Name, err = r.String("name"); err != nil {
		return c, err
	}
	if c.Icon, err = r.String("icon"); err != nil {
		return c, err
	}
	if c.Color, err = r.String("color"); err != nil {
		return c, err
	}
	if c.IsDefault, err = r.Bool("is_default"); err != nil {
		return c, err
	}
	if c.CreatedAt, err = r.Time("created_at"); err != nil {
		return c, err
	}
	return c, nil
}

// DecodeEntry maps an expenses or incomes row to its domain type.
func DecodeEntry(r Row) (core.Entry, error) {
	var (
		e   core.Entry
		err error
	)
	if e.ID, err = r.String("id"); err != nil {
		return e, err
	}
	if e.Value, err = r.Decimal("value"); err != nil {
		return e, err
	}
	if e.CategoryID, err = r.String("category_id"); err != nil {
		return e, err
	}
	if e.Date, err = r.String("date"); err != nil {
		return e, err
	}
	if e.Description, err = r.String("description"); err != nil {
		return e, err
	}
	if e.CreatedAt, err = r.Time("created_at"); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = r.Time("updated_at"); err != nil {
		return e, err
	}
	if e.Synced, err = r.Bool("synced"); err != nil {
		return e, err
	}
	return e, nil
}

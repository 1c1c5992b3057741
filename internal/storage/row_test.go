package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowCoercion(t *testing.T) {
	r := Row{
		"text":     "hello",
		"int":      int64(7),
		"float":    float64(12.5),
		"intfloat": float64(3),
		"numtext":  "42",
		"null":     nil,
		"flag":     int64(1),
		"flagtxt":  "true",
		"ts":       "2025-03-14 09:26:53",
	}

	s, err := r.String("text")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	ns, err := r.NullString("null")
	require.NoError(t, err)
	assert.Empty(t, ns)

	n, err := r.Int64("intfloat")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = r.Int64("numtext")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	b, err := r.Bool("flag")
	require.NoError(t, err)
	assert.True(t, b)

	b, err = r.Bool("flagtxt")
	require.NoError(t, err)
	assert.True(t, b)

	d, err := r.Decimal("float")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	ts, err := r.Time("ts")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)))
}

func TestRowMalformed(t *testing.T) {
	r := Row{"int": int64(1), "float": 1.5, "text": "x"}

	checks := []func() error{
		func() error { _, err := r.String("missing"); return err },
		func() error { _, err := r.String("int"); return err },
		func() error { _, err := r.Int64("float"); return err },
		func() error { _, err := r.Int64("text"); return err },
		func() error { _, err := r.Decimal("text"); return err },
		func() error { _, err := r.Time("text"); return err },
	}
	for i, check := range checks {
		err := check()
		require.Error(t, err, "check %d", i)
		assert.True(t, errors.Is(err, ErrMalformedRow), "check %d: %v", i, err)
	}
}

func TestDecodeEntry(t *testing.T) {
	r := Row{
		"id":          "exp_1",
		"value":       float64(19.99),
		"category_id": "cat-food",
		"date":        "2025-03-14",
		"description": "Groceries",
		"created_at":  "2025-03-14T09:00:00.000Z",
		"updated_at":  "2025-03-14T09:30:00.000Z",
		"synced":      int64(0),
	}
	e, err := DecodeEntry(r)
	require.NoError(t, err)
	assert.Equal(t, "19.99", e.Value.String())
	assert.False(t, e.Synced)
	assert.True(t, e.UpdatedAt.After(e.CreatedAt))

	delete(r, "synced")
	_, err = DecodeEntry(r)
	assert.ErrorIs(t, err, ErrMalformedRow)
}

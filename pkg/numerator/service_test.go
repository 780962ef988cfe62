package numerator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates the sequence table: every call bumps the counter by
// the increment argument (1 for strict, range size for cached).
type mockQuerier struct {
	mu           sync.Mutex
	currentValue int64
	calls        int
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	var increment int64 = 1
	if len(args) == 2 {
		if val, ok := args[1].(int64); ok {
			increment = val
		}
	}

	m.currentValue += increment
	m.calls++
	return &mockRow{val: m.currentValue}
}

var period = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func TestGetNextNumberStrict(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	cfg := DefaultConfig("TRF")

	num, err := svc.GetNextNumber(context.Background(), cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "TRF-2026-00001", num)

	num, err = svc.GetNextNumber(context.Background(), cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "TRF-2026-00002", num)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumberCached(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	cfg := DefaultConfig("ORD")
	opts := &Options{Strategy: StrategyCached, RangeSize: 10}

	num, err := svc.GetNextNumber(context.Background(), cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2026-00001", num)
	assert.EqualValues(t, 10, q.currentValue, "first call reserves a full range")

	num, err = svc.GetNextNumber(context.Background(), cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2026-00002", num)
	assert.Equal(t, 1, q.calls, "second number comes from memory")

	for i := 0; i < 8; i++ {
		_, err = svc.GetNextNumber(context.Background(), cfg, opts, period)
		require.NoError(t, err)
	}

	// Range exhausted, next call refills.
	num, err = svc.GetNextNumber(context.Background(), cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2026-00011", num)
	assert.EqualValues(t, 20, q.currentValue)
}

func TestFormatWithoutYear(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	cfg := Config{Prefix: "W", IncludeYear: false, PadWidth: 3, ResetPeriod: "never"}

	num, err := svc.GetNextNumber(context.Background(), cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "W-001", num)
}

func TestParseNumber(t *testing.T) {
	assert.EqualValues(t, 42, ParseNumber("TRF-2026-00042"))
	assert.EqualValues(t, 7, ParseNumber("W-007"))
	assert.EqualValues(t, -1, ParseNumber("garbage"))
}

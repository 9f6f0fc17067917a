package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, validate ValidateFunc) *Engine {
	t.Helper()
	e := NewEngine("1.2", validate, logging.NewNopLogger())
	e.Register("1.0", "1.1", func(rec map[string]any) (map[string]any, error) {
		rec["consentSettings"] = map[string]any{"functional": "granted"}
		return rec, nil
	})
	e.Register("1.1", "1.2", func(rec map[string]any) (map[string]any, error) {
		rec["syncSettings"] = map[string]any{"enabled": false}
		return rec, nil
	})
	return e
}

func TestNeedsMigration(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		name string
		rec  map[string]any
		want bool
	}{
		{name: "stale tagged record", rec: map[string]any{"dataVersion": "1.0"}, want: true},
		{name: "current record", rec: map[string]any{"dataVersion": "1.2"}, want: false},
		{name: "untagged record", rec: map[string]any{"id": "x"}, want: false},
		{name: "non-string tag", rec: map[string]any{"dataVersion": 1.0}, want: false},
		{name: "nil record", rec: nil, want: false},
		{name: "unknown version", rec: map[string]any{"dataVersion": "0.9"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.NeedsMigration(tt.rec))
		})
	}
}

func TestPath(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("same version is empty", func(t *testing.T) {
		path, err := e.Path("1.1", "1.1")
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("two step chain", func(t *testing.T) {
		path, err := e.Path("1.0", "1.2")
		require.NoError(t, err)
		require.Len(t, path, 2)
		assert.Equal(t, "1.0", path[0].FromVersion)
		assert.Equal(t, "1.1", path[0].ToVersion)
		assert.Equal(t, "1.1", path[1].FromVersion)
		assert.Equal(t, "1.2", path[1].ToVersion)
	})

	t.Run("downgrade is invalid direction", func(t *testing.T) {
		_, err := e.Path("1.2", "1.0")
		assert.ErrorIs(t, err, common.ErrInvalidDirection)
	})

	t.Run("unknown version has no path", func(t *testing.T) {
		_, err := e.Path("0.9", "1.2")
		assert.ErrorIs(t, err, common.ErrNoMigrationPath)
	})
}

func TestPath_PrefersShortestChain(t *testing.T) {
	e := NewEngine("3", nil, logging.NewNopLogger())
	nop := func(rec map[string]any) (map[string]any, error) { return rec, nil }
	e.Register("1", "2", nop)
	e.Register("2", "3", nop)
	e.Register("1", "3", nop)

	path, err := e.Path("1", "3")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "3", path[0].ToVersion)
}

func TestMigrateRecord_TwoStepChain(t *testing.T) {
	e := newTestEngine(t, nil)

	rec := map[string]any{"dataVersion": "1.0", "id": "u1"}
	res := e.MigrateRecord(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, "1.0", res.FromVersion)
	assert.Equal(t, "1.2", res.ToVersion)
	assert.Equal(t, 2, res.StepsApplied)

	// Both intermediate transforms' effects are present.
	assert.Equal(t, "1.2", res.Record["dataVersion"])
	assert.Contains(t, res.Record, "consentSettings")
	assert.Contains(t, res.Record, "syncSettings")

	// The input is never mutated in place.
	assert.Equal(t, "1.0", rec["dataVersion"])
	assert.NotContains(t, rec, "consentSettings")
}

func TestMigrateRecord_CurrentVersionIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)

	rec := map[string]any{"dataVersion": "1.2", "id": "u1"}
	res := e.MigrateRecord(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, 0, res.StepsApplied)
	assert.Equal(t, rec, res.Record)
}

func TestMigrateRecord_ValidationStopsChain(t *testing.T) {
	calls := 0
	validate := func(rec map[string]any) error {
		calls++
		if _, ok := rec["consentSettings"]; ok {
			return errors.New("consent block rejected")
		}
		return nil
	}
	e := newTestEngine(t, validate)

	rec := map[string]any{"dataVersion": "1.0"}
	res := e.MigrateRecord(context.Background(), rec)

	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, res.StepsApplied)
	assert.Equal(t, 1, calls, "later steps must not run after a validation failure")
	assert.Nil(t, res.Record)
}

func TestMigrateRecord_TransformErrorRetained(t *testing.T) {
	e := NewEngine("2", nil, logging.NewNopLogger())
	boom := errors.New("bad transform")
	e.Register("1", "2", func(rec map[string]any) (map[string]any, error) {
		return nil, boom
	})

	res := e.MigrateRecord(context.Background(), map[string]any{"dataVersion": "1"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, boom)
}

func TestMigrateBatch_IndependentFailures(t *testing.T) {
	e := newTestEngine(t, nil)

	recs := []map[string]any{
		{"dataVersion": "1.0"},
		{"dataVersion": "0.9"}, // no path
		{"dataVersion": "1.1"},
	}
	results := e.MigrateBatch(context.Background(), recs)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Err, common.ErrNoMigrationPath)
	assert.True(t, results[2].Success)
}

func TestMigrateBatch_StopsSchedulingOnCancel(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.MigrateBatch(ctx, []map[string]any{{"dataVersion": "1.0"}})
	assert.Empty(t, results)
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	e.MigrateRecord(ctx, map[string]any{"dataVersion": "1.0"})
	e.MigrateRecord(ctx, map[string]any{"dataVersion": "0.9"})

	stats := e.GetStats()
	assert.Equal(t, 2, stats.TotalMigrations)
	assert.Equal(t, 1, stats.SuccessfulMigrations)
	assert.Equal(t, 1, stats.FailedMigrations)
	assert.GreaterOrEqual(t, stats.AverageDuration, time.Duration(0))

	e.ResetStats()
	assert.Equal(t, Stats{}, e.GetStats())
}

package decay_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault-go/pkg/decay"
	"github.com/memvault/memvault-go/pkg/index"
	"github.com/memvault/memvault-go/pkg/store"
	"github.com/memvault/memvault-go/pkg/store/sqlite"
)

const msPerHour = 3600000

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func enabledConfig() decay.Config {
	return decay.Config{
		Enabled:      true,
		RetryBackoff: time.Millisecond,
	}
}

func TestComputeExpiryFormula(t *testing.T) {
	s := decay.New(newTestStore(t), nil, enabledConfig(), nil)
	createdAt := int64(1_700_000_000_000)

	cases := []struct {
		memoryType store.MemoryType
		baseHours  float64
	}{
		{store.ShortTerm, 2},
		{store.LongTerm, 168},
	}

	for _, tc := range cases {
		var prev int64
		for _, importance := range []float64{0, 0.25, 0.5, 1, 2, 3} {
			name := fmt.Sprintf("%s/importance=%.2f", tc.memoryType, importance)
			expireAt := s.ComputeExpiry(createdAt, tc.memoryType, store.CategoryStored, importance, nil)
			require.NotNil(t, expireAt, name)

			want := createdAt + int64(tc.baseHours*(1+importance)*msPerHour)
			assert.Equal(t, want, *expireAt, name)

			// Monotonically non-decreasing in importance, never below base.
			assert.GreaterOrEqual(t, *expireAt, prev, name)
			assert.GreaterOrEqual(t, *expireAt, createdAt+int64(tc.baseHours*msPerHour), name)
			prev = *expireAt
		}
	}
}

func TestComputeExpiryLogOverride(t *testing.T) {
	s := decay.New(newTestStore(t), nil, enabledConfig(), nil)
	createdAt := int64(1_700_000_000_000)

	// The log window applies regardless of memory type.
	for _, mt := range []store.MemoryType{store.ShortTerm, store.LongTerm} {
		expireAt := s.ComputeExpiry(createdAt, mt, store.CategoryLog, 0, nil)
		require.NotNil(t, expireAt)
		assert.Equal(t, createdAt+30*60*1000, *expireAt, "memory type %s", mt)
	}
}

func TestComputeExpiryCallerOverride(t *testing.T) {
	s := decay.New(newTestStore(t), nil, enabledConfig(), nil)
	createdAt := int64(1_700_000_000_000)

	// The override replaces the base window; the importance multiplier
	// still applies on top.
	hours := 1.0
	expireAt := s.ComputeExpiry(createdAt, store.ShortTerm, store.CategoryStored, 1, &decay.Overrides{RetentionHours: &hours})
	require.NotNil(t, expireAt)
	assert.Equal(t, createdAt+2*msPerHour, *expireAt)

	// It also replaces the log window.
	expireAt = s.ComputeExpiry(createdAt, store.LongTerm, store.CategoryLog, 0, &decay.Overrides{RetentionHours: &hours})
	require.NotNil(t, expireAt)
	assert.Equal(t, createdAt+1*msPerHour, *expireAt)
}

func TestComputeExpiryNonExpiring(t *testing.T) {
	createdAt := int64(1_700_000_000_000)

	disabled := decay.New(newTestStore(t), nil, decay.Config{Enabled: false}, nil)
	assert.Nil(t, disabled.ComputeExpiry(createdAt, store.ShortTerm, store.CategoryStored, 0.5, nil))

	enabled := decay.New(newTestStore(t), nil, enabledConfig(), nil)
	assert.Nil(t, enabled.ComputeExpiry(createdAt, store.ShortTerm, store.CategoryStored, 0.5, &decay.Overrides{NoExpiry: true}))
}

func TestComputeExpiryNegativeImportanceClamped(t *testing.T) {
	s := decay.New(newTestStore(t), nil, enabledConfig(), nil)
	createdAt := int64(1_700_000_000_000)

	expireAt := s.ComputeExpiry(createdAt, store.ShortTerm, store.CategoryStored, -5, nil)
	require.NotNil(t, expireAt)
	assert.Equal(t, createdAt+2*msPerHour, *expireAt)
}

func insertRecord(t *testing.T, st store.Store, id int64, nowMS int64, expireOffsetMS int64) {
	t.Helper()
	expireAt := nowMS + expireOffsetMS
	require.NoError(t, st.Insert(context.Background(), &store.Record{
		ID:         id,
		Namespace:  "n1",
		Content:    fmt.Sprintf("entry %d", id),
		MemoryType: store.ShortTerm,
		Category:   store.CategoryStored,
		CreatedAt:  nowMS - msPerHour,
		ExpireAt:   &expireAt,
	}))
}

func TestCleanupDeletesExpired(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	s := decay.New(st, idx, enabledConfig(), nil)

	base := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return base })
	nowMS := base.UnixMilli()

	insertRecord(t, st, 1, nowMS, -time.Hour.Milliseconds())
	insertRecord(t, st, 2, nowMS, -time.Minute.Milliseconds())
	insertRecord(t, st, 3, nowMS, +time.Hour.Milliseconds())
	require.NoError(t, idx.Insert(1, []float64{1, 0}, index.Meta{Namespace: "n1"}))
	require.NoError(t, idx.Insert(2, []float64{0, 1}, index.Meta{Namespace: "n1"}))

	// Dry run counts, mutates nothing.
	stats, err := s.Cleanup(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.ExpiredFound)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, 2, idx.Len())

	// Real run deletes store rows and index nodes together.
	stats, err = s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ExpiredFound)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 0, stats.Errors)

	_, err = st.Get(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, idx.Contains(1))
	assert.False(t, idx.Contains(2))

	_, err = st.Get(context.Background(), 3)
	assert.NoError(t, err)

	// Idempotent: a second run with no new writes deletes nothing.
	stats, err = s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, 0, stats.ExpiredFound)
}

func TestCleanupAfterClockAdvance(t *testing.T) {
	st := newTestStore(t)
	s := decay.New(st, index.New(index.Config{}), enabledConfig(), nil)

	now := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return now })

	// Expires two hours from the initial instant.
	insertRecord(t, st, 1, now.UnixMilli(), 2*time.Hour.Milliseconds())

	stats, err := s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)

	now = now.Add(3 * time.Hour)

	stats, err = s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	stats, err = s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
}

// failDeleteStore makes Delete fail permanently for one id.
type failDeleteStore struct {
	store.Store
	failID int64
}

func (s *failDeleteStore) Delete(ctx context.Context, id int64) error {
	if id == s.failID {
		return errors.New("simulated disk failure")
	}
	return s.Store.Delete(ctx, id)
}

func TestCleanupFailureDoesNotAbortBatch(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	wrapped := &failDeleteStore{Store: st, failID: 2}
	s := decay.New(wrapped, idx, enabledConfig(), nil)

	base := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return base })
	nowMS := base.UnixMilli()

	insertRecord(t, st, 1, nowMS, -time.Hour.Milliseconds())
	insertRecord(t, st, 2, nowMS, -time.Hour.Milliseconds())
	insertRecord(t, st, 3, nowMS, -time.Hour.Milliseconds())
	require.NoError(t, idx.Insert(2, []float64{1, 0}, index.Meta{}))

	stats, err := s.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 1, stats.Errors)

	// The failed entry is left intact in both stores for the next cycle,
	// never half-deleted.
	_, err = st.Get(context.Background(), 2)
	assert.NoError(t, err)
	assert.True(t, idx.Contains(2))
}

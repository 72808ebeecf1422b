package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault-go/pkg/store"
	"github.com/memvault/memvault-go/pkg/store/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func record(id int64, namespace, content string, createdAt int64) *store.Record {
	return &store.Record{
		ID:              id,
		Namespace:       namespace,
		Content:         content,
		MemoryType:      store.ShortTerm,
		Category:        store.CategoryStored,
		ImportanceScore: 0.5,
		CreatedAt:       createdAt,
	}
}

func TestInsertAndGet(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	expireAt := int64(2_000_000)
	rec := record(1, "n1", "hello world", 1_000_000)
	rec.Embedding = []float64{0.6, 0.8}
	rec.MemoryType = store.LongTerm
	rec.Category = store.CategoryLog
	rec.Metadata = map[string]string{"agent": "planner", "trace": "t-1"}
	rec.ExpireAt = &expireAt
	rec.Indexed = true

	require.NoError(t, client.Insert(ctx, rec))

	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec.Namespace, got.Namespace)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.MemoryType, got.MemoryType)
	assert.Equal(t, rec.Category, got.Category)
	assert.Equal(t, rec.ImportanceScore, got.ImportanceScore)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	require.NotNil(t, got.ExpireAt)
	assert.Equal(t, expireAt, *got.ExpireAt)
	assert.True(t, got.Indexed)
}

func TestGetNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Get(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertDuplicateID(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, record(1, "n1", "first", 1)))
	err := client.Insert(ctx, record(1, "n1", "second", 2))
	assert.ErrorIs(t, err, store.ErrDuplicateID)
}

func TestNilEmbeddingRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, record(1, "n1", "no vector", 1)))

	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
	assert.Nil(t, got.ExpireAt)
}

func TestDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, record(1, "n1", "content", 1)))
	require.NoError(t, client.Delete(ctx, 1))

	_, err := client.Get(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, client.Delete(ctx, 1), store.ErrNotFound)
}

func TestListFiltersAndOrdering(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	r1 := record(1, "n1", "oldest", 100)
	r2 := record(2, "n1", "middle", 200)
	r2.Category = store.CategoryLog
	r3 := record(3, "n2", "other namespace", 300)
	r4 := record(4, "n1", "newest", 400)
	r4.ImportanceScore = 0.9
	for _, r := range []*store.Record{r1, r2, r3, r4} {
		require.NoError(t, client.Insert(ctx, r))
	}

	// Newest first within the namespace.
	got, err := client.List(ctx, &store.ListOptions{
		Filter: store.Filter{Namespace: "n1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
	assert.Equal(t, int64(1), got[2].ID)

	got, err = client.List(ctx, &store.ListOptions{
		Filter: store.Filter{Namespace: "n1", Category: store.CategoryStored},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = client.List(ctx, &store.ListOptions{
		Filter: store.Filter{MinImportance: 0.8},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ID)

	// Pagination.
	got, err = client.List(ctx, &store.ListOptions{
		Filter: store.Filter{Namespace: "n1"},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
}

func TestListExpiryExclusion(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	nowMS := int64(10_000)

	past := nowMS - 1
	future := nowMS + 1
	r1 := record(1, "n1", "expired", 100)
	r1.ExpireAt = &past
	r2 := record(2, "n1", "active", 200)
	r2.ExpireAt = &future
	r3 := record(3, "n1", "non-expiring", 300)
	for _, r := range []*store.Record{r1, r2, r3} {
		require.NoError(t, client.Insert(ctx, r))
	}

	got, err := client.List(ctx, &store.ListOptions{Now: nowMS})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = client.List(ctx, &store.ListOptions{Now: nowMS, IncludeExpired: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestListEmbeddedOnly(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	r1 := record(1, "n1", "with vector", 100)
	r1.Embedding = []float64{1, 0}
	r2 := record(2, "n1", "without vector", 200)
	require.NoError(t, client.Insert(ctx, r1))
	require.NoError(t, client.Insert(ctx, r2))

	got, err := client.List(ctx, &store.ListOptions{EmbeddedOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestSearchText(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, record(1, "n1", "cats are great pets", 100)))
	require.NoError(t, client.Insert(ctx, record(2, "n1", "the stock market rose", 200)))
	require.NoError(t, client.Insert(ctx, record(3, "n2", "cats in another namespace", 300)))

	got, err := client.SearchText(ctx, &store.TextSearchOptions{
		Filter: store.Filter{Namespace: "n1"},
		Terms:  []string{"cats"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	// Any-term match, newest first.
	got, err = client.SearchText(ctx, &store.TextSearchOptions{
		Filter: store.Filter{Namespace: "n1"},
		Terms:  []string{"cats", "market"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)

	got, err = client.SearchText(ctx, &store.TextSearchOptions{
		Filter: store.Filter{Namespace: "n1"},
		Terms:  []string{"zebra"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpiryIndexOperations(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	nowMS := int64(10_000)

	past := nowMS - 5
	r1 := record(1, "n1", "expired", 100)
	r1.ExpireAt = &past
	r2 := record(2, "n1", "active", 200)
	require.NoError(t, client.Insert(ctx, r1))
	require.NoError(t, client.Insert(ctx, r2))

	expired, err := client.ListExpired(ctx, nowMS, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].ID)

	active, err := client.CountActive(ctx, nowMS)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	count, err := client.CountExpired(ctx, nowMS)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Reinforcement: extend the expired record's lifetime.
	future := nowMS + 1000
	require.NoError(t, client.SetExpireAt(ctx, 1, &future))
	expired, err = client.ListExpired(ctx, nowMS, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	// And back to non-expiring.
	require.NoError(t, client.SetExpireAt(ctx, 1, nil))
	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.ExpireAt)
}

func TestIndexedFlag(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	r1 := record(1, "n1", "embedded, unindexed", 100)
	r1.Embedding = []float64{1, 0}
	r2 := record(2, "n1", "embedded, indexed", 200)
	r2.Embedding = []float64{0, 1}
	r2.Indexed = true
	r3 := record(3, "n1", "no embedding", 300)
	for _, r := range []*store.Record{r1, r2, r3} {
		require.NoError(t, client.Insert(ctx, r))
	}

	// Only embedded records with Indexed=false need reconciliation.
	unindexed, err := client.ListUnindexed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unindexed, 1)
	assert.Equal(t, int64(1), unindexed[0].ID)

	require.NoError(t, client.MarkIndexed(ctx, 1, true))
	unindexed, err = client.ListUnindexed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unindexed)
}

func TestPing(t *testing.T) {
	client := newTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

package search_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault-go/pkg/embedder/mock"
	"github.com/memvault/memvault-go/pkg/index"
	"github.com/memvault/memvault-go/pkg/search"
	"github.com/memvault/memvault-go/pkg/store"
	"github.com/memvault/memvault-go/pkg/store/sqlite"
)

const msPerHour = int64(3600000)

var baseMS = int64(1_700_000_000_000)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type entry struct {
	id         int64
	content    string
	vector     []float64
	createdAt  int64
	expireAt   *int64
	importance float64
	metadata   map[string]string
}

// seed writes entries to the store and, when they carry a vector, the index.
func seed(t *testing.T, st store.Store, idx *index.HNSW, entries []entry) {
	t.Helper()
	for _, e := range entries {
		importance := e.importance
		if importance == 0 {
			importance = 0.5
		}
		rec := &store.Record{
			ID:              e.id,
			Namespace:       "n1",
			Content:         e.content,
			Embedding:       e.vector,
			MemoryType:      store.ShortTerm,
			Category:        store.CategoryStored,
			ImportanceScore: importance,
			Metadata:        e.metadata,
			CreatedAt:       e.createdAt,
			ExpireAt:        e.expireAt,
			Indexed:         e.vector != nil,
		}
		require.NoError(t, st.Insert(context.Background(), rec))
		if e.vector != nil {
			require.NoError(t, idx.Insert(e.id, e.vector, index.Meta{
				Namespace:  "n1",
				Category:   string(store.CategoryStored),
				MemoryType: string(store.ShortTerm),
				Importance: importance,
			}))
		}
	}
}

func defaultOpts() *search.Options {
	opts := search.DefaultOptions()
	opts.Filter.Namespace = "n1"
	opts.Now = baseMS
	return opts
}

func TestVectorTierSemanticRanking(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.NewFixture(4)
	emb.Assign("cats are great", []float64{1, 0.2, 0, 0})
	emb.Assign("dogs are great", []float64{0.9, 0.4, 0, 0})
	emb.Assign("stock market rose today", []float64{0, 0, 1, 0.1})
	emb.Assign("feline pets", []float64{1, 0.3, 0, 0})

	vec := func(text string) []float64 {
		v, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		return v
	}
	seed(t, st, idx, []entry{
		{id: 1, content: "cats are great", vector: vec("cats are great"), createdAt: baseMS - msPerHour},
		{id: 2, content: "dogs are great", vector: vec("dogs are great"), createdAt: baseMS - msPerHour},
		{id: 3, content: "stock market rose today", vector: vec("stock market rose today"), createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, idx, emb, search.Config{}, nil)
	opts := defaultOpts()
	opts.Limit = 2

	results := eng.Search(context.Background(), "feline pets", opts)
	require.Len(t, results, 2)

	// The two pet entries outrank the stock entry.
	ids := []int64{results[0].Entry.ID, results[1].Entry.ID}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
	assert.Equal(t, int64(1), results[0].Entry.ID, "the cat entry is closest to the query")
	assert.Equal(t, "vector", results[0].Source)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestExpiredEntriesNeverReturned(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.New(4)

	vec, err := emb.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	past := baseMS - 1
	seed(t, st, idx, []entry{
		{id: 1, content: "hello world", vector: vec, createdAt: baseMS - msPerHour, expireAt: &past},
	})

	eng := search.New(st, idx, emb, search.Config{}, nil)

	// Logical expiry hides the entry on every tier, even before physical
	// deletion.
	results := eng.Search(context.Background(), "hello world", defaultOpts())
	assert.Empty(t, results)

	opts := defaultOpts()
	opts.EnableVector = false
	results = eng.Search(context.Background(), "hello world", opts)
	assert.Empty(t, results)

	opts.EnableText = false
	results = eng.Search(context.Background(), "hello world", opts)
	assert.Empty(t, results)
}

// failingIndex simulates an unavailable ANN subsystem.
type failingIndex struct{}

func (failingIndex) KNN([]float64, int, *index.Filter, int) ([]index.Neighbor, error) {
	return nil, errors.New("index unavailable")
}
func (failingIndex) Len() int { return 1 }

func TestVectorFailureFallsBackToText(t *testing.T) {
	st := newTestStore(t)
	emb := mock.New(4)

	healthy := index.New(index.Config{})
	vec, err := emb.Embed(context.Background(), "the deployment target is kubernetes")
	require.NoError(t, err)
	seed(t, st, healthy, []entry{
		{id: 1, content: "the deployment target is kubernetes", vector: vec, createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, failingIndex{}, emb, search.Config{}, nil)

	results := eng.Search(context.Background(), "kubernetes deployment", defaultOpts())
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Entry.ID)
	assert.Equal(t, "text", results[0].Source)
	assert.Greater(t, results[0].TextRelevance, 0.0)
}

func TestEmptyVectorTierFallsThroughToText(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.NewFixture(4)
	emb.Assign("cats are great", []float64{1, 0, 0, 0})
	emb.Assign("cats", []float64{0, 0, 0, 1})

	vec, err := emb.Embed(context.Background(), "cats are great")
	require.NoError(t, err)
	seed(t, st, idx, []entry{
		{id: 1, content: "cats are great", vector: vec, createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, idx, emb, search.Config{}, nil)
	opts := defaultOpts()
	// A threshold that eliminates every vector candidate falls through to
	// the text tier rather than returning empty.
	opts.SimilarityThreshold = 0.99

	results := eng.Search(context.Background(), "cats", opts)
	require.Len(t, results, 1)
	assert.Equal(t, "text", results[0].Source)
}

func TestThresholdNeverIncreasesVectorCandidates(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.NewFixture(4)
	emb.Assign("q", []float64{1, 0, 0, 0})
	emb.Assign("close", []float64{0.95, 0.3, 0, 0})
	emb.Assign("middling", []float64{0.6, 0.8, 0, 0})
	emb.Assign("far", []float64{0, 1, 0, 0})

	entries := []entry{}
	for i, text := range []string{"close", "middling", "far"} {
		v, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		entries = append(entries, entry{id: int64(i + 1), content: text, vector: v, createdAt: baseMS - msPerHour})
	}
	seed(t, st, idx, entries)

	eng := search.New(st, idx, emb, search.Config{}, nil)

	prev := len(entries) + 1
	for _, threshold := range []float64{0, 0.5, 0.9, 0.999} {
		opts := defaultOpts()
		opts.EnableText = false
		opts.SimilarityThreshold = threshold

		results := eng.Search(context.Background(), "q", opts)
		assert.LessOrEqual(t, len(results), prev,
			"threshold %.3f increased the candidate count", threshold)
		prev = len(results)
	}
}

func TestHybridMergesTiersByID(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.NewFixture(4)
	emb.Assign("kubernetes rollout finished", []float64{1, 0, 0, 0})
	emb.Assign("unrelated vector content", []float64{0.9, 0.2, 0, 0})
	emb.Assign("kubernetes", []float64{1, 0.1, 0, 0})

	v1, err := emb.Embed(context.Background(), "kubernetes rollout finished")
	require.NoError(t, err)
	v2, err := emb.Embed(context.Background(), "unrelated vector content")
	require.NoError(t, err)
	seed(t, st, idx, []entry{
		{id: 1, content: "kubernetes rollout finished", vector: v1, createdAt: baseMS - msPerHour},
		{id: 2, content: "unrelated vector content", vector: v2, createdAt: baseMS - msPerHour},
		{id: 3, content: "kubernetes text only entry", createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, idx, emb, search.Config{}, nil)
	opts := defaultOpts()
	opts.EnableHybrid = true

	results := eng.Search(context.Background(), "kubernetes", opts)
	require.Len(t, results, 3)

	byID := map[int64]*search.Result{}
	for _, r := range results {
		byID[r.Entry.ID] = r
	}
	// Entry 1 was found by both tiers and carries both signals.
	require.Contains(t, byID, int64(1))
	assert.Greater(t, byID[1].VectorSimilarity, 0.0)
	assert.Greater(t, byID[1].TextRelevance, 0.0)
	// Entry 3 has no vector and came from the text tier alone.
	require.Contains(t, byID, int64(3))
	assert.Equal(t, "text", byID[3].Source)
	// The dual-signal entry outranks both single-signal entries.
	assert.Equal(t, int64(1), results[0].Entry.ID)
}

func TestScanTierWhenBothSubsystemsDown(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})

	past := baseMS - 1
	seed(t, st, idx, []entry{
		{id: 1, content: "oldest", createdAt: baseMS - 3*msPerHour},
		{id: 2, content: "middle", createdAt: baseMS - 2*msPerHour},
		{id: 3, content: "expired", createdAt: baseMS - msPerHour, expireAt: &past},
		{id: 4, content: "newest", createdAt: baseMS - msPerHour/2},
	})

	eng := search.New(st, idx, nil, search.Config{}, nil)
	opts := defaultOpts()
	opts.EnableVector = false
	opts.EnableText = false
	opts.Limit = 2

	results := eng.Search(context.Background(), "anything", opts)
	require.Len(t, results, 2)
	assert.Equal(t, int64(4), results[0].Entry.ID)
	assert.Equal(t, int64(2), results[1].Entry.ID)
	assert.Equal(t, "scan", results[0].Source)
}

func TestScanTierHonorsDeadline(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, index.New(index.Config{}), []entry{
		{id: 1, content: "entry", createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, nil, nil, search.Config{}, nil)
	opts := defaultOpts()
	opts.EnableVector = false
	opts.EnableText = false
	opts.MaxSearchTime = time.Nanosecond

	// An already-expired deadline yields partial (here: empty) results
	// instead of blocking or erroring.
	results := eng.Search(context.Background(), "entry", opts)
	assert.Empty(t, results)
}

func TestEmptyQueryOnTextTierYieldsNoResultsNotError(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, index.New(index.Config{}), []entry{
		{id: 1, content: "entry", createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, nil, nil, search.Config{}, nil)
	results := eng.Search(context.Background(), "", defaultOpts())
	assert.Empty(t, results)
}

func TestMetadataFilter(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})
	emb := mock.New(4)

	vec := func(text string) []float64 {
		v, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		return v
	}
	seed(t, st, idx, []entry{
		{id: 1, content: "shared phrasing alpha", vector: vec("shared phrasing alpha"), createdAt: baseMS - msPerHour,
			metadata: map[string]string{"trace": "t-1"}},
		{id: 2, content: "shared phrasing beta", vector: vec("shared phrasing beta"), createdAt: baseMS - msPerHour,
			metadata: map[string]string{"trace": "t-2"}},
	})

	eng := search.New(st, idx, emb, search.Config{}, nil)
	opts := defaultOpts()
	opts.Filter.Metadata = map[string]string{"trace": "t-2"}

	results := eng.Search(context.Background(), "shared phrasing", opts)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].Entry.ID)
}

func TestTieBreakPrefersNewer(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})

	seed(t, st, idx, []entry{
		{id: 1, content: "identical wording", createdAt: baseMS - 2*msPerHour},
		{id: 2, content: "identical wording", createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, idx, nil, search.Config{}, nil)
	opts := defaultOpts()
	opts.EnableTemporal = false

	results := eng.Search(context.Background(), "identical wording", opts)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, int64(2), results[0].Entry.ID)
}

func TestContextBoostReordersResults(t *testing.T) {
	st := newTestStore(t)
	idx := index.New(index.Config{})

	seed(t, st, idx, []entry{
		{id: 1, content: "release notes draft pending", createdAt: baseMS - msPerHour},
		{id: 2, content: "release checklist for kubernetes rollout", createdAt: baseMS - msPerHour},
	})

	eng := search.New(st, idx, nil, search.Config{}, nil)
	opts := defaultOpts()
	opts.EnableTemporal = false
	opts.ContextTexts = []string{"we are mid kubernetes rollout"}

	results := eng.Search(context.Background(), "release", opts)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].Entry.ID,
		"the entry overlapping the conversational context ranks first")
	assert.Greater(t, results[0].Score, results[1].Score)
}

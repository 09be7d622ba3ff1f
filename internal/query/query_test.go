package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/eco"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/metastore"
	"github.com/freeeve/chessarchive/internal/movearchive"
	"github.com/freeeve/chessarchive/internal/search"
)

type fakeMeta struct {
	mu        sync.Mutex
	records   map[int64]game.Record
	searchErr error
	searches  int
	gets      int
	lastQuery metastore.Filter
}

func (m *fakeMeta) Get(_ context.Context, id int64) (*game.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("game not found")
	}
	return &r, nil
}

func (m *fakeMeta) Search(_ context.Context, f metastore.Filter) ([]game.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	m.lastQuery = f
	if m.searchErr != nil {
		return nil, 0, m.searchErr
	}
	var out []game.Record
	for _, id := range []int64{42, 9001, 7} {
		if r, ok := m.records[id]; ok && (f.Player == "" || r.White == f.Player || r.Black == f.Player) {
			out = append(out, r)
		}
	}
	total := len(out)
	if f.Offset >= len(out) {
		return []game.Record{}, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *fakeMeta) Ping(context.Context) error { return nil }

type fakeMoves struct {
	mu   sync.Mutex
	text map[int64]game.MoveText
	puts int
	err  error
}

func (a *fakeMoves) Get(_ context.Context, id int64) (game.MoveText, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return game.MoveText{}, a.err
	}
	mt, ok := a.text[id]
	if !ok {
		return game.MoveText{}, movearchive.ErrNotFound
	}
	return mt, nil
}

func (a *fakeMoves) Put(_ context.Context, mt game.MoveText) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts++
	a.text[mt.GameID] = mt
	return nil
}

func (a *fakeMoves) Close() error { return nil }

type fakeExtractor struct {
	scans   int32
	release chan struct{} // nil means return immediately
	err     error
}

func (e *fakeExtractor) Extract(ctx context.Context, c game.Criteria) (game.MoveText, error) {
	atomic.AddInt32(&e.scans, 1)
	if e.release != nil {
		<-e.release
	}
	if e.err != nil {
		return game.MoveText{}, e.err
	}
	return game.MoveText{GameID: c.GameID, Text: "1. e4 e5 2. Nf3 Nc6 3. Bb5 1-0", Plies: 5}, nil
}

func (e *fakeExtractor) Scans() int32 { return atomic.LoadInt32(&e.scans) }

type nameSource map[search.EntityType][]search.NameCount

func (n nameSource) Names(_ context.Context, t search.EntityType) ([]search.NameCount, error) {
	return n[t], nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func str(s string) *string { return &s }

type fixture struct {
	svc   *Service
	meta  *fakeMeta
	moves *fakeMoves
	ext   *fakeExtractor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	meta := &fakeMeta{records: map[int64]game.Record{
		42:   {ID: 42, White: "Carlsen, Magnus", Black: "Anand, Viswanathan", Result: game.ResultDraw, Date: day("2012-06-12"), ECO: "C60"},
		9001: {ID: 9001, White: "Carlsen, Magnus", Black: "Caruana, Fabiano", Result: game.ResultWhiteWin, Date: day("2011-03-02")},
		7:    {ID: 7, White: "Nakamura, Hikaru", Black: "Carlsen, Magnus", Result: game.ResultBlackWin, Date: day("2010-01-20")},
	}}
	moves := &fakeMoves{text: map[int64]game.MoveText{
		42: {GameID: 42, Text: "1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 1/2-1/2", Plies: 6},
	}}
	ext := &fakeExtractor{}

	aliases := search.NewAliases()
	aliases.Add(search.EntityPlayer, "Magnus Carlsen", "Carlsen, Magnus")
	names := search.NewHolder(&search.Builder{
		Sources: []search.Source{nameSource{
			search.EntityPlayer: {{Name: "Carlsen, Magnus", Count: 3}, {Name: "Caruana, Fabiano", Count: 1}},
			search.EntityOpening: {{Name: "Ruy Lopez", Count: 1}},
		}},
		Aliases: aliases,
	}, zerolog.Nop())
	require.NoError(t, names.Rebuild(context.Background()))

	db := eco.NewDatabase()
	require.True(t, db.Add("C60", "Ruy Lopez", "1. e4 e5 2. Nf3 Nc6 3. Bb5"))

	cfg.Logger = zerolog.Nop()
	svc := New(Deps{Meta: meta, Moves: moves, Extractor: ext, Names: names, ECO: db}, cfg)
	return &fixture{svc: svc, meta: meta, moves: moves, ext: ext}
}

func TestSearchScenario(t *testing.T) {
	f := newFixture(t, Config{})

	page, err := f.svc.Search(context.Background(),
		Filters{Player: str("Carlsen, Magnus"), DateFrom: str("2010-01-01"), DateTo: str("2012-12-31")},
		Pagination{Limit: 20})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(page.Items), 20)
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.HasMore)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].Date.After(page.Items[i-1].Date), "not date-descending")
	}
	assert.Equal(t, day("2010-01-01"), f.meta.lastQuery.DateFrom)
	assert.Equal(t, day("2012-12-31"), f.meta.lastQuery.DateTo)
	assert.Equal(t, int32(0), f.ext.Scans(), "search must not extract")
}

func TestSearchCanonicalizesNames(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Search(context.Background(), Filters{Player: str("magnus carlsen")}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, "Carlsen, Magnus", f.meta.lastQuery.Player)
	assert.Equal(t, 20, f.meta.lastQuery.Limit)

	_, err = f.svc.Search(context.Background(), Filters{White: str("  Someone Unknown ")}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, "Someone Unknown", f.meta.lastQuery.White)
}

func TestSearchPageCache(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.Search(ctx, Filters{Player: str("Carlsen, Magnus"), ECO: str("c60")}, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.True(t, first.HasMore)

	// Same query through an alias and different casing hits the cache.
	second, err := f.svc.Search(ctx, Filters{ECO: str("C60"), Player: str("Magnus Carlsen")}, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, 1, f.meta.searches)
}

func TestSearchPageCacheClearedOnIndexRebuild(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	filters := Filters{Player: str("Carlsen, Magnus")}

	_, err := f.svc.Search(ctx, filters, Pagination{Limit: 2})
	require.NoError(t, err)
	cached, err := f.svc.Search(ctx, filters, Pagination{Limit: 2})
	require.NoError(t, err)
	require.True(t, cached.Cached)

	require.NoError(t, f.svc.names.Rebuild(ctx))

	fresh, err := f.svc.Search(ctx, filters, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.Equal(t, 2, f.meta.searches)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, Config{MaxPageSize: 50})

	tests := []struct {
		name string
		f    Filters
		p    Pagination
	}{
		{"empty player", Filters{Player: str("")}, Pagination{}},
		{"blank white", Filters{White: str("   ")}, Pagination{}},
		{"negative limit", Filters{}, Pagination{Limit: -1}},
		{"negative offset", Filters{}, Pagination{Offset: -5}},
		{"limit over max", Filters{}, Pagination{Limit: 51}},
		{"bad eco", Filters{ECO: str("Z99")}, Pagination{}},
		{"bad result", Filters{Result: str("win")}, Pagination{}},
		{"bad date", Filters{DateFrom: str("yesterday")}, Pagination{}},
		{"inverted range", Filters{DateFrom: str("2012-01-01"), DateTo: str("2011-01-01")}, Pagination{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Search(context.Background(), tt.f, tt.p)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 0, f.meta.searches, "validation must run before any store access")
}

func TestSearchStoreFailureFailsRequest(t *testing.T) {
	f := newFixture(t, Config{})
	f.meta.searchErr = apperr.Unavailable("metadata store unavailable", errors.New("dial tcp 10.0.0.1:5432: refused"))

	page, err := f.svc.Search(context.Background(), Filters{Player: str("Carlsen, Magnus")}, Pagination{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindResourceUnavailable, apperr.KindOf(err))
	assert.Empty(t, page.Items)
	assert.NotContains(t, apperr.SafeMessage(err), "10.0.0.1")
}

func TestDetailPrecomputed(t *testing.T) {
	f := newFixture(t, Config{})

	d, err := f.svc.GetGameDetail(context.Background(), 42, true)
	require.NoError(t, err)
	assert.Equal(t, SourcePrecomputed, d.Source)
	require.NotNil(t, d.MoveText)
	assert.Equal(t, 6, d.MoveText.Plies)
	assert.Equal(t, "Ruy Lopez", d.Record.Opening, "opening filled from ECO code")
	assert.Equal(t, int32(0), f.ext.Scans())
}

func TestDetailWithoutMoveText(t *testing.T) {
	f := newFixture(t, Config{})

	d, err := f.svc.GetGameDetail(context.Background(), 9001, false)
	require.NoError(t, err)
	assert.Nil(t, d.MoveText)
	assert.Equal(t, SourceNone, d.Source)
	assert.Equal(t, int32(0), f.ext.Scans())
}

func TestDetailExtractedThenCached(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	assert.Equal(t, SourceExtracted, first.Source)
	require.NotNil(t, first.MoveText)
	// ECO classified from the extracted moves.
	assert.Equal(t, "C60", first.Record.ECO)

	second, err := f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	assert.Equal(t, SourceCached, second.Source)
	assert.Equal(t, *first.MoveText, *second.MoveText)
	assert.Equal(t, int32(1), f.ext.Scans())
	assert.Equal(t, 0, f.moves.puts, "persistence disabled")
}

func TestDetailPersistsExtracted(t *testing.T) {
	f := newFixture(t, Config{PersistExtracted: true})
	ctx := context.Background()

	_, err := f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.moves.puts)

	d, err := f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	assert.Equal(t, SourcePrecomputed, d.Source)
}

func TestDetailNotFound(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.GetGameDetail(context.Background(), 999999999, true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, int32(0), f.ext.Scans(), "nonexistent game must not extract")

	_, err = f.svc.GetGameDetail(context.Background(), -3, true)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDetailCoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t, Config{})
	f.ext.release = make(chan struct{})

	const n = 5
	var wg sync.WaitGroup
	results := make([]Detail, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.GetGameDetail(context.Background(), 9001, true)
		}(i)
	}
	// Let every caller reach the in-flight extraction before it finishes.
	require.Eventually(t, func() bool { return f.ext.Scans() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.ext.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.ext.Scans())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].MoveText)
		assert.Equal(t, *results[0].MoveText, *results[i].MoveText)
		assert.Nil(t, results[i].MoveTextError)
	}
	assert.Equal(t, uint64(n), f.svc.CacheStats().Moves.Coalesced)
}

func TestDetailExtractionTimeoutKeepsRunning(t *testing.T) {
	f := newFixture(t, Config{ExtractionDeadline: 20 * time.Millisecond})
	f.ext.release = make(chan struct{})

	d, err := f.svc.GetGameDetail(context.Background(), 9001, true)
	require.NoError(t, err, "extraction failures degrade instead of failing")
	assert.Nil(t, d.MoveText)
	require.NotNil(t, d.MoveTextError)
	assert.Equal(t, "extraction_timeout", d.MoveTextError.Kind)

	close(f.ext.release)
	require.Eventually(t, func() bool {
		_, ok := f.svc.moveCache.Get(moveKey(9001))
		return ok
	}, time.Second, 5*time.Millisecond, "background extraction never populated the cache")

	d, err = f.svc.GetGameDetail(context.Background(), 9001, true)
	require.NoError(t, err)
	assert.Equal(t, SourceCached, d.Source)
	assert.Equal(t, int32(1), f.ext.Scans())
}

func TestDetailExtractionErrorDegrades(t *testing.T) {
	f := newFixture(t, Config{})
	f.ext.err = apperr.DataInconsistency("archive partition is missing", errors.New("open /srv/archive/2011-03.pgn.zst: no such file"))

	d, err := f.svc.GetGameDetail(context.Background(), 9001, true)
	require.NoError(t, err)
	assert.Equal(t, "Carlsen, Magnus", d.Record.White)
	require.NotNil(t, d.MoveTextError)
	assert.Equal(t, "data_inconsistency", d.MoveTextError.Kind)
	assert.Equal(t, "archive partition is missing", d.MoveTextError.Message)

	// Failures are not cached; a later call retries.
	f.ext.err = nil
	d, err = f.svc.GetGameDetail(context.Background(), 9001, true)
	require.NoError(t, err)
	assert.Equal(t, SourceExtracted, d.Source)
}

func TestDetailPrecomputedFailureFallsThrough(t *testing.T) {
	f := newFixture(t, Config{})
	f.moves.err = errors.New("redis: connection refused")

	d, err := f.svc.GetGameDetail(context.Background(), 42, true)
	require.NoError(t, err)
	assert.Equal(t, SourceExtracted, d.Source)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	got, err := f.svc.Suggest(ctx, "car", "", 5)
	require.NoError(t, err)
	require.Len(t, got["player"], 2)
	assert.Equal(t, "Carlsen, Magnus", got["player"][0].Name)
	assert.Contains(t, got, "opening")
	assert.Contains(t, got, "tournament")

	got, err = f.svc.Suggest(ctx, "ruy", "opening", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "Ruy Lopez", got["opening"][0].Name)

	for _, bad := range []struct {
		prefix, typ string
		limit       int
	}{{"", "", 5}, {"car", "planet", 5}, {"car", "", -1}, {"car", "", 1000}} {
		_, err := f.svc.Suggest(ctx, bad.prefix, bad.typ, bad.limit)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", bad)
	}
}

func TestCacheStats(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	_, err = f.svc.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)

	s := f.svc.CacheStats()
	assert.Equal(t, 1, s.WarmSize)
	// One miss for the extracting call, one hit for the cached one.
	assert.Equal(t, uint64(1), s.Moves.Hits)
	assert.Equal(t, uint64(1), s.Moves.Misses)
	assert.Equal(t, 0.5, s.HitRate)
	assert.Nil(t, s.Extraction, "fake extractor exposes no counters")
	require.NotNil(t, s.Index)
	assert.False(t, s.Index.BuiltAt.IsZero())
	assert.Equal(t, 2, s.Index.Players)
	assert.Equal(t, 1, s.Index.Openings)
	assert.Equal(t, 0, s.Index.Tournaments)
}

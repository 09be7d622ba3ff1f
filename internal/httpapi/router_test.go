package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/query"
	"github.com/freeeve/chessarchive/internal/search"
)

type fakeArchive struct {
	lastFilters query.Filters
	lastPage    query.Pagination
	lastInclude bool
	searchErr   error
	detailErr   error
	healthErr   error
	detail      query.Detail
}

func (f *fakeArchive) Search(_ context.Context, fl query.Filters, p query.Pagination) (query.Page, error) {
	f.lastFilters, f.lastPage = fl, p
	if f.searchErr != nil {
		return query.Page{}, f.searchErr
	}
	return query.Page{
		Items: []game.Summary{{ID: 1, White: "Carlsen, Magnus", Black: "Anand, Viswanathan", Result: "draw"}},
		Total: 1,
		Limit: 20,
	}, nil
}

func (f *fakeArchive) GetGameDetail(_ context.Context, id int64, include bool) (query.Detail, error) {
	f.lastInclude = include
	if f.detailErr != nil {
		return query.Detail{}, f.detailErr
	}
	d := f.detail
	d.Record.ID = id
	return d, nil
}

func (f *fakeArchive) Suggest(_ context.Context, prefix, _ string, _ int) (query.Suggestions, error) {
	if prefix == "" {
		return nil, apperr.Validation("prefix must not be empty")
	}
	return query.Suggestions{"player": {{Name: "Carlsen, Magnus", Frequency: 10, Score: 1}}}, nil
}

func (f *fakeArchive) CacheStats() query.CacheStats {
	return query.CacheStats{HotSize: 1, WarmSize: 2, HitRate: 0.5}
}

func (f *fakeArchive) Health(context.Context) error { return f.healthErr }

func serve(t *testing.T, a Archive, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	NewRouter(zerolog.Nop(), a, false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

func TestSearchGamesParams(t *testing.T) {
	a := &fakeArchive{}
	rr := serve(t, a, "/v1/games?player=carlsen&eco=b90&date_from=2012.01.01&limit=5&offset=10&event=")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	require.NotNil(t, a.lastFilters.Player)
	assert.Equal(t, "carlsen", *a.lastFilters.Player)
	assert.Equal(t, "b90", *a.lastFilters.ECO)
	assert.Equal(t, "2012.01.01", *a.lastFilters.DateFrom)
	require.NotNil(t, a.lastFilters.Event, "present but empty parameter must reach validation")
	assert.Equal(t, "", *a.lastFilters.Event)
	assert.Nil(t, a.lastFilters.White)
	assert.Equal(t, query.Pagination{Limit: 5, Offset: 10}, a.lastPage)

	var page query.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Carlsen, Magnus", page.Items[0].White)
}

func TestSearchGamesBadLimit(t *testing.T) {
	rr := serve(t, &fakeArchive{}, "/v1/games?limit=ten")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "validation_error", e.Error)
	assert.Equal(t, "limit must be an integer", e.Message)
	assert.NotEmpty(t, e.RequestID)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.Validation("bad"), http.StatusBadRequest, "validation_error"},
		{apperr.NotFound("game not found"), http.StatusNotFound, "not_found"},
		{apperr.Unavailable("metadata store unavailable", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "resource_unavailable"},
		{apperr.ExtractionTimeout("retry", context.DeadlineExceeded), http.StatusGatewayTimeout, "extraction_timeout"},
		{apperr.DataInconsistency("archive partition is missing", nil), http.StatusInternalServerError, "data_inconsistency"},
		{errors.New("boom at /var/lib/secret"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			rr := serve(t, &fakeArchive{searchErr: tc.err}, "/v1/games")
			assert.Equal(t, tc.status, rr.Code)
			e := decodeError(t, rr)
			assert.Equal(t, tc.kind, e.Error)
			assert.NotContains(t, rr.Body.String(), "refused")
			assert.NotContains(t, rr.Body.String(), "/var/lib")
		})
	}
}

func TestGameDetail(t *testing.T) {
	date := time.Date(2012, 6, 12, 0, 0, 0, 0, time.UTC)
	a := &fakeArchive{detail: query.Detail{
		Record:   game.Record{White: "Carlsen, Magnus", Black: "Anand, Viswanathan", Result: game.ResultDraw, Date: date, ECO: "C65"},
		MoveText: &game.MoveText{GameID: 42, Text: "1. e4 e5 2. Nf3 Nc6 1/2-1/2", Plies: 4},
		Source:   query.SourceExtracted,
		Elapsed:  1500 * time.Microsecond,
	}}
	rr := serve(t, a, "/v1/games/42")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, a.lastInclude)

	var resp GameResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "draw", resp.Result)
	assert.Equal(t, "1/2-1/2", resp.ResultTag)
	assert.Equal(t, "2012.06.12", resp.Date)
	assert.Equal(t, 4, resp.Plies)
	assert.Equal(t, "extracted", resp.Source)
	assert.InDelta(t, 1.5, resp.ElapsedMS, 1e-9)
	assert.Nil(t, resp.MoveTextError)
}

func TestGameDetailWithoutMoves(t *testing.T) {
	a := &fakeArchive{}
	rr := serve(t, a, "/v1/games/42?moves=false")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, a.lastInclude)
	assert.NotContains(t, rr.Body.String(), "move_text")
}

func TestGameDetailMoveTextError(t *testing.T) {
	a := &fakeArchive{detail: query.Detail{
		MoveTextError: &query.MoveTextError{Kind: "not_found", Message: "move text not found in archive"},
	}}
	rr := serve(t, a, "/v1/games/7")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"move_text_error":{"kind":"not_found"`)
}

func TestGameDetailBadInput(t *testing.T) {
	for _, target := range []string{"/v1/games/abc", "/v1/games/42?moves=maybe"} {
		rr := serve(t, &fakeArchive{}, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
	rr := serve(t, &fakeArchive{detailErr: apperr.NotFound("game not found")}, "/v1/games/9")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "game not found", decodeError(t, rr).Message)
}

func TestSuggest(t *testing.T) {
	rr := serve(t, &fakeArchive{}, "/v1/suggest?q=carl&type=player")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Candidates map[string][]search.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Candidates["player"], 1)
	assert.Equal(t, "Carlsen, Magnus", body.Candidates["player"][0].Name)

	rr = serve(t, &fakeArchive{}, "/v1/suggest")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCacheStatsAndHealth(t *testing.T) {
	rr := serve(t, &fakeArchive{}, "/v1/cache/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"hit_rate":0.5`)

	assert.Equal(t, http.StatusOK, serve(t, &fakeArchive{}, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(t, &fakeArchive{}, "/readyz").Code)
	down := &fakeArchive{healthErr: apperr.Unavailable("metadata store unavailable", errors.New("refused"))}
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, down, "/readyz").Code)
}

func TestRequestIDAndCORS(t *testing.T) {
	h := NewRouter(zerolog.Nop(), &fakeArchive{}, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/games", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

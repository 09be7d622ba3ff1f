package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/query"
)

// Archive is the query surface served over HTTP.
type Archive interface {
	Search(ctx context.Context, f query.Filters, p query.Pagination) (query.Page, error)
	GetGameDetail(ctx context.Context, id int64, includeMoveText bool) (query.Detail, error)
	Suggest(ctx context.Context, prefix, entityType string, limit int) (query.Suggestions, error)
	CacheStats() query.CacheStats
	Health(ctx context.Context) error
}

// Handler serves the archive API.
type Handler struct {
	archive Archive
	log     zerolog.Logger
}

// NewRouter creates the HTTP router. pprof handlers are mounted when
// enablePprof is set.
func NewRouter(log zerolog.Logger, archive Archive, enablePprof bool) http.Handler {
	h := &Handler{
		archive: archive,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /v1/games", h.searchGames)
	mux.HandleFunc("GET /v1/games/{id}", h.gameDetail)
	mux.HandleFunc("GET /v1/suggest", h.suggest)
	mux.HandleFunc("GET /v1/cache/stats", h.cacheStats)

	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return CORS(RequestID(AccessLog(log, mux)))
}

// CORS allows read-only cross-origin access.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.archive.Health(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) searchGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f := query.Filters{
		Player:   optParam(q, "player"),
		White:    optParam(q, "white"),
		Black:    optParam(q, "black"),
		Event:    optParam(q, "event"),
		Opening:  optParam(q, "opening"),
		ECO:      optParam(q, "eco"),
		Result:   optParam(q, "result"),
		DateFrom: optParam(q, "date_from"),
		DateTo:   optParam(q, "date_to"),
	}
	page, err := h.archive.Search(r.Context(), f, query.Pagination{Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) gameDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, apperr.Validation("id must be a positive integer"))
		return
	}
	includeMoves := true
	if v := r.URL.Query().Get("moves"); v != "" {
		includeMoves, err = strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, apperr.Validation("moves must be true or false"))
			return
		}
	}

	d, err := h.archive.GetGameDetail(r.Context(), id, includeMoves)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameResponse(d))
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.archive.Suggest(r.Context(), q.Get("q"), q.Get("type"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": s})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.archive.CacheStats())
}

// GameResponse is the wire form of a game detail.
type GameResponse struct {
	ID            int64                `json:"id"`
	White         string               `json:"white"`
	Black         string               `json:"black"`
	Result        string               `json:"result"`
	ResultTag     string               `json:"result_tag"`
	Date          string               `json:"date"`
	Round         string               `json:"round,omitempty"`
	Event         string               `json:"event,omitempty"`
	ECO           string               `json:"eco,omitempty"`
	Opening       string               `json:"opening,omitempty"`
	PlyCount      int                  `json:"ply_count,omitempty"`
	MoveText      string               `json:"move_text,omitempty"`
	Plies         int                  `json:"plies,omitempty"`
	Source        string               `json:"source,omitempty"`
	ElapsedMS     float64              `json:"elapsed_ms"`
	MoveTextError *query.MoveTextError `json:"move_text_error,omitempty"`
}

func toGameResponse(d query.Detail) GameResponse {
	rec := d.Record
	resp := GameResponse{
		ID:            rec.ID,
		White:         rec.White,
		Black:         rec.Black,
		Result:        rec.Result.Name(),
		ResultTag:     rec.Result.String(),
		Date:          rec.Date.Format(game.DateLayout),
		Round:         rec.Round,
		Event:         rec.Event,
		ECO:           rec.ECO,
		Opening:       rec.Opening,
		PlyCount:      rec.PlyCount,
		Source:        string(d.Source),
		ElapsedMS:     float64(d.Elapsed) / float64(time.Millisecond),
		MoveTextError: d.MoveTextError,
	}
	if d.MoveText != nil {
		resp.MoveText = d.MoveText.Text
		resp.Plies = d.MoveText.Plies
	}
	return resp
}

// errorResponse never carries internal causes; only the kind and the
// curated message.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindResourceUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindExtractionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	rid := GetRequestID(r.Context())
	if status >= 500 {
		h.log.Error().Err(err).Str("rid", rid).Str("kind", kind.String()).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Error:     kind.String(),
		Message:   apperr.SafeMessage(err),
		RequestID: rid,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// optParam returns nil for an absent parameter and a pointer to its value
// (possibly empty) when present.
func optParam(q url.Values, name string) *string {
	if !q.Has(name) {
		return nil
	}
	v := q.Get(name)
	return &v
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation(name + " must be an integer")
	}
	return n, nil
}

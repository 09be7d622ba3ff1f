package query

import (
	"context"
	"strconv"
	"strings"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/metastore"
	"github.com/freeeve/chessarchive/internal/search"
	"github.com/freeeve/chessarchive/internal/tiercache"
)

// Filters narrows a listing. A nil field is unset; a set field must not be
// blank.
type Filters struct {
	Player   *string `json:"player" validate:"omitnil,nonblank,max=200"`
	White    *string `json:"white" validate:"omitnil,nonblank,max=200"`
	Black    *string `json:"black" validate:"omitnil,nonblank,max=200"`
	Event    *string `json:"event" validate:"omitnil,nonblank,max=200"`
	Opening  *string `json:"opening" validate:"omitnil,nonblank,max=200"`
	ECO      *string `json:"eco" validate:"omitnil,eco"`
	Result   *string `json:"result" validate:"omitnil,result"`
	DateFrom *string `json:"date_from" validate:"omitnil,gamedate"`
	DateTo   *string `json:"date_to" validate:"omitnil,gamedate"`
}

// Pagination selects a page. Limit 0 means the default page size.
type Pagination struct {
	Limit  int `json:"limit" validate:"gte=0"`
	Offset int `json:"offset" validate:"gte=0"`
}

// Page is one page of summaries ordered by date descending, then id.
type Page struct {
	Items   []game.Summary `json:"items"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
	Cached  bool           `json:"cached"`
}

// Search lists games matching f. It reads metadata only and never triggers
// extraction. Any store failure fails the whole request.
func (s *Service) Search(ctx context.Context, f Filters, p Pagination) (Page, error) {
	mf, err := s.buildFilter(f, p)
	if err != nil {
		return Page{}, err
	}

	key := tiercache.Fingerprint("search", filterParams(mf))
	if page, ok := s.pageCache.Get(key); ok {
		page.Cached = true
		return page, nil
	}

	recs, total, err := s.meta.Search(ctx, mf)
	if err != nil {
		s.log.Error().Err(err).Msg("search failed")
		return Page{}, err
	}

	page := Page{
		Items:   make([]game.Summary, len(recs)),
		Total:   total,
		Limit:   mf.Limit,
		Offset:  mf.Offset,
		HasMore: mf.Offset+len(recs) < total,
	}
	for i := range recs {
		page.Items[i] = recs[i].Summary()
	}
	s.pageCache.Put(key, page, tiercache.TierWarm)
	return page, nil
}

// buildFilter validates f and p and resolves names to their canonical form.
func (s *Service) buildFilter(f Filters, p Pagination) (metastore.Filter, error) {
	if err := s.validate.Struct(f); err != nil {
		return metastore.Filter{}, validationError(err)
	}
	if err := s.validate.Struct(p); err != nil {
		return metastore.Filter{}, validationError(err)
	}
	if p.Limit > s.cfg.MaxPageSize {
		return metastore.Filter{}, apperr.Validation("limit must be at most " + strconv.Itoa(s.cfg.MaxPageSize))
	}

	mf := metastore.Filter{
		Player:  s.canonical(search.EntityPlayer, f.Player),
		White:   s.canonical(search.EntityPlayer, f.White),
		Black:   s.canonical(search.EntityPlayer, f.Black),
		Event:   s.canonical(search.EntityTournament, f.Event),
		Opening: s.canonical(search.EntityOpening, f.Opening),
		Limit:   p.Limit,
		Offset:  p.Offset,
	}
	if mf.Limit == 0 {
		mf.Limit = s.cfg.DefaultPageSize
	}
	if f.ECO != nil {
		mf.ECO = strings.ToUpper(strings.TrimSpace(*f.ECO))
	}
	if f.Result != nil {
		mf.Result = game.ParseResult(*f.Result)
	}
	if f.DateFrom != nil {
		mf.DateFrom, _ = game.ParseDate(*f.DateFrom)
	}
	if f.DateTo != nil {
		mf.DateTo, _ = game.ParseDate(*f.DateTo)
	}
	if !mf.DateFrom.IsZero() && !mf.DateTo.IsZero() && mf.DateTo.Before(mf.DateFrom) {
		return metastore.Filter{}, apperr.Validation("date_from must not be after date_to")
	}
	return mf, nil
}

// canonical maps a user-supplied name to the spelling stored in the
// metadata: the search index first, then the alias table, else the trimmed
// input.
func (s *Service) canonical(t search.EntityType, v *string) string {
	if v == nil {
		return ""
	}
	name := strings.TrimSpace(*v)
	if s.names == nil {
		return name
	}
	if c, ok := s.names.Index().Canonical(t, name); ok {
		return c
	}
	if c, ok := s.names.Aliases().Resolve(t, name); ok {
		return c
	}
	return name
}

func filterParams(f metastore.Filter) map[string]string {
	m := map[string]string{
		"player":  f.Player,
		"white":   f.White,
		"black":   f.Black,
		"event":   f.Event,
		"opening": f.Opening,
		"eco":     f.ECO,
		"limit":   strconv.Itoa(f.Limit),
		"offset":  strconv.Itoa(f.Offset),
	}
	if f.Result != game.ResultUnknown {
		m["result"] = f.Result.String()
	}
	if !f.DateFrom.IsZero() {
		m["from"] = f.DateFrom.Format(game.DateLayout)
	}
	if !f.DateTo.IsZero() {
		m["to"] = f.DateTo.Format(game.DateLayout)
	}
	return m
}

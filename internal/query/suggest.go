package query

import (
	"context"
	"strconv"
	"strings"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/search"
)

// Suggestions maps entity type names to ranked candidates.
type Suggestions map[string][]search.Candidate

// Suggest returns up to limit completions of prefix per entity type. An empty
// entityType means every type.
func (s *Service) Suggest(ctx context.Context, prefix, entityType string, limit int) (Suggestions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, apperr.Validation("prefix must not be empty")
	}
	if len(prefix) > 200 {
		return nil, apperr.Validation("prefix must be at most 200 characters")
	}
	if limit < 0 {
		return nil, apperr.Validation("limit must not be negative")
	}
	if limit == 0 {
		limit = 10
	}
	if limit > s.cfg.MaxSuggestions {
		return nil, apperr.Validation("limit must be at most " + strconv.Itoa(s.cfg.MaxSuggestions))
	}

	types := search.EntityTypes
	if entityType != "" {
		t, ok := search.ParseEntityType(entityType)
		if !ok {
			return nil, apperr.Validation("type must be player, opening or tournament")
		}
		types = []search.EntityType{t}
	}

	out := make(Suggestions, len(types))
	if s.names == nil {
		for _, t := range types {
			out[t.String()] = []search.Candidate{}
		}
		return out, nil
	}
	for t, cands := range s.names.Index().Suggest(prefix, limit, types...) {
		out[t.String()] = cands
	}
	return out, nil
}

package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/ctxkeeper/ctxkeeper/internal/validate"
)

// sortColumns maps each recognized sort order onto its ORDER BY clause.
// Every clause carries "id ASC" as a secondary key so two items with an
// identical primary sort value (e.g. the same created_at) still produce
// a stable, repeatable order across pages.
var sortColumns = map[types.SortOrder]string{
	types.SortCreatedDesc: "created_at DESC, id ASC",
	types.SortCreatedAsc:  "created_at ASC, id ASC",
	types.SortUpdatedDesc: "updated_at DESC, id ASC",
	types.SortUpdatedAsc:  "updated_at ASC, id ASC",
	types.SortKeyAsc:      "key ASC, id ASC",
	types.SortKeyDesc:     "key DESC, id ASC",
}

// Search is the one query engine backing both the textual search and
// filtered-list tools (spec.md §4.5.3). Every call applies the privacy
// predicate unconditionally: a row is visible when it is not private, or
// when the caller's own session owns it.
func (s *SQLiteStorage) Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error) {
	where := []string{"(is_private = 0 OR session_id = ?)"}
	args := []any{filter.SessionID}

	query, err := validate.SanitizeSearchQuery(filter.Query)
	if err != nil {
		return nil, err
	}
	if query != "" {
		switch filter.SearchIn {
		case types.SearchInKey:
			where = append(where, "key LIKE ? ESCAPE '\\'")
			args = append(args, "%"+query+"%")
		case types.SearchInValue:
			where = append(where, "value LIKE ? ESCAPE '\\'")
			args = append(args, "%"+query+"%")
		default:
			where = append(where, "(key LIKE ? ESCAPE '\\' OR value LIKE ? ESCAPE '\\')")
			args = append(args, "%"+query+"%", "%"+query+"%")
		}
	}

	if filter.Category != nil {
		if !filter.Category.IsValid() {
			return nil, errs.Ef(errs.InvalidArgument, nil, "unrecognized category %q", *filter.Category)
		}
		where = append(where, "category = ?")
		args = append(args, string(*filter.Category))
	}

	channels := filter.Channels
	if filter.Channel != "" {
		channels = append(append([]string{}, channels...), filter.Channel)
	}
	if len(channels) > 0 {
		placeholders := make([]string, len(channels))
		for i, ch := range channels {
			placeholders[i] = "?"
			args = append(args, ch)
		}
		where = append(where, "channel IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			placeholders[i] = "?"
			args = append(args, string(p))
		}
		where = append(where, "priority IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM context_items WHERE " + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, errs.WrapDB("count search results", err)
	}

	// keyPattern is applied in Go, not SQL: it uses the same doublestar
	// glob syntax as the batch tools, which LIKE cannot express exactly.
	candidates, err := s.fetchItems(ctx, whereClause, args)
	if err != nil {
		return nil, err
	}
	if filter.KeyPattern != "" {
		filtered := candidates[:0]
		for _, it := range candidates {
			if matchGlob(filter.KeyPattern, it.Key) {
				filtered = append(filtered, it)
			}
		}
		candidates = filtered
		total = len(candidates)
	}

	sort := filter.Sort
	sortDefaulted := false
	if !sort.IsValid() {
		sort = types.SortCreatedDesc
		sortDefaulted = true
	}
	sortItems(candidates, sort)

	// filter.Limit is a pointer so the RPC layer can distinguish an
	// omitted "limit" field from an explicit 0: nil means the caller
	// never supplied a limit (fall back to the default), 0 means the
	// caller explicitly asked for every match, and a positive value is
	// capped by validate.Limit.
	requestedLimit := 0
	if filter.Limit != nil {
		requestedLimit = *filter.Limit
	}
	limit, usedDefaultLimit := validate.Limit(requestedLimit, filter.Limit != nil)
	offset := validate.Offset(filter.Offset)

	page := candidates
	if offset > len(page) {
		page = nil
	} else {
		page = page[offset:]
	}
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}

	pageSize := limit
	if pageSize <= 0 {
		pageSize = len(candidates)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	totalPages := 1
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
		if totalPages == 0 {
			totalPages = 1
		}
	}
	currentPage := offset/pageSize + 1

	var nextOffset, prevOffset *int
	if offset+len(page) < total {
		n := offset + len(page)
		nextOffset = &n
	}
	if offset > 0 {
		p := offset - pageSize
		if p < 0 {
			p = 0
		}
		prevOffset = &p
	}

	return &types.SearchResult{
		Items:      page,
		TotalCount: total,
		Pagination: types.Pagination{
			Page:            currentPage,
			PageSize:        pageSize,
			TotalPages:      totalPages,
			HasNextPage:     nextOffset != nil,
			HasPreviousPage: prevOffset != nil,
			NextOffset:      nextOffset,
			PreviousOffset:  prevOffset,
			DefaultsApplied: types.DefaultsApplied{
				Limit: usedDefaultLimit,
				Sort:  sortDefaulted,
			},
		},
	}, nil
}

func (s *SQLiteStorage) fetchItems(ctx context.Context, whereClause string, args []any) ([]*types.ContextItem, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM context_items WHERE %s", itemColumns, whereClause), args...)
	if err != nil {
		return nil, errs.WrapDB("search context items", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errs.WrapDB("scan search row", err)
		}
		out = append(out, it)
	}
	return out, errs.WrapDB("iterate search rows", rows.Err())
}

// sortItems orders the loaded candidates in memory for every query:
// fetchItems issues no ORDER BY, so this is where the requested sort is
// applied. Ties on the primary sort value are broken by ID ascending so
// pages stay stable.
func sortItems(items []*types.ContextItem, sortOrder types.SortOrder) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch sortOrder {
		case types.SortCreatedAsc:
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		case types.SortUpdatedDesc:
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.ID < b.ID
			}
			return a.UpdatedAt.After(b.UpdatedAt)
		case types.SortUpdatedAsc:
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.ID < b.ID
			}
			return a.UpdatedAt.Before(b.UpdatedAt)
		case types.SortKeyAsc:
			if a.Key == b.Key {
				return a.ID < b.ID
			}
			return a.Key < b.Key
		case types.SortKeyDesc:
			if a.Key == b.Key {
				return a.ID < b.ID
			}
			return a.Key > b.Key
		case types.SortPriority:
			if a.Priority.Rank() == b.Priority.Rank() {
				return a.ID < b.ID
			}
			return a.Priority.Rank() < b.Priority.Rank()
		default: // SortCreatedDesc
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}

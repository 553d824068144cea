// Package listview turns an in-memory collection into the page a list view
// shows: filter by a search query, sort by one field, then paginate.
//
// The whole pipeline runs again on every call. Collections are page-level
// lists, small enough that no index is kept.
package listview

import (
	"errors"
	"slices"
	"strings"
)

type SortDir string

const (
	Asc  SortDir = "asc"
	Desc SortDir = "desc"
)

// Flip returns the opposite direction.
func (d SortDir) Flip() SortDir {
	if d == Asc {
		return Desc
	}
	return Asc
}

const (
	DefaultPageSize     = 10
	DefaultEmptyMessage = "No data found"
)

type Config[T any] struct {
	Columns           []Column[T]
	PageSize          int // 0 => DefaultPageSize
	DisableSearch     bool
	DisableSort       bool
	DisablePagination bool
	EmptyMessage      string // "" => DefaultEmptyMessage
}

// State is the view state a table is applied with. Query is the search text
// the filter uses (already debounced when it comes from a Controller).
type State struct {
	Input     string  `json:"input"`
	Query     string  `json:"query"`
	SortField string  `json:"sortField,omitempty"`
	SortDir   SortDir `json:"sortDir,omitempty"`
	Page      int     `json:"page"`
	PageSize  int     `json:"pageSize"`
}

// View is one computed page.
type View[T any] struct {
	Rows       []T
	Total      int // records left after filtering
	TotalPages int
	Page       int
	PageSize   int
}

func (v View[T]) Empty() bool { return len(v.Rows) == 0 }

type Table[T any] struct {
	cfg   Config[T]
	cols  []compiled[T]
	byKey map[string]int
}

func NewTable[T any](cfg Config[T]) (*Table[T], error) {
	if len(cfg.Columns) == 0 {
		return nil, errors.New("listview: at least one column is required")
	}
	if cfg.PageSize < 0 {
		return nil, errors.New("listview: page size must not be negative")
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.EmptyMessage == "" {
		cfg.EmptyMessage = DefaultEmptyMessage
	}

	t := &Table[T]{cfg: cfg, byKey: make(map[string]int, len(cfg.Columns))}
	for _, col := range cfg.Columns {
		c, err := compile(col)
		if err != nil {
			return nil, err
		}
		if _, dup := t.byKey[col.Key]; dup {
			return nil, errors.New("listview: duplicate column key " + col.Key)
		}
		t.byKey[col.Key] = len(t.cols)
		t.cols = append(t.cols, c)
	}
	return t, nil
}

func (t *Table[T]) PageSize() int        { return t.cfg.PageSize }
func (t *Table[T]) EmptyMessage() string { return t.cfg.EmptyMessage }

// Apply runs filter, sort and paginate for one state.
func (t *Table[T]) Apply(data []T, st State) View[T] {
	rows := data
	if !t.cfg.DisableSearch {
		rows = t.Filter(rows, st.Query)
	}
	if !t.cfg.DisableSort && st.SortField != "" {
		rows = t.Sort(rows, st.SortField, st.SortDir)
	}

	size := st.PageSize
	if size <= 0 {
		size = t.cfg.PageSize
	}
	page := max(st.Page, 1)
	v := View[T]{Total: len(rows), Page: page, PageSize: size}
	if t.cfg.DisablePagination {
		v.Rows = rows
		v.Page, v.PageSize = 1, len(rows)
		v.TotalPages = TotalPages(len(rows), len(rows))
		return v
	}
	v.Rows = Paginate(rows, page, size)
	v.TotalPages = TotalPages(len(rows), size)
	return v
}

// Filter keeps records where some searchable column's string form contains
// query, ignoring case. An empty query keeps everything in order.
func (t *Table[T]) Filter(data []T, query string) []T {
	if query == "" {
		return data
	}
	q := strings.ToLower(query)
	out := make([]T, 0, len(data))
	for _, r := range data {
		if t.matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table[T]) matches(r T, lowerQuery string) bool {
	for _, c := range t.cols {
		if !c.searchable() {
			continue
		}
		v, ok := c.get(r)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(stringOf(v)), lowerQuery) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy. Equal keys keep their input order. An unknown,
// display-only or non-sortable field leaves the order unchanged.
func (t *Table[T]) Sort(data []T, field string, dir SortDir) []T {
	i, ok := t.byKey[field]
	if !ok || !t.cols[i].Sortable || !t.cols[i].searchable() {
		return data
	}
	get := t.cols[i].get
	out := slices.Clone(data)
	slices.SortStableFunc(out, func(a, b T) int {
		va, _ := get(a)
		vb, _ := get(b)
		if dir == Desc {
			return compareValues(vb, va)
		}
		return compareValues(va, vb)
	})
	return out
}

// Headers returns column titles, falling back to keys.
func (t *Table[T]) Headers() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Title
		if out[i] == "" {
			out[i] = c.Key
		}
	}
	return out
}

// Render formats the rows of v as cells, one slice per row.
func (t *Table[T]) Render(v View[T]) [][]string {
	out := make([][]string, len(v.Rows))
	for i, r := range v.Rows {
		row := make([]string, len(t.cols))
		for j, c := range t.cols {
			switch {
			case c.Render != nil:
				row[j] = c.Render(r)
			case c.get != nil:
				val, _ := c.get(r)
				row[j] = stringOf(val)
			}
			if c.Width > 0 && len([]rune(row[j])) > c.Width {
				row[j] = truncate(row[j], c.Width)
			}
		}
		out[i] = row
	}
	return out
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}

// Paginate returns the records of 1-indexed page. Pages out of range yield an
// empty slice. A non-positive size returns data unchanged.
func Paginate[T any](data []T, page, size int) []T {
	if size <= 0 {
		return data
	}
	if page < 1 {
		return []T{}
	}
	start := (page - 1) * size
	if start >= len(data) {
		return []T{}
	}
	end := min(start+size, len(data))
	return data[start:end]
}

// TotalPages is ceil(n/size), and 0 when there is nothing to show.
func TotalPages(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

package paging

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Request is a 1-based page request.
type Request struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and caps.
func (r Request) Normalize() Request {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
	return r
}

// Offset is the row offset of the normalized page.
func (r Request) Offset() int {
	n := r.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Page is one page of results plus the total row count.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	HasNext    bool  `json:"has_next"`
}

// NewPage assembles a page from a normalized request.
func NewPage[T any](items []T, req Request, total int64) Page[T] {
	n := req.Normalize()
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       n.Page,
		PageSize:   n.PageSize,
		TotalCount: total,
		HasNext:    int64(n.Offset()+n.PageSize) < total,
	}
}

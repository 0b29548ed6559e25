package shared

// ListFilters represents standard list page filters
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string

	// Entity specific filters
	CategoryID *int64
	LocationID *int64
	IsActive   *bool
}

// Offset computes the row offset for the current page, clamping at zero.
func (f ListFilters) Offset() int {
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		return 0
	}
	return offset
}

package categories

// Category represents a node in the product category tree.
type Category struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Code     string `json:"code"`
	Name     string `json:"name"`
}

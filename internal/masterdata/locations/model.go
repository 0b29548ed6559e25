package locations

// Location represents a stock-keeping site: a warehouse, store or van.
type Location struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

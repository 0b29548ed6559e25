package units

// Unit is a unit of measure referenced by products, conversions and stock
// entries. Codes are stored case-folded and unique.
type Unit struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

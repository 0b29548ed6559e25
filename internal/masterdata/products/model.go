package products

import "github.com/shopspring/decimal"

// Product represents a sellable or stockable item.
type Product struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id,omitempty"`
	MainUnitID int64  `json:"main_unit_id"`
	IsActive   bool   `json:"is_active"`
}

// Conversion maps one of the product's tracked units to its factor relative
// to the main unit. The main unit always carries a row with factor 1.
type Conversion struct {
	UnitID int64           `json:"unit_id"`
	Factor decimal.Decimal `json:"factor"`
}

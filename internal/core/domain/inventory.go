package domain

import (
	"fmt"
	"strings"
)

// DefaultLowStockThreshold is the stock level at or below which a warning is shown.
const DefaultLowStockThreshold = 5

// InventoryCheckResult is the classification of one requested item.
type InventoryCheckResult struct {
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	InStock   int    `json:"inStock"`
	Available bool   `json:"available"`
	LowStock  bool   `json:"lowStock"`
	Reason    string `json:"reason,omitempty"`
}

// InventoryReport holds the results for a whole candidate order.
type InventoryReport struct {
	Results []InventoryCheckResult `json:"results"`
}

// Blocked reports whether any item is sold out or insufficient.
func (r InventoryReport) Blocked() bool {
	for _, res := range r.Results {
		if !res.Available {
			return true
		}
	}
	return false
}

// Rejection renders one "❌ name: reason" line per blocking item.
func (r InventoryReport) Rejection() string {
	var lines []string
	for _, res := range r.Results {
		if !res.Available {
			lines = append(lines, fmt.Sprintf("❌ %s: %s", res.Name, res.Reason))
		}
	}
	return strings.Join(lines, "\n")
}

// Warnings renders the low-stock advisories.
func (r InventoryReport) Warnings() string {
	var lines []string
	for _, res := range r.Results {
		if res.Available && res.LowStock {
			lines = append(lines, fmt.Sprintf("⚠️ %s: %s", res.Name, res.Reason))
		}
	}
	return strings.Join(lines, "\n")
}

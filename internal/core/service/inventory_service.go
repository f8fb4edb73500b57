package service

import (
	"context"
	"fmt"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

// InventoryValidator classifies a candidate order against current stock. It
// only reads stock.
type InventoryValidator struct {
	menus    port.MenuRepository
	settings port.SettingsRepository
}

func NewInventoryValidator(menus port.MenuRepository, settings port.SettingsRepository) *InventoryValidator {
	return &InventoryValidator{menus: menus, settings: settings}
}

func (v *InventoryValidator) Validate(ctx context.Context, businessID string, items []domain.ParsedItem) (domain.InventoryReport, error) {
	report := domain.InventoryReport{Results: make([]domain.InventoryCheckResult, 0, len(items))}
	if len(items) == 0 {
		return report, nil
	}

	settings, err := v.settings.GetSettings(ctx, businessID)
	if err != nil {
		return report, fmt.Errorf("load settings: %w", err)
	}

	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	levels, err := v.menus.GetStockLevels(ctx, businessID, names)
	if err != nil {
		return report, fmt.Errorf("load stock: %w", err)
	}

	for _, item := range items {
		report.Results = append(report.Results, ClassifyStock(item.Name, item.Quantity, levels[item.Name], settings.LowStockThreshold))
	}
	return report, nil
}

// ClassifyStock applies the first matching rule: sold out, insufficient,
// low stock, available.
func ClassifyStock(name string, requested, stock, threshold int) domain.InventoryCheckResult {
	res := domain.InventoryCheckResult{
		Name:      name,
		Requested: requested,
		InStock:   stock,
		Available: true,
	}
	switch {
	case stock < requested && stock <= 0:
		res.Available = false
		res.InStock = 0
		res.Reason = "Sold out"
	case stock < requested:
		res.Available = false
		res.Reason = fmt.Sprintf("Only %d left (you ordered %d)", stock, requested)
	case stock <= threshold:
		res.LowStock = true
		res.Reason = fmt.Sprintf("Only %d left", stock)
	}
	return res
}

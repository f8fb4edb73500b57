package domain

import "time"

// DefaultCheckInDelay is used when a tenant has no explicit setting.
const DefaultCheckInDelay = 15 * time.Minute

// Business is a tenant account.
type Business struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BusinessSettings are the tenant-configurable knobs of the core.
type BusinessSettings struct {
	BusinessID        string        `json:"businessId"`
	CheckInEnabled    bool          `json:"checkInEnabled"`
	CheckInDelay      time.Duration `json:"checkInDelay"`
	LowStockThreshold int           `json:"lowStockThreshold"`
}

// DefaultSettings returns the settings used for a tenant without a row.
func DefaultSettings(businessID string) BusinessSettings {
	return BusinessSettings{
		BusinessID:        businessID,
		CheckInEnabled:    true,
		CheckInDelay:      DefaultCheckInDelay,
		LowStockThreshold: DefaultLowStockThreshold,
	}
}

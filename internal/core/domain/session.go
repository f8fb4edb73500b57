package domain

import "time"

type SessionStage string

const (
	StageAwaitingName SessionStage = "awaiting_name"
	// StageActive is reserved for multi-turn order editing; nothing sets it yet.
	StageActive SessionStage = "active"
)

// ConversationSession holds a partially built order for one customer.
type ConversationSession struct {
	CustomerIdentity       string       `json:"customerIdentity"`
	BusinessID             string       `json:"businessId"`
	Stage                  SessionStage `json:"stage"`
	PendingOrder           ParsedOrder  `json:"pendingOrder"`
	RememberedCustomerName string       `json:"rememberedCustomerName,omitempty"`
	LastActivityAt         time.Time    `json:"lastActivityAt"`
}

// Expired reports whether the session is older than timeout at now.
func (s *ConversationSession) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}

// InboundMessage is the channel-neutral input of the intake service.
type InboundMessage struct {
	BusinessID       string  `json:"businessId"`
	CustomerIdentity string  `json:"customerIdentity"`
	Text             string  `json:"text"`
	Channel          Channel `json:"channel,omitempty"`
}

// Reply is returned to the channel adapter for every inbound message.
type Reply struct {
	Text      string           `json:"reply"`
	Order     *Order           `json:"order,omitempty"`
	Parsed    *ParsedOrder     `json:"parsed,omitempty"`
	Inventory *InventoryReport `json:"inventory,omitempty"`
}

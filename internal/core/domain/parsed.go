package domain

// ParseSource tells which parser produced a ParsedOrder.
type ParseSource string

const (
	ParseSourceParser ParseSource = "parser"
	ParseSourceLLM    ParseSource = "llm"
)

// ParsedItem is a resolved menu item. Price is copied from the menu at parse
// time and never re-read.
type ParsedItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    Money  `json:"price"`
}

// LineTotal returns price times quantity.
func (i ParsedItem) LineTotal() Money {
	return i.Price.Times(i.Quantity)
}

// ParsedOrder is the structured candidate order produced from one message.
type ParsedOrder struct {
	Items         []ParsedItem `json:"items"`
	Total         Money        `json:"total"`
	CustomerName  string       `json:"customerName,omitempty"`
	TableNumber   string       `json:"tableNumber,omitempty"`
	IsValid       bool         `json:"isValid"`
	HasFuzzyMatch bool         `json:"hasFuzzyMatch"`
	ErrorMessage  string       `json:"errorMessage,omitempty"`
	Source        ParseSource  `json:"source,omitempty"`
}

// Recompute derives Total and IsValid from the snapshotted items.
func (p *ParsedOrder) Recompute() {
	var total Money
	for _, item := range p.Items {
		total += item.LineTotal()
	}
	p.Total = total
	p.IsValid = len(p.Items) > 0
}

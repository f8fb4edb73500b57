package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
)

const promptTemplate = `You turn customer text messages into food orders.

Menu (name - price):
%s

Customer message:
%q

Answer with JSON only, no prose:
{"items":[{"name":"<menu item name>","quantity":<int>}],"customerName":"<name or empty>","tableNumber":"<table or empty>"}
Use menu item names exactly as listed. Leave out anything that is not on the menu.`

type llmItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type llmOrder struct {
	Items        []llmItem `json:"items"`
	CustomerName string    `json:"customerName"`
	TableNumber  string    `json:"tableNumber"`
}

// Parser is the language-model fallback for messages the deterministic
// parser cannot read.
type Parser struct {
	model  llms.Model
	logger *zap.Logger
}

func NewParser(model llms.Model, logger *zap.Logger) *Parser {
	return &Parser{model: model, logger: logger}
}

func (p *Parser) Parse(ctx context.Context, message string, menu domain.Menu) (domain.ParsedOrder, error) {
	prompt := fmt.Sprintf(promptTemplate, menu.Listing(), message)

	completion, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return domain.ParsedOrder{}, fmt.Errorf("%w: llm: %w", domain.ErrUpstream, err)
	}

	raw, err := decode(completion)
	if err != nil {
		p.logger.Warn("unreadable llm answer", zap.Error(err), zap.String("answer", completion))
		return domain.ParsedOrder{}, err
	}

	return toParsedOrder(raw, menu), nil
}

// decode extracts the JSON object from a completion, tolerating code fences
// and surrounding prose.
func decode(completion string) (llmOrder, error) {
	var out llmOrder
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end < start {
		return out, fmt.Errorf("%w: no JSON object in llm answer", domain.ErrParseFailure)
	}
	if err := json.Unmarshal([]byte(completion[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("%w: decode llm answer: %w", domain.ErrParseFailure, err)
	}
	return out, nil
}

// toParsedOrder keeps items that exist on the menu and snapshots their price.
func toParsedOrder(raw llmOrder, menu domain.Menu) domain.ParsedOrder {
	order := domain.ParsedOrder{
		CustomerName: strings.TrimSpace(raw.CustomerName),
		TableNumber:  strings.ToUpper(strings.TrimSpace(raw.TableNumber)),
		Source:       domain.ParseSourceLLM,
	}

	index := make(map[string]int)
	for _, item := range raw.Items {
		name := domain.NormalizeItemName(item.Name)
		price, ok := menu[name]
		if !ok {
			continue
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		if i, seen := index[name]; seen {
			order.Items[i].Quantity += qty
			continue
		}
		index[name] = len(order.Items)
		order.Items = append(order.Items, domain.ParsedItem{Name: name, Quantity: qty, Price: price})
	}

	order.Recompute()
	if !order.IsValid {
		order.ErrorMessage = "I couldn't find any menu items in your message."
	}
	return order
}

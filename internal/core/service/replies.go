package service

import (
	"fmt"
	"strings"

	"github.com/textorder/textorder/internal/core/domain"
)

const (
	askNameReply     = "What's your name?"
	blankReply       = "Hi! Send your order, e.g. \"2 coffee, 1 sandwich\", or \"menu\" to see what we have."
	upstreamReply    = "Sorry, something went wrong on our side. Please try again in a moment."
	soldOutRaceReply = "Sorry, some items just sold out while we were taking your order. Please try again."
)

func itemLines(items []domain.ParsedItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%dx %s - %s", item.Quantity, item.Name, item.LineTotal()))
	}
	return strings.Join(lines, "\n")
}

func helpReply(menu domain.Menu, parseMessage string) string {
	var b strings.Builder
	b.WriteString("Sorry, ")
	if parseMessage == "" {
		parseMessage = "I couldn't understand your order."
	}
	b.WriteString(parseMessage)
	b.WriteString(" Try something like \"2 coffee, 1 sandwich\".")
	if names := menu.Names(); len(names) > 0 {
		if len(names) > 3 {
			names = names[:3]
		}
		fmt.Fprintf(&b, " On the menu: %s.", strings.Join(names, ", "))
	}
	b.WriteString(" Send \"menu\" for the full list.")
	return b.String()
}

func rejectionReply(report domain.InventoryReport) string {
	return "Sorry, we can't take this order:\n" + report.Rejection()
}

func orderReply(order domain.Order, fuzzy bool, warnings string) string {
	var b strings.Builder
	if fuzzy {
		b.WriteString("🤔 Did you mean:\n")
	} else if order.CustomerName != "" {
		fmt.Fprintf(&b, "✅ Order received, %s!\n", order.CustomerName)
	} else {
		b.WriteString("✅ Order received!\n")
	}
	b.WriteString(itemLines(order.Items))
	fmt.Fprintf(&b, "\nTotal: %s", order.Total)
	if order.TableNumber != "" {
		fmt.Fprintf(&b, "\nTable: %s", order.TableNumber)
	}
	if warnings != "" {
		b.WriteString("\n" + warnings)
	}
	if fuzzy {
		fmt.Fprintf(&b, "\nOrder #%s. If that's not right, send your corrected order. Otherwise please complete payment to confirm.", order.ID)
	} else {
		fmt.Fprintf(&b, "\nOrder #%s. Please complete payment to confirm your order.", order.ID)
	}
	return b.String()
}

func checkInReply(order *domain.Order, affirmative bool) string {
	switch {
	case !affirmative:
		return "Thanks for letting us know. The team will follow up with you shortly."
	case order == nil:
		return "Thanks! Glad everything arrived."
	default:
		return fmt.Sprintf("🎉 Thanks! Order #%s is marked as complete. Enjoy!", order.ID)
	}
}

package domain

import (
	"sort"
	"strings"
)

// MenuEntry is one priced item of a tenant's menu.
type MenuEntry struct {
	Name  string `json:"name"`
	Price Money  `json:"price"`
}

// Menu maps a canonical lower-case item name to its price.
type Menu map[string]Money

// NormalizeItemName lower-cases and trims a menu item name.
func NormalizeItemName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Names returns the menu item names in alphabetical order.
func (m Menu) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns the menu as a sorted slice.
func (m Menu) Entries() []MenuEntry {
	entries := make([]MenuEntry, 0, len(m))
	for _, name := range m.Names() {
		entries = append(entries, MenuEntry{Name: name, Price: m[name]})
	}
	return entries
}

// Listing renders the menu as one "name - $price" line per item.
func (m Menu) Listing() string {
	if len(m) == 0 {
		return "The menu is empty right now."
	}
	var b strings.Builder
	b.WriteString("📋 Menu:\n")
	for _, e := range m.Entries() {
		b.WriteString(e.Name)
		b.WriteString(" - ")
		b.WriteString(e.Price.String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Package parser turns a free-text order message into a structured candidate
// order by matching it against a tenant's menu.
package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/textorder/textorder/internal/core/domain"
)

// Messages returned in ParsedOrder.ErrorMessage.
const (
	MsgEmpty   = "Your message was empty. Send the items you'd like, e.g. \"2 coffee, 1 sandwich\"."
	MsgNoItems = "I couldn't find any menu items in your message."
)

// maxQuantity bounds what is read as a quantity; larger numbers are ignored.
const maxQuantity = 999

var (
	explicitNameRe = regexp.MustCompile(`(?i)\b(?:for\s+|name\s*is\s+|name\s*[:\-]\s*)(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*){0,2})`)
	prefixNameRe   = regexp.MustCompile(`^\s*(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*){0,2})\s*(?::|-)`)

	tableRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btable\s*(?:no\.?|number|num|#)?\s*(\d+)\b`),
		regexp.MustCompile(`#\s*(\d+)\b`),
		regexp.MustCompile(`(?i)\b(?:table|tbl)\s*[:#.]?\s*([a-z]*\d[a-z0-9]*)\b`),
	}

	tokenRe = regexp.MustCompile(`[\p{L}\p{N}'’]+|[^\s\p{L}\p{N}]`)
	wordRe  = regexp.MustCompile(`\S+`)
)

// stopWords end a captured customer name.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "asap": true, "at": true,
	"go": true, "here": true, "in": true, "it": true, "me": true, "my": true,
	"now": true, "of": true, "on": true, "order": true, "please": true,
	"pickup": true, "pls": true, "table": true, "tbl": true, "thanks": true,
	"thank": true, "the": true, "to": true, "today": true, "tonight": true,
	"two": true, "us": true, "with": true, "x": true, "lunch": true,
	"dinner": true, "breakfast": true, "takeaway": true, "delivery": true,
	"hi": true, "hello": true, "hey": true, "i": true, "we": true,
	"want": true, "like": true, "would": true, "can": true, "get": true,
	"could": true, "need": true, "some": true, "more": true, "also": true,
	"dessert": true, "later": true, "work": true, "office": true, "tomorrow": true,
	"birthday": true, "party": true, "takeout": true, "everyone": true,
	"everybody": true, "both": true, "all": true, "tonite": true, "you": true,
}

// commonWords are ordinary words never read as a misspelt menu item.
var commonWords = map[string]bool{
	"about": true, "after": true, "again": true, "cake": true, "later": true,
	"never": true, "other": true, "place": true, "right": true, "sorry": true,
	"their": true, "there": true, "these": true, "thing": true, "think": true,
	"those": true, "where": true, "which": true, "while": true, "maybe": true,
	"should": true, "ready": true, "water": true, "latte": true, "little": true,
	"coming": true, "leave": true, "early": true, "table": true, "order": true,
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// IsMenuRequest reports whether the message asks for the menu listing.
func IsMenuRequest(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "menu")
}

// Parse matches message against menu. It never fails: an unusable message
// yields IsValid=false with an ErrorMessage.
func Parse(message string, menu domain.Menu) domain.ParsedOrder {
	result := domain.ParsedOrder{Items: []domain.ParsedItem{}, Source: domain.ParseSourceParser}

	if strings.TrimSpace(message) == "" {
		result.ErrorMessage = MsgEmpty
		return result
	}

	menuWords := make(map[string]bool)
	for name := range menu {
		for _, w := range strings.Fields(name) {
			menuWords[w] = true
		}
	}

	masked := []byte(message)
	name, nameSpan := extractName(message, menuWords)
	if name != "" {
		result.CustomerName = name
		blank(masked, nameSpan)
	}

	table, tableSpan := extractTable(message)
	if table != "" {
		result.TableNumber = table
		blank(masked, tableSpan)
	}

	toks := tokenize(strings.ToLower(string(masked)))
	matches := matchItems(toks, menu)

	for _, m := range matches {
		result.Items = append(result.Items, domain.ParsedItem{
			Name:     m.name,
			Quantity: m.quantity,
			Price:    menu[m.name],
		})
		if m.fuzzy {
			result.HasFuzzyMatch = true
		}
	}

	result.Recompute()
	if !result.IsValid {
		result.ErrorMessage = MsgNoItems
	}
	return result
}

type span struct{ start, end int }

// blank replaces the span with a separator so words on either side are no
// longer adjacent.
func blank(b []byte, s span) {
	for i := s.start; i < s.end && i < len(b); i++ {
		b[i] = ' '
	}
	if s.start < len(b) {
		b[s.start] = ','
	}
}

func extractName(message string, menuWords map[string]bool) (string, span) {
	// Rescan from each capture start so "for here for Lee" still finds Lee.
	for off := 0; off < len(message); {
		loc := explicitNameRe.FindStringSubmatchIndex(message[off:])
		if loc == nil {
			break
		}
		for i := range loc {
			loc[i] += off
		}
		// After "for" only a capitalised word is a name: "for Sam", not "for dessert".
		afterFor := strings.HasPrefix(strings.ToLower(message[loc[0]:loc[2]]), "for")
		words := wordRe.FindAllStringIndex(message[loc[2]:loc[3]], -1)
		kept := 0
		for _, w := range words {
			word := message[loc[2]+w[0] : loc[2]+w[1]]
			if !validNameWord(word, menuWords) || (afterFor && !startsUpper(word)) {
				break
			}
			kept++
		}
		if kept > 0 {
			end := loc[2] + words[kept-1][1]
			return strings.Join(strings.Fields(message[loc[2]:end]), " "), span{loc[0], end}
		}
		off = loc[2]
	}

	if loc := prefixNameRe.FindStringSubmatchIndex(message); loc != nil {
		words := strings.Fields(message[loc[2]:loc[3]])
		for _, w := range words {
			if !validNameWord(w, menuWords) {
				return "", span{}
			}
		}
		return strings.Join(words, " "), span{loc[0], loc[1]}
	}

	return "", span{}
}

func validNameWord(w string, menuWords map[string]bool) bool {
	lw := strings.ToLower(strings.Trim(w, "'-"))
	if lw == "" || stopWords[lw] || menuWords[lw] || menuWords[singular(lw)] {
		return false
	}
	if _, ok := numberWords[lw]; ok {
		return false
	}
	return true
}

func startsUpper(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	return unicode.IsUpper(r)
}

func extractTable(message string) (string, span) {
	for _, re := range tableRes {
		if loc := re.FindStringSubmatchIndex(message); loc != nil {
			return strings.ToUpper(message[loc[2]:loc[3]]), span{loc[0], loc[1]}
		}
	}
	return "", span{}
}

type token struct {
	text    string
	number  int // > 0 when the token is a quantity
	claimed bool
}

func tokenize(text string) []token {
	raw := tokenRe.FindAllString(text, -1)
	toks := make([]token, 0, len(raw))
	for _, r := range raw {
		r = strings.Trim(r, "'’")
		if r == "" {
			continue
		}
		toks = append(toks, token{text: r, number: quantityOf(r)})
	}
	return toks
}

// quantityOf reads "2", "2x", "x2" and number words.
func quantityOf(s string) int {
	if n, ok := numberWords[s]; ok {
		return n
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(s, "x"), "x")
	if digits == "" {
		return 0
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return 0
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || n > maxQuantity {
		return 0
	}
	return n
}

type itemMatch struct {
	name     string
	pos      int
	length   int
	quantity int
	fuzzy    bool
}

// matchItems resolves each menu item at most once. Exact matches are taken
// first, longest names first, so "iced coffee" claims its tokens before
// "coffee" can. Fuzzy matching only looks at tokens left unclaimed.
func matchItems(toks []token, menu domain.Menu) []itemMatch {
	names := menu.Names()
	nameToks := make(map[string][]string, len(names))
	for _, name := range names {
		for _, t := range tokenize(name) {
			nameToks[name] = append(nameToks[name], t.text)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		wi, wj := len(nameToks[names[i]]), len(nameToks[names[j]])
		if wi != wj {
			return wi > wj
		}
		return len(names[i]) > len(names[j])
	})

	var matches []itemMatch
	resolved := make(map[string]bool)

	for _, fuzzy := range []bool{false, true} {
		for _, name := range names {
			if resolved[name] {
				continue
			}
			seq := nameToks[name]
			if pos := findSequence(toks, seq, fuzzy); pos >= 0 {
				for i := pos; i < pos+len(seq); i++ {
					toks[i].claimed = true
				}
				matches = append(matches, itemMatch{name: name, pos: pos, length: len(seq), fuzzy: fuzzy})
				resolved[name] = true
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })
	for i := range matches {
		matches[i].quantity = claimQuantity(toks, matches[i].pos, matches[i].length)
	}
	return matches
}

func findSequence(toks []token, nameToks []string, fuzzy bool) int {
	if len(nameToks) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(nameToks) <= len(toks); i++ {
		misspelt := false
		for j, nt := range nameToks {
			tok := toks[i+j]
			if tok.claimed {
				continue outer
			}
			if !fuzzy {
				if tok.text != nt {
					continue outer
				}
				continue
			}
			ok, typo := fuzzyEqual(tok.text, nt)
			if !ok {
				continue outer
			}
			if typo {
				if stopWords[tok.text] || commonWords[tok.text] {
					continue outer
				}
				misspelt = true
			}
		}
		// A misspelling only counts next to a quantity: "1 croisant", "croisant x2".
		if misspelt && !hasQuantityNearby(toks, i, len(nameToks)) {
			continue
		}
		return i
	}
	return -1
}

func hasQuantityNearby(toks []token, pos, length int) bool {
	isQty := func(i int) bool { return i >= 0 && i < len(toks) && toks[i].number > 0 && !toks[i].claimed }
	isX := func(i int) bool { return i >= 0 && i < len(toks) && toks[i].text == "x" }
	after := pos + length
	return isQty(pos-1) || (isX(pos-1) && isQty(pos-2)) ||
		isQty(after) || (isX(after) && isQty(after+1))
}

// claimQuantity looks for "<n> item", "<n> x item", "item <n>" or
// "item x <n>", preferring the number before the item. A number is used by
// one item only.
func claimQuantity(toks []token, pos, length int) int {
	candidates := []int{pos - 1}
	if pos-2 >= 0 && toks[pos-1].text == "x" {
		candidates = append(candidates, pos-2)
	}
	after := pos + length
	candidates = append(candidates, after)
	if after < len(toks) && toks[after].text == "x" {
		candidates = append(candidates, after+1)
	}

	for _, c := range candidates {
		if c < 0 || c >= len(toks) {
			continue
		}
		if toks[c].number > 0 && !toks[c].claimed {
			toks[c].claimed = true
			return toks[c].number
		}
	}
	return 1
}

// fuzzyEqual accepts plural forms outright. typo is set when the match
// needed an edit-distance step.
func fuzzyEqual(tok, name string) (ok, typo bool) {
	if tok == name || singular(tok) == singular(name) {
		return true, false
	}
	if len(name) >= 5 && levenshtein(tok, name) <= 1 {
		return true, true
	}
	return false, false
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

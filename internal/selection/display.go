package selection

import (
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tis24dev/hostmigrate/internal/catalog"
)

// EntryKind distinguishes synthetic entries from accounts.
type EntryKind int

const (
	KindSelectAll EntryKind = iota
	KindSearch
	KindReseller
	KindAccount
)

// Entry is one selectable line of the display list.
type Entry struct {
	Kind   EntryKind
	ID     string
	Domain string
}

// DisplayList is addressed by 1-based position.
type DisplayList struct {
	entries []Entry
}

// BuildDisplayList lays out select-all, search, then each reseller header
// followed by its managed accounts, then accounts owned by no reseller.
func BuildDisplayList(cat *catalog.Catalog) *DisplayList {
	list := &DisplayList{entries: []Entry{
		{Kind: KindSelectAll},
		{Kind: KindSearch},
	}}
	for _, reseller := range cat.Resellers() {
		list.entries = append(list.entries, Entry{Kind: KindReseller, ID: reseller, Domain: cat.Domain(reseller)})
		for _, id := range cat.Managed(reseller) {
			list.entries = append(list.entries, Entry{Kind: KindAccount, ID: id, Domain: cat.Domain(id)})
		}
	}
	for _, id := range cat.Unowned() {
		list.entries = append(list.entries, Entry{Kind: KindAccount, ID: id, Domain: cat.Domain(id)})
	}
	return list
}

// Len returns the number of entries.
func (l *DisplayList) Len() int {
	return len(l.entries)
}

// At returns the entry at 1-based position pos.
func (l *DisplayList) At(pos int) (Entry, bool) {
	if pos < 1 || pos > len(l.entries) {
		return Entry{}, false
	}
	return l.entries[pos-1], true
}

// Match is an entry together with its position in the full list.
type Match struct {
	Pos int
	Entry
}

// Filter returns reseller and account entries whose id or domain matches
// term. Matching is case-folded; a term containing glob metacharacters is
// matched with path.Match instead of as a substring.
func Filter(l *DisplayList, term string) []Match {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}
	glob := strings.ContainsAny(needle, "*?[")

	matches := func(value string) bool {
		if value == "" {
			return false
		}
		value = fold.String(value)
		if glob {
			ok, err := path.Match(needle, value)
			return err == nil && ok
		}
		return strings.Contains(value, needle)
	}

	var out []Match
	for i, e := range l.entries {
		if e.Kind != KindAccount && e.Kind != KindReseller {
			continue
		}
		if matches(e.ID) || (e.Domain != catalog.NoDomain && matches(e.Domain)) {
			out = append(out, Match{Pos: i + 1, Entry: e})
		}
	}
	return out
}

// Render writes the list with 1-based positions.
func Render(w io.Writer, l *DisplayList) {
	for i, e := range l.entries {
		renderEntry(w, i+1, e)
	}
}

func renderEntry(w io.Writer, pos int, e Entry) {
	switch e.Kind {
	case KindSelectAll:
		fmt.Fprintf(w, "%4d) [select all accounts]\n", pos)
	case KindSearch:
		fmt.Fprintf(w, "%4d) [search]\n", pos)
	case KindReseller:
		fmt.Fprintf(w, "%4d) reseller %s (%s)\n", pos, e.ID, e.Domain)
	default:
		fmt.Fprintf(w, "%4d)    %s (%s)\n", pos, e.ID, e.Domain)
	}
}

package selection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tis24dev/hostmigrate/internal/catalog"
	"github.com/tis24dev/hostmigrate/internal/input"
	"github.com/tis24dev/hostmigrate/internal/logging"
)

// ErrEmptySelection is returned when the operator finishes with nothing selected.
var ErrEmptySelection = errors.New("no accounts selected")

const prompt = "Select (k, a:b, s = search, 0 = done): "

// Resolver turns operator input into a selection set.
type Resolver struct {
	Catalog *catalog.Catalog
	Logger  *logging.Logger
}

// Resolve reads tokens from in until the selection is finished:
//
//	0     finish; fails with ErrEmptySelection if nothing was selected
//	s     search: read a term and list matching entries, selection unchanged
//	k     resolve entry k and finish; if the set is still empty, keep reading
//	a:b   resolve entries a..b in order; an aggregate entry is resolved once
//	      and ends the range
//
// Anything else is rejected with a warning. The returned set is frozen.
func (r *Resolver) Resolve(ctx context.Context, list *DisplayList, in *bufio.Reader, out io.Writer) (*Set, error) {
	set := NewSet()
	for {
		fmt.Fprint(out, prompt)
		line, err := input.ReadLineWithContext(ctx, in)
		if err != nil {
			return nil, err
		}
		token := strings.TrimSpace(line)

		switch {
		case token == "0":
			if set.Len() == 0 {
				return nil, ErrEmptySelection
			}
			set.Freeze()
			return set, nil

		case strings.EqualFold(token, "s"):
			if err := r.search(ctx, list, in, out); err != nil {
				return nil, err
			}

		case strings.Contains(token, ":"):
			a, b, ok := parseRange(token, list.Len())
			if !ok {
				r.warn(out, "Invalid range %q (1-%d, start <= end)", token, list.Len())
				continue
			}
			r.resolveRange(list, a, b, set, out)

		default:
			pos, err := strconv.Atoi(token)
			if err != nil {
				r.warn(out, "Unrecognized input %q", token)
				continue
			}
			entry, ok := list.At(pos)
			if !ok {
				r.warn(out, "Position %d out of range (1-%d)", pos, list.Len())
				continue
			}
			if entry.Kind == KindSearch {
				if err := r.search(ctx, list, in, out); err != nil {
					return nil, err
				}
				continue
			}
			r.resolveEntry(entry, set, out)
			if set.Len() == 0 {
				r.warn(out, "Entry %d selected no valid account; nothing selected yet", pos)
				continue
			}
			set.Freeze()
			return set, nil
		}
	}
}

func parseRange(token string, size int) (int, int, bool) {
	parts := strings.SplitN(token, ":", 2)
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	if a < 1 || b > size || a > b {
		return 0, 0, false
	}
	return a, b, true
}

func (r *Resolver) resolveRange(list *DisplayList, a, b int, set *Set, out io.Writer) {
	for pos := a; pos <= b; pos++ {
		entry, _ := list.At(pos)
		switch entry.Kind {
		case KindSelectAll, KindReseller:
			r.resolveEntry(entry, set, out)
			if pos < b {
				r.warn(out, "Range stopped at aggregate entry %d; entries %d-%d ignored", pos, pos+1, b)
			}
			return
		case KindSearch:
			continue
		default:
			r.resolveEntry(entry, set, out)
		}
	}
}

func (r *Resolver) resolveEntry(entry Entry, set *Set, out io.Writer) {
	switch entry.Kind {
	case KindSelectAll:
		all := r.Catalog.AllAccounts()
		set.Replace(all)
		r.logger().Info("Selected all %d accounts", len(all))
	case KindReseller:
		added := 0
		for _, id := range r.Catalog.Managed(entry.ID) {
			if r.add(id, set, out) {
				added++
			}
		}
		if r.Catalog.IsValid(entry.ID) && set.Add(entry.ID) {
			added++
		}
		r.logger().Info("Reseller %s: %d accounts added", entry.ID, added)
	case KindAccount:
		r.add(entry.ID, set, out)
	}
}

func (r *Resolver) add(id string, set *Set, out io.Writer) bool {
	if !r.Catalog.IsValid(id) {
		r.warn(out, "Account %s not found in catalog, skipped", id)
		return false
	}
	return set.Add(id)
}

func (r *Resolver) search(ctx context.Context, list *DisplayList, in *bufio.Reader, out io.Writer) error {
	fmt.Fprint(out, "Search term: ")
	line, err := input.ReadLineWithContext(ctx, in)
	if err != nil {
		return err
	}
	term := strings.TrimSpace(line)
	matches := Filter(list, term)
	if len(matches) == 0 {
		fmt.Fprintf(out, "No entries match %q\n", term)
		return nil
	}
	for _, m := range matches {
		renderEntry(out, m.Pos, m.Entry)
	}
	return nil
}

func (r *Resolver) warn(out io.Writer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(out, "! %s\n", msg)
	r.logger().Warning("%s", msg)
}

func (r *Resolver) logger() *logging.Logger {
	if r.Logger == nil {
		r.Logger = logging.Discard()
	}
	return r.Logger
}

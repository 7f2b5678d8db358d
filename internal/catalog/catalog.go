// Package catalog reads the source server's account catalog: one directory
// per account id, reseller membership signalled by a marker file.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/pkg/utils"
)

// ErrCatalogUnavailable is returned when the catalog root cannot be listed.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// NoDomain is displayed for accounts whose domain cannot be resolved.
const NoDomain = "(no domain)"

// Layout names the files that make up an account directory.
type Layout struct {
	AccountFile      string
	DomainKey        string
	DomainFallback   string
	ResellerMarker   string
	ResellerListFile string
}

// DefaultLayout matches the stock control-panel data tree.
func DefaultLayout() Layout {
	return Layout{
		AccountFile:      "user.conf",
		DomainKey:        "domain",
		DomainFallback:   "domains.list",
		ResellerMarker:   "reseller.conf",
		ResellerListFile: "users.list",
	}
}

// Account is immutable for the duration of a run.
type Account struct {
	ID string
	// Domain is empty when neither the account file nor the fallback list name one.
	Domain string
	// Reseller is the first reseller whose list names this account.
	Reseller string
}

// DisplayDomain returns the domain or a placeholder.
func (a Account) DisplayDomain() string {
	if a.Domain == "" {
		return NoDomain
	}
	return a.Domain
}

// Catalog is a read-only snapshot taken once at startup.
type Catalog struct {
	accounts  map[string]Account
	resellers []string
	managed   map[string][]string
}

// Load reads every account directory under fsys.
func Load(fsys fs.FS, layout Layout, logger *logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	done := logging.DebugStart(logger, "catalog load", "")

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		done(err)
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	c := &Catalog{
		accounts: make(map[string]Account),
		managed:  make(map[string][]string),
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		id := entry.Name()

		if fileExists(fsys, path.Join(id, layout.AccountFile)) {
			c.accounts[id] = Account{ID: id, Domain: readDomain(fsys, id, layout, logger)}
		}

		if layout.ResellerMarker != "" && fileExists(fsys, path.Join(id, layout.ResellerMarker)) {
			list, err := readList(fsys, path.Join(id, layout.ResellerListFile))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warning("Cannot read managed accounts of reseller %s: %v", id, err)
			}
			c.resellers = append(c.resellers, id)
			c.managed[id] = list
		}
	}
	sort.Strings(c.resellers)

	for _, reseller := range c.resellers {
		for _, id := range c.managed[reseller] {
			if acct, ok := c.accounts[id]; ok && acct.Reseller == "" {
				acct.Reseller = reseller
				c.accounts[id] = acct
			}
		}
	}

	logger.Debug("Catalog: %d accounts, %d resellers", len(c.accounts), len(c.resellers))
	done(nil)
	return c, nil
}

func fileExists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

func readDomain(fsys fs.FS, id string, layout Layout, logger *logging.Logger) string {
	if f, err := fsys.Open(path.Join(id, layout.AccountFile)); err == nil {
		values, parseErr := utils.ParseKeyValues(f)
		f.Close()
		if parseErr != nil {
			logger.Warning("Cannot parse %s of account %s: %v", layout.AccountFile, id, parseErr)
		}
		if domain := strings.TrimSpace(values[layout.DomainKey]); domain != "" {
			return domain
		}
	}

	if layout.DomainFallback == "" {
		return ""
	}
	lines, err := readList(fsys, path.Join(id, layout.DomainFallback))
	if err != nil || len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// readList returns the non-empty lines of name, deduplicated, in file order.
func readList(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := utils.NonEmptyLines(f)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(lines))
	out := lines[:0]
	for _, line := range lines {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out, nil
}

// Resellers returns the reseller ids in sorted order.
func (c *Catalog) Resellers() []string {
	return append([]string(nil), c.resellers...)
}

// IsReseller reports whether id carries the reseller marker.
func (c *Catalog) IsReseller(id string) bool {
	_, ok := c.managed[id]
	return ok
}

// Managed returns the account ids listed by reseller, in list order. The ids
// are not guaranteed to be valid accounts.
func (c *Catalog) Managed(reseller string) []string {
	return append([]string(nil), c.managed[reseller]...)
}

// IsValid reports whether id is a present account.
func (c *Catalog) IsValid(id string) bool {
	_, ok := c.accounts[id]
	return ok
}

// Account returns the account for id.
func (c *Catalog) Account(id string) (Account, bool) {
	acct, ok := c.accounts[id]
	return acct, ok
}

// Domain returns the display domain of id, never failing.
func (c *Catalog) Domain(id string) string {
	if acct, ok := c.accounts[id]; ok {
		return acct.DisplayDomain()
	}
	return NoDomain
}

// Unowned returns valid accounts that are neither resellers nor listed by one, sorted.
func (c *Catalog) Unowned() []string {
	var ids []string
	for id, acct := range c.accounts {
		if acct.Reseller == "" && !c.IsReseller(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AllAccounts is the select-all list: the valid managed accounts of every
// reseller (reseller order, then list order) followed by Unowned.
func (c *Catalog) AllAccounts() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, reseller := range c.resellers {
		for _, id := range c.managed[reseller] {
			if _, dup := seen[id]; dup || !c.IsValid(id) {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range c.Unowned() {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of valid accounts.
func (c *Catalog) Len() int {
	return len(c.accounts)
}

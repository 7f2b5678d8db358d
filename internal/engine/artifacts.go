package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/tis24dev/hostmigrate/internal/types"
)

var (
	// ErrArtifactNotFound means no complete artifact exists for an account.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrAmbiguousArtifact means more than one artifact matches an account.
	ErrAmbiguousArtifact = errors.New("ambiguous artifact")
)

// Artifact is a backup archive written by the engine for one account.
type Artifact struct {
	Account     string
	Name        string
	Size        int64
	Compression types.CompressionType
}

// matchArtifact reports whether name is "<prefix>.<id>.tar.<suffix>" for a
// known suffix and a non-empty prefix.
func matchArtifact(name, id string) (types.CompressionType, bool) {
	for _, c := range types.ArtifactCompressions {
		tail := "." + id + ".tar." + string(c)
		if len(name) > len(tail) && strings.HasSuffix(name, tail) {
			return c, true
		}
	}
	return "", false
}

// FindArtifact looks up the artifact of one account in the staging dir.
// Empty files are still being written and do not count.
func FindArtifact(fsys fs.FS, id string) (Artifact, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Artifact{}, fmt.Errorf("read staging dir: %w", err)
	}
	return findIn(fsys, entries, id)
}

func findIn(fsys fs.FS, entries []fs.DirEntry, id string) (Artifact, error) {
	var found []Artifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		c, ok := matchArtifact(entry.Name(), id)
		if !ok {
			continue
		}
		info, err := fs.Stat(fsys, entry.Name())
		if err != nil || info.Size() == 0 {
			continue
		}
		found = append(found, Artifact{Account: id, Name: entry.Name(), Size: info.Size(), Compression: c})
	}

	switch len(found) {
	case 0:
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, a := range found {
			names[i] = a.Name
		}
		sort.Strings(names)
		return Artifact{}, fmt.Errorf("%w for %s: %s", ErrAmbiguousArtifact, id, strings.Join(names, ", "))
	}
}

// ResolveArtifacts finds the artifact of every id. The map holds what was
// found; the error joins one failure per unresolved id.
func ResolveArtifacts(fsys fs.FS, ids []string) (map[string]Artifact, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	found := make(map[string]Artifact, len(ids))
	var errs []error
	for _, id := range ids {
		a, err := findIn(fsys, entries, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found[id] = a
	}
	return found, errors.Join(errs...)
}

// TotalSize sums the artifact sizes.
func TotalSize(artifacts map[string]Artifact) int64 {
	var total int64
	for _, a := range artifacts {
		total += a.Size
	}
	return total
}

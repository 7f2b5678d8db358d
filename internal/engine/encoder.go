// Package engine talks to the control panel's backup/restore engine: it
// encodes tasks in the engine's query-string protocol, appends them to the
// task queue, runs the trigger, and locates the artifacts the engine writes.
package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Task is one encoded queue line. It always covers the whole selection.
type Task string

func (t Task) String() string { return string(t) }

// BackupOptions parameterizes a multi-account backup task.
type BackupOptions struct {
	// What to include, e.g. "database", "email".
	Options   []string
	LocalPath string
	Owner     string
}

// RestoreOptions parameterizes a multi-account restore task.
type RestoreOptions struct {
	IP        string
	LocalPath string
	Owner     string
}

type param struct {
	key, value string
}

// encode joins params in order. Values are already encoded.
func encode(params []param) Task {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return Task(b.String())
}

func indexed(prefix string, values []string, enc func(string) string) []param {
	out := make([]param, 0, len(values))
	for i, v := range values {
		out = append(out, param{prefix + strconv.Itoa(i), enc(v)})
	}
	return out
}

// EncodeBackup builds the backup task for sel, in selection order.
func EncodeBackup(sel []string, opts BackupOptions) Task {
	params := []param{
		{"action", "backup"},
		{"append_to_path", "nothing"},
		{"database_data_aware", "yes"},
		{"email_data_aware", "yes"},
		{"local_path", EncodePath(opts.LocalPath)},
	}
	params = append(params, indexed("option", opts.Options, url.QueryEscape)...)
	params = append(params, param{"owner", url.QueryEscape(opts.Owner)})
	params = append(params, indexed("select", sel, url.QueryEscape)...)
	params = append(params,
		param{"type", "admin"},
		param{"value", "multiple"},
		param{"what", "select"},
		param{"when", "now"},
		param{"where", "local"},
	)
	return encode(params)
}

// EncodeRestore builds the restore task. Every id in sel must have an
// artifact; otherwise nothing is encoded and the error wraps
// ErrArtifactNotFound naming every missing id.
func EncodeRestore(sel []string, artifacts map[string]Artifact, opts RestoreOptions) (Task, error) {
	var missing []string
	files := make([]string, 0, len(sel))
	for _, id := range sel {
		a, ok := artifacts[id]
		if !ok || a.Name == "" {
			missing = append(missing, id)
			continue
		}
		files = append(files, a.Name)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(opts.IP) == "" {
		return "", errors.New("restore ip is required")
	}

	params := []param{
		{"action", "restore"},
		{"ip_choice", "select"},
		{"ip", url.QueryEscape(opts.IP)},
		{"local_path", EncodePath(opts.LocalPath)},
		{"owner", url.QueryEscape(opts.Owner)},
	}
	params = append(params, indexed("select", files, EncodeFilename)...)
	params = append(params,
		param{"type", "admin"},
		param{"value", "multiple"},
		param{"when", "now"},
		param{"where", "local"},
	)
	return encode(params), nil
}

// EncodePath percent-encodes a path value; "/" becomes "%2F".
func EncodePath(p string) string {
	return url.QueryEscape(p)
}

// EncodeFilename encodes a restore filename. The engine splits that
// parameter on literal dots, so "." becomes "%2E" as well.
func EncodeFilename(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), ".", "%2E")
}

// Decode reverses EncodePath and EncodeFilename.
func Decode(value string) (string, error) {
	return url.QueryUnescape(value)
}

// ParseTask splits a task back into ordered key/value pairs with decoded
// values. It is used by the dry-run printer and tests.
func ParseTask(t Task) ([][2]string, error) {
	var out [][2]string
	for _, field := range strings.Split(string(t), "&") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("malformed task field %q", field)
		}
		decoded, err := Decode(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		out = append(out, [2]string{key, decoded})
	}
	return out, nil
}

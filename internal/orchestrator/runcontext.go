package orchestrator

import (
	"time"

	"github.com/tis24dev/hostmigrate/internal/catalog"
	"github.com/tis24dev/hostmigrate/internal/engine"
	"github.com/tis24dev/hostmigrate/internal/remote"
	"github.com/tis24dev/hostmigrate/internal/selection"
)

// AccountResult tracks the post-restore work done for one account.
type AccountResult struct {
	Account          string   `yaml:"account"`
	Domain           string   `yaml:"domain,omitempty"`
	Artifact         string   `yaml:"artifact,omitempty"`
	RemoteArtifact   bool     `yaml:"remote_artifact"`
	HomeReady        bool     `yaml:"home_ready"`
	Synced           []string `yaml:"synced,omitempty"`
	Skipped          []string `yaml:"skipped,omitempty"`
	Normalized       bool     `yaml:"normalized"`
	BytesTransferred int64    `yaml:"bytes_transferred"`
}

// RunContext is the state of one migration run. It is created by Run and
// handed to every phase explicitly.
type RunContext struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	Phase     Phase

	// Set by the handshake; read-only afterwards.
	Session        *remote.Session
	Gateway        remote.Gateway
	DestBackupPath string
	RestoreIP      string

	Catalog   *catalog.Catalog
	Selection *selection.Set

	StagingDir     string
	StagingCreated bool
	BackupReused   bool
	BackupTask     engine.Task
	RestoreTask    engine.Task
	Artifacts      map[string]engine.Artifact

	Accounts         []*AccountResult
	BytesTransferred int64
	PhaseDurations   map[Phase]time.Duration
	Err              error
}

func newRunContext(runID string, start time.Time) *RunContext {
	return &RunContext{
		RunID:          runID,
		StartTime:      start,
		PhaseDurations: make(map[Phase]time.Duration),
	}
}

// SelectedIDs returns the selection in order, or nil before selection.
func (rc *RunContext) SelectedIDs() []string {
	if rc.Selection == nil {
		return nil
	}
	return rc.Selection.IDs()
}

func (rc *RunContext) account(id string) *AccountResult {
	for _, a := range rc.Accounts {
		if a.Account == id {
			return a
		}
	}
	return nil
}

// Migrated counts accounts whose heavy data was synced and normalized.
func (rc *RunContext) Migrated() int {
	n := 0
	for _, a := range rc.Accounts {
		if a.Normalized {
			n++
		}
	}
	return n
}

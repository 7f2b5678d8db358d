package orchestrator

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tis24dev/hostmigrate/internal/types"
)

type reportArtifact struct {
	Account     string `yaml:"account"`
	Name        string `yaml:"name"`
	Size        int64  `yaml:"size"`
	Compression string `yaml:"compression"`
}

type runReport struct {
	RunID       string            `yaml:"run_id"`
	Version     string            `yaml:"version,omitempty"`
	Source      string            `yaml:"source"`
	Destination string            `yaml:"destination,omitempty"`
	Started     time.Time         `yaml:"started"`
	Finished    time.Time         `yaml:"finished"`
	Duration    string            `yaml:"duration"`
	Status      string            `yaml:"status"`
	ExitCode    int               `yaml:"exit_code"`
	FailedPhase string            `yaml:"failed_phase,omitempty"`
	Error       string            `yaml:"error,omitempty"`
	StagingDir  string            `yaml:"staging_dir,omitempty"`
	StagingKept bool              `yaml:"staging_kept"`
	Reused      bool              `yaml:"backup_reused"`
	Selection   []string          `yaml:"selection"`
	BackupTask  string            `yaml:"backup_task,omitempty"`
	RestoreTask string            `yaml:"restore_task,omitempty"`
	Artifacts   []reportArtifact  `yaml:"artifacts,omitempty"`
	Accounts    []*AccountResult  `yaml:"accounts,omitempty"`
	Bytes       int64             `yaml:"bytes_transferred"`
	Warnings    int               `yaml:"warnings"`
	Errors      int               `yaml:"errors"`
	Phases      map[string]string `yaml:"phases"`
}

func (o *Orchestrator) buildReport(rc *RunContext, code types.ExitCode) runReport {
	warnings, errs := o.logger.Counts()
	r := runReport{
		RunID:       rc.RunID,
		Version:     o.version,
		Source:      o.hostname,
		Started:     rc.StartTime,
		Finished:    rc.EndTime,
		Duration:    rc.EndTime.Sub(rc.StartTime).Round(time.Second).String(),
		Status:      "success",
		ExitCode:    int(code),
		StagingDir:  rc.StagingDir,
		StagingKept: rc.Err != nil,
		Reused:      rc.BackupReused,
		Selection:   rc.SelectedIDs(),
		BackupTask:  rc.BackupTask.String(),
		RestoreTask: rc.RestoreTask.String(),
		Accounts:    rc.Accounts,
		Bytes:       rc.BytesTransferred,
		Warnings:    warnings,
		Errors:      errs,
		Phases:      make(map[string]string, len(rc.PhaseDurations)),
	}
	if rc.Session != nil {
		r.Destination = rc.Session.Destination.String()
	}
	if rc.Err != nil {
		r.Status = PhaseFailed.String()
		r.FailedPhase = rc.Phase.String()
		r.Error = rc.Err.Error()
	}
	for p, d := range rc.PhaseDurations {
		r.Phases[p.String()] = d.Round(time.Millisecond).String()
	}
	for _, a := range rc.Artifacts {
		r.Artifacts = append(r.Artifacts, reportArtifact{
			Account:     a.Account,
			Name:        a.Name,
			Size:        a.Size,
			Compression: string(a.Compression),
		})
	}
	sort.Slice(r.Artifacts, func(i, j int) bool { return r.Artifacts[i].Account < r.Artifacts[j].Account })
	return r
}

// writeReport stores the YAML run report next to the run log.
func (o *Orchestrator) writeReport(rc *RunContext, code types.ExitCode) (string, error) {
	if o.cfg.LogPath == "" {
		return "", nil
	}
	data, err := yaml.Marshal(o.buildReport(rc, code))
	if err != nil {
		return "", fmt.Errorf("encode run report: %w", err)
	}
	if err := o.fs.MkdirAll(o.cfg.LogPath, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(o.cfg.LogPath, fmt.Sprintf("migration-%s.report.yaml", rc.StartTime.Format("20060102-150405")))
	if err := o.fs.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	return path, nil
}

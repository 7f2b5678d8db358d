package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/hostmigrate/internal/logging"
)

// TextfileName is the node_exporter textfile written by Export.
const TextfileName = "hostmigrate.prom"

// RunMetrics is the snapshot of one migration run exported as Prometheus metrics.
type RunMetrics struct {
	RunID       string
	Hostname    string
	Destination string
	Version     string

	StartTime time.Time
	EndTime   time.Time

	ExitCode    int
	FailedPhase string

	AccountsSelected int
	AccountsMigrated int
	BytesTransferred int64
	WarningCount     int
	ErrorCount       int

	PhaseDurations map[string]time.Duration
}

// Duration is EndTime-StartTime, or zero when the run never ended.
func (m *RunMetrics) Duration() time.Duration {
	if m.EndTime.IsZero() || m.StartTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Status is 0=success, 1=warning, 2=error.
func (m *RunMetrics) Status() int {
	switch {
	case m.ExitCode != 0:
		return 2
	case m.WarningCount > 0:
		return 1
	default:
		return 0
	}
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

func gauge(reg *prometheus.Registry, name, help string, value float64) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	g.Set(value)
	reg.MustRegister(g)
}

// Registry builds a registry holding the gauges of m.
func Registry(m *RunMetrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() {
		endTs = float64(m.StartTime.Unix())
	}

	gauge(reg, "hostmigrate_start_time_seconds", "Unix timestamp of migration start", float64(m.StartTime.Unix()))
	gauge(reg, "hostmigrate_end_time_seconds", "Unix timestamp of migration end", endTs)
	gauge(reg, "hostmigrate_duration_seconds", "Duration of last migration in seconds", m.Duration().Seconds())
	gauge(reg, "hostmigrate_exit_code", "Exit code of last migration", float64(m.ExitCode))
	gauge(reg, "hostmigrate_status", "Status of last migration (0=success,1=warning,2=error)", float64(m.Status()))
	gauge(reg, "hostmigrate_accounts_selected", "Accounts selected for the last migration", float64(m.AccountsSelected))
	gauge(reg, "hostmigrate_accounts_migrated", "Accounts fully synced and normalized in the last migration", float64(m.AccountsMigrated))
	gauge(reg, "hostmigrate_transferred_bytes", "Bytes sent by rsync during the last migration", float64(m.BytesTransferred))
	gauge(reg, "hostmigrate_errors_total", "Total number of errors in last migration", float64(m.ErrorCount))
	gauge(reg, "hostmigrate_warnings_total", "Total number of warnings in last migration", float64(m.WarningCount))

	phases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostmigrate_phase_duration_seconds",
		Help: "Time spent in each pipeline phase of the last migration",
	}, []string{"phase"})
	names := make([]string, 0, len(m.PhaseDurations))
	for name := range m.PhaseDurations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		phases.WithLabelValues(name).Set(m.PhaseDurations[name].Seconds())
	}
	reg.MustRegister(phases)

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hostmigrate_info",
		Help: "Static information about the last migration run",
		ConstLabels: prometheus.Labels{
			"run_id":       m.RunID,
			"hostname":     m.Hostname,
			"destination":  m.Destination,
			"version":      m.Version,
			"failed_phase": m.FailedPhase,
		},
	})
	info.Set(1)
	reg.MustRegister(info)

	return reg
}

// Export writes the given metrics snapshot to hostmigrate.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	finalPath := filepath.Join(pe.textfileDir, TextfileName)
	if err := prometheus.WriteToTextfile(finalPath, Registry(m)); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}

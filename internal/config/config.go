package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tis24dev/hostmigrate/internal/types"
	"github.com/tis24dev/hostmigrate/pkg/utils"
)

// DefaultConfigPath is read when no --config flag is given. Its absence is not an error.
const DefaultConfigPath = "/etc/hostmigrate/migrate.env"

// Config holds every tunable of a migration run.
type Config struct {
	// General settings
	DebugLevel       types.LogLevel
	UseColor         bool
	LogPath          string
	StagingRoot      string
	ResumeStagingDir string
	LockPath         string
	MinDiskSpaceGB   float64

	// Catalog layout (source server)
	CatalogRoot           string
	CatalogAccountFile    string
	CatalogDomainKey      string
	CatalogDomainFallback string
	ResellerMarker        string
	ResellerListFile      string

	// Backup/restore engine
	EngineQueueFile       string
	EngineTrigger         string
	EngineOwner           string
	EngineFailurePatterns []string
	BackupOptions         []string
	RemoteQueueFile       string
	RemoteTrigger         string

	// Destination
	DestHost        string
	DestPort        int
	DestUser        string
	DestBackupPath  string
	DestBackupOwner string
	RestoreIP       string
	LocalHomeRoot   string
	DestHomeRoot    string
	HeavyDirs       []string
	MailGroup       string

	// Transport
	SSHConnectTimeout  time.Duration
	SSHConnectAttempts int
	RsyncIOTimeout     time.Duration
	RsyncFlags         []string

	// Polling
	ArtifactTimeout      time.Duration
	ArtifactPollInterval time.Duration
	ArtifactProbe        bool
	HomeTimeout          time.Duration
	HomePollInterval     time.Duration

	// Run outputs
	MetricsEnabled bool
	MetricsPath    string
	ReportEnabled  bool

	// Run notification; an empty URL disables it.
	WebhookURL     string
	WebhookFormat  string
	WebhookToken   string
	WebhookSecret  string
	WebhookRetries int

	ConfigPath string
	raw        map[string]string
}

// envKeys lists the keys a process environment variable may override.
var envKeys = []string{
	"DEBUG_LEVEL", "USE_COLOR", "LOG_PATH", "STAGING_ROOT", "RESUME_STAGING_DIR",
	"LOCK_PATH", "MIN_DISK_SPACE_GB",
	"CATALOG_ROOT", "CATALOG_ACCOUNT_FILE", "CATALOG_DOMAIN_KEY", "CATALOG_DOMAIN_FALLBACK",
	"RESELLER_MARKER", "RESELLER_LIST_FILE",
	"ENGINE_QUEUE_FILE", "ENGINE_TRIGGER", "ENGINE_OWNER", "ENGINE_FAILURE_PATTERNS",
	"BACKUP_OPTIONS", "REMOTE_QUEUE_FILE", "REMOTE_TRIGGER",
	"DEST_HOST", "DEST_PORT", "DEST_USER", "DEST_BACKUP_PATH", "DEST_BACKUP_OWNER",
	"RESTORE_IP", "LOCAL_HOME_ROOT", "DEST_HOME_ROOT", "HEAVY_DIRS", "MAIL_GROUP",
	"SSH_CONNECT_TIMEOUT", "SSH_CONNECT_ATTEMPTS", "RSYNC_IO_TIMEOUT", "RSYNC_FLAGS",
	"ARTIFACT_TIMEOUT", "ARTIFACT_POLL_INTERVAL", "ARTIFACT_PROBE",
	"HOME_TIMEOUT", "HOME_POLL_INTERVAL",
	"METRICS_ENABLED", "METRICS_PATH", "REPORT_ENABLED",
	"WEBHOOK_URL", "WEBHOOK_FORMAT", "WEBHOOK_TOKEN", "WEBHOOK_SECRET", "WEBHOOK_RETRIES",
}

const (
	defaultQueueFile = "/usr/local/directadmin/data/task.queue"
	defaultTrigger   = "/usr/local/directadmin/dataskq d"
)

var (
	defaultFailurePatterns = []string{"error", "failed", "permission denied", "unable to", "cannot"}
	defaultBackupOptions   = []string{
		"autoresponder", "database", "email", "emailsettings", "forwarder",
		"ftp", "ftpsettings", "list", "subdomain", "vacation",
	}
	defaultHeavyDirs = []string{"domains", "imap"}
)

// LoadConfig reads the env-style configuration file. When configPath is the
// default path and the file does not exist, defaults (plus env overrides) are
// used; an explicit path that does not exist is an error.
func LoadConfig(configPath string) (*Config, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = DefaultConfigPath
	}

	rawValues := make(map[string]string)
	if utils.FileExists(configPath) {
		values, err := readEnvFile(configPath)
		if err != nil {
			return nil, err
		}
		rawValues = values
	} else if configPath != DefaultConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	// Environment variables take precedence over file values.
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	return cfg, nil
}

func readEnvFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	raw := make(map[string]string)
	for _, key := range v.AllKeys() {
		raw[strings.ToUpper(key)] = v.GetString(key)
	}
	return raw, nil
}

func (c *Config) loadEnvOverrides() {
	for _, key := range envKeys {
		if envValue, ok := os.LookupEnv(key); ok && envValue != "" {
			c.raw[key] = envValue
		}
	}
}

func (c *Config) parse() error {
	var errs []error

	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)
	c.LogPath = c.getString("LOG_PATH", "/var/log/hostmigrate")
	c.StagingRoot = c.getString("STAGING_ROOT", "/home/admin/admin_backups")
	c.ResumeStagingDir = c.getString("RESUME_STAGING_DIR", "")
	c.LockPath = c.getString("LOCK_PATH", "/run/hostmigrate")
	c.MinDiskSpaceGB = c.getFloat("MIN_DISK_SPACE_GB", 10)
	if c.MinDiskSpaceGB < 0 {
		c.MinDiskSpaceGB = 0
	}

	c.CatalogRoot = c.getString("CATALOG_ROOT", "/usr/local/directadmin/data/users")
	c.CatalogAccountFile = c.getString("CATALOG_ACCOUNT_FILE", "user.conf")
	c.CatalogDomainKey = c.getString("CATALOG_DOMAIN_KEY", "domain")
	c.CatalogDomainFallback = c.getString("CATALOG_DOMAIN_FALLBACK", "domains.list")
	c.ResellerMarker = c.getString("RESELLER_MARKER", "reseller.conf")
	c.ResellerListFile = c.getString("RESELLER_LIST_FILE", "users.list")

	c.EngineQueueFile = c.getString("ENGINE_QUEUE_FILE", defaultQueueFile)
	c.EngineTrigger = c.getString("ENGINE_TRIGGER", defaultTrigger)
	c.EngineOwner = c.getString("ENGINE_OWNER", "admin")
	c.EngineFailurePatterns = c.getStringSlice("ENGINE_FAILURE_PATTERNS", defaultFailurePatterns)
	c.BackupOptions = c.getStringSlice("BACKUP_OPTIONS", defaultBackupOptions)
	c.RemoteQueueFile = c.getString("REMOTE_QUEUE_FILE", c.EngineQueueFile)
	c.RemoteTrigger = c.getString("REMOTE_TRIGGER", c.EngineTrigger)

	c.DestHost = c.getString("DEST_HOST", "")
	c.DestPort = c.getInt("DEST_PORT", 22)
	c.DestUser = c.getString("DEST_USER", "root")
	c.DestBackupPath = c.getString("DEST_BACKUP_PATH", "/home/admin/admin_backups")
	c.DestBackupOwner = c.getString("DEST_BACKUP_OWNER", "admin")
	c.RestoreIP = c.getString("RESTORE_IP", "")
	c.LocalHomeRoot = c.getString("LOCAL_HOME_ROOT", "/home")
	c.DestHomeRoot = c.getString("DEST_HOME_ROOT", "/home")
	c.HeavyDirs = c.getStringSlice("HEAVY_DIRS", defaultHeavyDirs)
	c.MailGroup = c.getString("MAIL_GROUP", "mail")

	c.SSHConnectTimeout = c.getDuration("SSH_CONNECT_TIMEOUT", 10*time.Second)
	c.SSHConnectAttempts = c.ensurePositiveInt("SSH_CONNECT_ATTEMPTS", 3)
	c.RsyncIOTimeout = c.getDuration("RSYNC_IO_TIMEOUT", 600*time.Second)
	c.RsyncFlags = c.getStringSlice("RSYNC_FLAGS", nil)

	c.ArtifactTimeout = c.getDuration("ARTIFACT_TIMEOUT", time.Hour)
	c.ArtifactPollInterval = c.getDuration("ARTIFACT_POLL_INTERVAL", 10*time.Second)
	c.ArtifactProbe = c.getBool("ARTIFACT_PROBE", true)
	c.HomeTimeout = c.getDuration("HOME_TIMEOUT", 30*time.Minute)
	c.HomePollInterval = c.getDuration("HOME_POLL_INTERVAL", 10*time.Second)

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = c.getString("METRICS_PATH", "/var/lib/prometheus/node-exporter")
	c.ReportEnabled = c.getBool("REPORT_ENABLED", true)

	c.WebhookURL = c.getString("WEBHOOK_URL", "")
	c.WebhookFormat = strings.ToLower(c.getString("WEBHOOK_FORMAT", "generic"))
	c.WebhookToken = c.getString("WEBHOOK_TOKEN", "")
	c.WebhookSecret = c.getString("WEBHOOK_SECRET", "")
	c.WebhookRetries = c.getInt("WEBHOOK_RETRIES", 2)

	if c.DestPort < 1 || c.DestPort > 65535 {
		errs = append(errs, fmt.Errorf("DEST_PORT out of range: %d", c.DestPort))
	}
	if strings.TrimSpace(c.EngineTrigger) == "" {
		errs = append(errs, errors.New("ENGINE_TRIGGER must not be empty"))
	}
	if c.WebhookFormat != "generic" && c.WebhookFormat != "slack" {
		errs = append(errs, fmt.Errorf("WEBHOOK_FORMAT must be generic or slack, got %q", c.WebhookFormat))
	}
	if c.WebhookRetries < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_RETRIES must not be negative, got %d", c.WebhookRetries))
	}
	if len(c.HeavyDirs) == 0 {
		errs = append(errs, errors.New("HEAVY_DIRS must name at least one directory"))
	}
	for _, key := range []string{"ARTIFACT_POLL_INTERVAL", "HOME_POLL_INTERVAL"} {
		if c.getDuration(key, time.Second) <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return os.ExpandEnv(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getFloat(key string, defaultValue float64) float64 {
	if val, ok := c.raw[key]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func (c *Config) getDuration(key string, defaultValue time.Duration) time.Duration {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultValue
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok {
		if level, ok := types.ParseLogLevel(val); ok {
			return level
		}
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	val, ok := c.raw[key]
	if !ok {
		return append([]string(nil), defaultValue...)
	}
	return utils.SplitList(val)
}

package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"

	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/safefs"
)

// Indirections over the os package so tests can inject failures.
var (
	osStat      = os.Stat
	osRemove    = os.Remove
	osOpenFile  = os.OpenFile
	osMkdirAll  = os.MkdirAll
	lookPath    = exec.LookPath
	syncFile    = func(f *os.File) error { return f.Sync() }
	diskFree    = diskSpaceBytes
	catalogStat = safefs.Stat
)

// fsTimeout bounds stat calls on paths that may sit on a network mount.
const fsTimeout = 10 * time.Second

// Checker performs the local preconditions of a migration run. Every failure
// it reports happens before any remote mutation.
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
}

// CheckerConfig holds configuration for preflight checks
type CheckerConfig struct {
	StagingRoot    string
	LogPath        string
	LockDirPath    string
	LockFilePath   string
	MaxLockAge     time.Duration
	MinDiskSpaceGB float64
	CatalogRoot    string
	QueueFile      string
	Trigger        string
	RequiredTools  []string
	DryRun         bool
}

// Validate checks if the checker configuration is valid
func (c *CheckerConfig) Validate() error {
	if c.StagingRoot == "" {
		return fmt.Errorf("staging root cannot be empty")
	}
	if c.LogPath == "" {
		return fmt.Errorf("log path cannot be empty")
	}
	if c.LockDirPath == "" {
		c.LockDirPath = c.StagingRoot
	}
	if c.MinDiskSpaceGB < 0 {
		return fmt.Errorf("minimum disk space cannot be negative")
	}
	if c.MaxLockAge <= 0 {
		return fmt.Errorf("max lock age must be positive")
	}
	return nil
}

func (c *CheckerConfig) lockPath() string {
	if c.LockFilePath != "" {
		return c.LockFilePath
	}
	return filepath.Join(c.LockDirPath, ".migration.lock")
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
	Code    string
}

// NewChecker creates a new preflight checker
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	return &Checker{
		logger: logger,
		config: config,
	}
}

// RunAllChecks runs every preflight check and stops at the first failure.
// Directories come first; the lock is taken last so a failed run never
// leaves a lock behind in an unusable directory.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	c.logger.Debug("Running preflight checks")

	steps := []func() CheckResult{
		c.CheckTools,
		c.CheckEngine,
		c.CheckCatalog,
		c.CheckDirectories,
		c.CheckDiskSpace,
		c.CheckPermissions,
		c.CheckLockFile,
	}

	var results []CheckResult
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := step()
		results = append(results, result)
		if !result.Passed {
			return results, fmt.Errorf("%s check failed: %s", result.Name, result.Message)
		}
	}

	c.logger.Debug("All preflight checks passed")
	return results, nil
}

// CheckTools verifies the external binaries the transfer path needs are on PATH.
func (c *Checker) CheckTools() CheckResult {
	result := CheckResult{Name: "Tools", Code: "TOOLS"}
	var missing []string
	for _, tool := range c.config.RequiredTools {
		path, err := lookPath(tool)
		if err != nil {
			missing = append(missing, tool)
			continue
		}
		c.logger.Debug("Found %s at %s", tool, path)
	}
	if len(missing) > 0 {
		result.Code = "TOOL_MISSING"
		result.Error = fmt.Errorf("required tools not found: %v", missing)
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}
	result.Passed = true
	result.Message = "All required tools available"
	return result
}

// CheckEngine verifies the local engine trigger is executable and the queue
// file directory exists.
func (c *Checker) CheckEngine() CheckResult {
	result := CheckResult{Name: "Engine", Code: "ENGINE"}

	argv, err := shellquote.Split(c.config.Trigger)
	if err != nil || len(argv) == 0 {
		result.Code = "TRIGGER_INVALID"
		result.Error = fmt.Errorf("invalid engine trigger %q: %v", c.config.Trigger, err)
		result.Message = result.Error.Error()
		return result
	}
	info, err := osStat(argv[0])
	if err != nil {
		if _, lookErr := lookPath(argv[0]); lookErr != nil {
			result.Code = "TRIGGER_MISSING"
			result.Error = fmt.Errorf("engine trigger not found: %s: %w", argv[0], err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
	} else if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		result.Code = "TRIGGER_NOT_EXECUTABLE"
		result.Error = fmt.Errorf("engine trigger is not executable: %s", argv[0])
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}

	queueDir := filepath.Dir(c.config.QueueFile)
	if info, err := osStat(queueDir); err != nil || !info.IsDir() {
		result.Code = "QUEUE_DIR_MISSING"
		result.Error = fmt.Errorf("engine queue directory not found: %s", queueDir)
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}

	result.Passed = true
	result.Message = "Engine trigger and queue available"
	return result
}

// CheckCatalog verifies the account catalog root is a readable directory.
func (c *Checker) CheckCatalog() CheckResult {
	result := CheckResult{Name: "Catalog", Code: "CATALOG"}
	info, err := catalogStat(context.Background(), c.config.CatalogRoot, fsTimeout)
	if err != nil {
		result.Code = "CATALOG_MISSING"
		result.Error = fmt.Errorf("catalog root not accessible: %s: %w", c.config.CatalogRoot, err)
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}
	if !info.IsDir() {
		result.Code = "CATALOG_NOT_DIRECTORY"
		result.Error = fmt.Errorf("catalog root is not a directory: %s", c.config.CatalogRoot)
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = "Catalog root available"
	return result
}

// CheckDirectories verifies required directories exist, creating missing ones.
func (c *Checker) CheckDirectories() CheckResult {
	result := CheckResult{Name: "Directories"}

	seen := make(map[string]struct{})
	var dirs []string
	addDir := func(path string) {
		cleaned := filepath.Clean(path)
		if cleaned == "" || cleaned == "." || cleaned == "/" {
			return
		}
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		dirs = append(dirs, cleaned)
	}
	addDir(c.config.StagingRoot)
	addDir(c.config.LogPath)
	addDir(c.config.LockDirPath)
	addDir(filepath.Dir(c.config.lockPath()))

	for _, dir := range dirs {
		c.logger.Debug("Checking directory: %s", dir)
		info, err := osStat(dir)
		if err == nil {
			if !info.IsDir() {
				result.Error = fmt.Errorf("required path is not a directory: %s", dir)
				result.Message = result.Error.Error()
				c.logger.Error("%s", result.Message)
				return result
			}
			continue
		}
		if !os.IsNotExist(err) {
			result.Error = fmt.Errorf("failed to stat directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		if c.config.DryRun {
			c.logger.Info("[DRY RUN] Would create directory: %s", dir)
			continue
		}
		if err := osMkdirAll(dir, 0o755); err != nil {
			result.Error = fmt.Errorf("failed to create directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		c.logger.Info("Created missing directory: %s", dir)
	}

	result.Passed = true
	result.Message = "All required directories exist"
	return result
}

// CheckDiskSpace verifies the staging root has at least MinDiskSpaceGB free.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "Disk Space"}
	if c.config.MinDiskSpaceGB <= 0 {
		result.Passed = true
		result.Message = "Disk space check disabled"
		return result
	}

	path := c.config.StagingRoot
	if _, err := osStat(path); err != nil && c.config.DryRun {
		path = filepath.Dir(path)
	}
	available, err := diskFree(path)
	if err != nil {
		result.Error = fmt.Errorf("disk space check failed (%s): %w", path, err)
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}
	required := uint64(c.config.MinDiskSpaceGB * 1024 * 1024 * 1024)
	c.logger.Debug("Staging: %s available, %s required", humanize.IBytes(available), humanize.IBytes(required))
	if available < required {
		result.Error = fmt.Errorf("disk space insufficient on %s: %s available, %s required",
			path, humanize.IBytes(available), humanize.IBytes(required))
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s free on %s", humanize.IBytes(available), path)
	return result
}

// CheckPermissions verifies the staging, log and queue directories are writable.
func (c *Checker) CheckPermissions() CheckResult {
	result := CheckResult{Name: "Permissions", Code: "PERMISSION_CHECK"}

	dirs := []string{c.config.StagingRoot, c.config.LogPath}
	if c.config.QueueFile != "" {
		dirs = append(dirs, filepath.Dir(c.config.QueueFile))
	}

	for _, dir := range dirs {
		if c.config.DryRun {
			c.logger.Debug("[DRY RUN] Would test write permission in: %s", dir)
			continue
		}
		testFile := filepath.Join(dir, fmt.Sprintf(".permission_test_%d", os.Getpid()))
		f, err := osOpenFile(testFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			var reason string
			code := "PERMISSION_CHECK_FAILED"
			switch {
			case errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM):
				reason = "no write permission"
				code = "PERMISSION_DENIED"
			case errors.Is(err, syscall.EROFS):
				reason = "filesystem is read-only"
				code = "FS_READONLY"
			default:
				reason = "failed to test write permission"
			}
			result.Code = code
			result.Error = fmt.Errorf("%s in %s: %w", reason, dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		f.Close()
		if err := osRemove(testFile); err != nil {
			c.logger.Warning("Failed to remove test file %s: %v", testFile, err)
		}
	}

	result.Passed = true
	result.Message = "All directories are writable"
	return result
}

// CheckLockFile removes a stale lock and takes a new one, refusing to run
// when another migration holds a fresh lock.
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{Name: "Lock File"}
	lockPath := c.config.lockPath()

	if info, err := osStat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		if age <= c.config.MaxLockAge {
			result.Message = fmt.Sprintf("Another migration is in progress (lock %s, age %s)", lockPath, age.Round(time.Second))
			c.logger.Error("%s", result.Message)
			return result
		}
		c.logger.Warning("Removing stale lock file (age: %v)", age.Round(time.Second))
		if err := osRemove(lockPath); err != nil {
			result.Error = fmt.Errorf("failed to remove stale lock: %w", err)
			result.Message = result.Error.Error()
			return result
		}
	}

	if c.config.DryRun {
		c.logger.Info("[DRY RUN] Would create lock file: %s", lockPath)
		result.Passed = true
		result.Message = "Lock not taken in dry-run mode"
		return result
	}

	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Message = "Another migration acquired the lock"
			c.logger.Error("%s", result.Message)
			return result
		}
		result.Error = fmt.Errorf("failed to create lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	if _, err := fmt.Fprintf(f, "pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339)); err != nil {
		result.Error = fmt.Errorf("failed to write lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	if err := syncFile(f); err != nil {
		c.logger.Warning("Failed to sync lock file %s: %v", lockPath, err)
	}

	result.Passed = true
	result.Message = "Lock file acquired successfully"
	return result
}

// ReleaseLock removes the lock file
func (c *Checker) ReleaseLock() error {
	lockPath := c.config.lockPath()
	if c.config.DryRun {
		return nil
	}
	if err := osRemove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	c.logger.Debug("Lock file released: %s", lockPath)
	return nil
}

func diskSpaceBytes(path string) (uint64, error) {
	return safefs.FreeBytes(context.Background(), path, fsTimeout)
}

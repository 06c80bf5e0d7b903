// Package barndir resolves the canonical on-disk layout rooted at a base
// directory and creates it on daemon startup. Every other component
// reaches the filesystem only through a *Dirs value, never by
// constructing paths itself, so the layout is defined in exactly one
// place.
package barndir

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/samson-media/barn/internal/barnerr"
)

// validJobID matches the id format Barn generates and accepts from
// callers; anything else is rejected before it is concatenated into a
// path, preventing traversal via a crafted id.
var validJobID = regexp.MustCompile(`^[a-z0-9-]+$`)

// Dirs resolves paths under a base directory.
type Dirs struct {
	Base string
}

// New returns a Dirs rooted at base. base is not created or validated
// here; call Init to create the layout.
func New(base string) *Dirs {
	return &Dirs{Base: base}
}

// Init creates the full directory layout under Base.
func (d *Dirs) Init() error {
	dirs := []string{
		d.JobsRoot(),
		d.LocksRoot(),
		d.LogsRoot(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return barnerr.IoError(err, "create directory %s", dir)
		}
	}
	return nil
}

// JobsRoot is <base>/jobs.
func (d *Dirs) JobsRoot() string { return filepath.Join(d.Base, "jobs") }

// LocksRoot is <base>/locks.
func (d *Dirs) LocksRoot() string { return filepath.Join(d.Base, "locks") }

// LogsRoot is <base>/logs (the daemon's own log, not per-job logs).
func (d *Dirs) LogsRoot() string { return filepath.Join(d.Base, "logs") }

// DaemonLogFile is <base>/logs/barn.log.
func (d *Dirs) DaemonLogFile() string { return filepath.Join(d.LogsRoot(), "barn.log") }

// DaemonPidFile is <base>/barn.pid.
func (d *Dirs) DaemonPidFile() string { return filepath.Join(d.Base, "barn.pid") }

// DaemonSockFile is <base>/barn.sock.
func (d *Dirs) DaemonSockFile() string { return filepath.Join(d.Base, "barn.sock") }

// SchedulerLockFile is <base>/locks/scheduler.lock.
func (d *Dirs) SchedulerLockFile() string { return filepath.Join(d.LocksRoot(), "scheduler.lock") }

// JobLockFile is <base>/locks/job-<id>.lock.
func (d *Dirs) JobLockFile(jobID string) (string, error) {
	if err := ValidateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(d.LocksRoot(), fmt.Sprintf("job-%s.lock", jobID)), nil
}

// JobDir is <base>/jobs/<id>. Returns an error if id is not a valid job id.
func (d *Dirs) JobDir(jobID string) (string, error) {
	if err := ValidateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(d.JobsRoot(), jobID), nil
}

// JobWorkDir is <base>/jobs/<id>/work.
func (d *Dirs) JobWorkDir(jobID string) (string, error) {
	dir, err := d.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "work"), nil
}

// JobWorkInputDir is <base>/jobs/<id>/work/input.
func (d *Dirs) JobWorkInputDir(jobID string) (string, error) {
	dir, err := d.JobWorkDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "input"), nil
}

// JobWorkOutputDir is <base>/jobs/<id>/work/output.
func (d *Dirs) JobWorkOutputDir(jobID string) (string, error) {
	dir, err := d.JobWorkDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "output"), nil
}

// JobLogsDir is <base>/jobs/<id>/logs.
func (d *Dirs) JobLogsDir(jobID string) (string, error) {
	dir, err := d.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// JobStdoutLog, JobStderrLog, JobProgressLog, JobUsageCSV are the
// per-job log files under jobs/<id>/logs/.
func (d *Dirs) JobStdoutLog(jobID string) (string, error) { return d.jobLogFile(jobID, "stdout.log") }
func (d *Dirs) JobStderrLog(jobID string) (string, error) { return d.jobLogFile(jobID, "stderr.log") }
func (d *Dirs) JobProgressLog(jobID string) (string, error) {
	return d.jobLogFile(jobID, "progress.log")
}
func (d *Dirs) JobUsageCSV(jobID string) (string, error) { return d.jobLogFile(jobID, "usage.csv") }

func (d *Dirs) jobLogFile(jobID, name string) (string, error) {
	dir, err := d.JobLogsDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// JobManifestFile is <base>/jobs/<id>/manifest.json.
func (d *Dirs) JobManifestFile(jobID string) (string, error) { return d.jobFile(jobID, "manifest.json") }

// JobStateFile and the other single-value state files.
func (d *Dirs) JobStateFile(jobID string) (string, error)  { return d.jobFile(jobID, "state") }
func (d *Dirs) JobLoadLevelFile(jobID string) (string, error) {
	return d.jobFile(jobID, "load_level")
}
func (d *Dirs) JobTagFile(jobID string) (string, error)       { return d.jobFile(jobID, "tag") }
func (d *Dirs) JobPidFile(jobID string) (string, error)       { return d.jobFile(jobID, "pid") }
func (d *Dirs) JobHeartbeatFile(jobID string) (string, error) { return d.jobFile(jobID, "heartbeat") }
func (d *Dirs) JobExitCodeFile(jobID string) (string, error)  { return d.jobFile(jobID, "exit_code") }
func (d *Dirs) JobErrorFile(jobID string) (string, error)     { return d.jobFile(jobID, "error") }
func (d *Dirs) JobCreatedAtFile(jobID string) (string, error) { return d.jobFile(jobID, "created_at") }
func (d *Dirs) JobStartedAtFile(jobID string) (string, error) { return d.jobFile(jobID, "started_at") }
func (d *Dirs) JobFinishedAtFile(jobID string) (string, error) {
	return d.jobFile(jobID, "finished_at")
}
func (d *Dirs) JobRetryCountFile(jobID string) (string, error) {
	return d.jobFile(jobID, "retry_count")
}
func (d *Dirs) JobRetryAtFile(jobID string) (string, error) { return d.jobFile(jobID, "retry_at") }
func (d *Dirs) JobRetryHistoryFile(jobID string) (string, error) {
	return d.jobFile(jobID, "retry_history")
}

func (d *Dirs) jobFile(jobID, name string) (string, error) {
	dir, err := d.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// CreateJobLayout creates the full per-job directory tree (the job
// directory itself, work/input, work/output, and logs) for a freshly
// generated job id.
func (d *Dirs) CreateJobLayout(jobID string) error {
	for _, get := range []func(string) (string, error){
		d.JobDir, d.JobWorkInputDir, d.JobWorkOutputDir, d.JobLogsDir,
	} {
		dir, err := get(jobID)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return barnerr.IoError(err, "create directory %s", dir)
		}
	}
	return nil
}

// ValidateJobID rejects anything that is not a safe path component.
func ValidateJobID(id string) error {
	if id == "" || !validJobID.MatchString(id) {
		return barnerr.InvalidArgument("invalid job id %q", id)
	}
	return nil
}

package job

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/samson-media/barn/internal/stateio"
)

const idBytes = 4 // 8 hex chars

const maxIDCollisionRetries = 10

// Repository reads and writes job directories rooted at dirs.Base.
// Every method that mutates a job's state assumes the caller already
// holds that job's per-job lock (internal/lock); Repository itself does
// no locking.
type Repository struct {
	dirs  *barndir.Dirs
	clock barnclock.Clock
}

// New creates a Repository rooted at dirs, using clock for all
// "now" timestamps so tests can control time deterministically.
func New(dirs *barndir.Dirs, clock barnclock.Clock) *Repository {
	return &Repository{dirs: dirs, clock: clock}
}

// Create generates a fresh job id, writes its manifest and initial
// state files, and returns the resulting Job. command must be
// non-empty.
func (r *Repository) Create(command []string, tag *string, load manifest.LoadLevel, m *manifest.Manifest) (*Job, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, barnerr.InvalidArgument("command must not be empty")
	}
	if m == nil {
		m = &manifest.Manifest{}
	}
	m.Command = command
	m.Tag = tag
	m.Load = load
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var id string
	for attempt := 0; attempt < maxIDCollisionRetries; attempt++ {
		candidate, err := generateID()
		if err != nil {
			return nil, err
		}
		dir, err := r.dirs.JobDir(candidate)
		if err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			id = candidate
			break
		}
	}
	if id == "" {
		return nil, barnerr.New(barnerr.KindIoError, "exhausted job id collision retries")
	}

	if err := r.dirs.CreateJobLayout(id); err != nil {
		return nil, err
	}

	manifestPath, err := r.dirs.JobManifestFile(id)
	if err != nil {
		return nil, err
	}
	if err := manifest.Write(manifestPath, m); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	if err := r.writeState(id, Queued); err != nil {
		return nil, err
	}
	if err := r.writeTimestamp(id, r.dirs.JobCreatedAtFile, now); err != nil {
		return nil, err
	}
	if err := r.writeString(id, r.dirs.JobLoadLevelFile, string(load)); err != nil {
		return nil, err
	}
	if tag != nil {
		if err := r.writeString(id, r.dirs.JobTagFile, *tag); err != nil {
			return nil, err
		}
	}
	if err := r.writeString(id, r.dirs.JobRetryCountFile, "0"); err != nil {
		return nil, err
	}

	return r.FindByID(id)
}

// FindByID loads the job at id, returning a NotFound error if its
// directory lacks the minimum invariant files (manifest.json, state,
// load_level, created_at).
func (r *Repository) FindByID(id string) (*Job, error) {
	if err := barndir.ValidateJobID(id); err != nil {
		return nil, err
	}

	stateStr, err := r.readRequiredString(id, r.dirs.JobStateFile)
	if err != nil {
		return nil, err
	}
	createdAt, err := r.readRequiredTimestamp(id, r.dirs.JobCreatedAtFile)
	if err != nil {
		return nil, err
	}
	load, err := r.readRequiredString(id, r.dirs.JobLoadLevelFile)
	if err != nil {
		return nil, err
	}
	manifestPath, err := r.dirs.JobManifestFile(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, barnerr.NotFound("job %s is missing manifest.json", id)
	}

	j := &Job{
		ID:        id,
		State:     State(stateStr),
		CreatedAt: createdAt,
		Load:      load,
	}

	if tag, ok, err := r.readOptionalString(id, r.dirs.JobTagFile); err != nil {
		return nil, err
	} else if ok {
		j.Tag = &tag
	}
	if startedAt, ok, err := r.readOptionalTimestamp(id, r.dirs.JobStartedAtFile); err != nil {
		return nil, err
	} else if ok {
		j.StartedAt = &startedAt
	}
	if finishedAt, ok, err := r.readOptionalTimestamp(id, r.dirs.JobFinishedAtFile); err != nil {
		return nil, err
	} else if ok {
		j.FinishedAt = &finishedAt
	}
	if hb, ok, err := r.readOptionalTimestamp(id, r.dirs.JobHeartbeatFile); err != nil {
		return nil, err
	} else if ok {
		j.Heartbeat = &hb
	}
	if pidStr, ok, err := r.readOptionalString(id, r.dirs.JobPidFile); err != nil {
		return nil, err
	} else if ok {
		pid, convErr := strconv.Atoi(pidStr)
		if convErr != nil {
			return nil, barnerr.Wrap(barnerr.KindCorrupted, convErr, "parse pid for job %s", id)
		}
		j.PID = &pid
	}
	if exitCode, ok, err := r.readOptionalString(id, r.dirs.JobExitCodeFile); err != nil {
		return nil, err
	} else if ok {
		j.ExitCode = &exitCode
	}
	if errStr, ok, err := r.readOptionalString(id, r.dirs.JobErrorFile); err != nil {
		return nil, err
	} else if ok {
		j.Error = &errStr
	}
	if retryCountStr, ok, err := r.readOptionalString(id, r.dirs.JobRetryCountFile); err != nil {
		return nil, err
	} else if ok {
		count, convErr := strconv.Atoi(retryCountStr)
		if convErr != nil {
			return nil, barnerr.Wrap(barnerr.KindCorrupted, convErr, "parse retry_count for job %s", id)
		}
		j.RetryCount = count
	}
	if retryAt, ok, err := r.readOptionalTimestamp(id, r.dirs.JobRetryAtFile); err != nil {
		return nil, err
	} else if ok {
		j.RetryAt = &retryAt
	}

	return j, nil
}

// FindAll lists every job directory under jobs/, silently skipping
// entries that fail the minimum invariant check.
func (r *Repository) FindAll() ([]*Job, error) {
	entries, err := os.ReadDir(r.dirs.JobsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, barnerr.IoError(err, "list %s", r.dirs.JobsRoot())
	}

	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		j, err := r.FindByID(e.Name())
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// FindByState returns every job currently in state, ordered by
// created_at ascending (FIFO), with lexicographic id as the tiebreak.
func (r *Repository) FindByState(state State) ([]*Job, error) {
	all, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	var matched []*Job
	for _, j := range all {
		if j.State == state {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[k].CreatedAt)
		}
		return matched[i].ID < matched[k].ID
	})
	return matched, nil
}

// FindByTag returns every job whose tag equals tag, for filtering by
// caller-assigned grouping.
func (r *Repository) FindByTag(tag string) ([]*Job, error) {
	all, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	var matched []*Job
	for _, j := range all {
		if j.Tag != nil && *j.Tag == tag {
			matched = append(matched, j)
		}
	}
	return matched, nil
}

// UpdateState enforces the transition table and writes the new state.
func (r *Repository) UpdateState(id string, to State) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := CheckTransition(current.State, to); err != nil {
		return err
	}
	return r.writeState(id, to)
}

// MarkStarted atomically records that the job began running as pid.
func (r *Repository) MarkStarted(id string, pid int) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := CheckTransition(current.State, Running); err != nil {
		return err
	}
	now := r.clock.Now()
	if err := r.writeState(id, Running); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobStartedAtFile, now); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobHeartbeatFile, now); err != nil {
		return err
	}
	return r.writeString(id, r.dirs.JobPidFile, strconv.Itoa(pid))
}

// MarkCompleted records a natural process exit: SUCCEEDED iff exitCode
// is 0 and errMsg is nil, otherwise FAILED.
func (r *Repository) MarkCompleted(id string, exitCode int, errMsg *string) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	to := Succeeded
	if exitCode != 0 || errMsg != nil {
		to = Failed
	}
	if err := CheckTransition(current.State, to); err != nil {
		return err
	}
	if err := r.writeState(id, to); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobFinishedAtFile, r.clock.Now()); err != nil {
		return err
	}
	if err := r.writeString(id, r.dirs.JobExitCodeFile, strconv.Itoa(exitCode)); err != nil {
		return err
	}
	if errMsg != nil {
		return r.writeString(id, r.dirs.JobErrorFile, *errMsg)
	}
	return nil
}

// MarkCanceled records a graceful, externally requested termination.
func (r *Repository) MarkCanceled(id string) error {
	return r.markTerminal(id, Canceled, nil)
}

// MarkKilled records a forced termination.
func (r *Repository) MarkKilled(id string, exitCode int) error {
	return r.markTerminal(id, Killed, &exitCode)
}

// MarkOrphaned records a job Recovery determined was abandoned by a
// prior daemon run: state becomes FAILED with the symbolic exit code
// "orphaned_process", not a numeric one.
func (r *Repository) MarkOrphaned(id string, errMsg string) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := CheckTransition(current.State, Failed); err != nil {
		return err
	}
	if err := r.writeState(id, Failed); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobFinishedAtFile, r.clock.Now()); err != nil {
		return err
	}
	if err := r.writeString(id, r.dirs.JobExitCodeFile, "orphaned_process"); err != nil {
		return err
	}
	return r.writeString(id, r.dirs.JobErrorFile, errMsg)
}

func (r *Repository) markTerminal(id string, to State, exitCode *int) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := CheckTransition(current.State, to); err != nil {
		return err
	}
	if err := r.writeState(id, to); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobFinishedAtFile, r.clock.Now()); err != nil {
		return err
	}
	if exitCode != nil {
		return r.writeString(id, r.dirs.JobExitCodeFile, strconv.Itoa(*exitCode))
	}
	return nil
}

// UpdateHeartbeat writes heartbeat=now; a no-op if the job is not
// currently RUNNING.
func (r *Repository) UpdateHeartbeat(id string) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if current.State != Running {
		return nil
	}
	return r.writeTimestamp(id, r.dirs.JobHeartbeatFile, r.clock.Now())
}

// IncrementRetry appends to retry_history, increments retry_count, sets
// retry_at, and resets the job to QUEUED, clearing started_at,
// finished_at, exit_code, error, and pid.
func (r *Repository) IncrementRetry(id string, lastExitCode int, lastError *string, nextRetryAt time.Time) error {
	current, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := CheckTransition(current.State, Queued); err != nil {
		return err
	}

	historyPath, err := r.dirs.JobRetryHistoryFile(id)
	if err != nil {
		return err
	}
	entry := RetryAttempt{Attempt: current.RetryCount + 1, ExitCode: lastExitCode, Error: lastError}
	line, err := json.Marshal(entry)
	if err != nil {
		return barnerr.Wrap(barnerr.KindInvalidArgument, err, "marshal retry history entry")
	}
	if err := stateio.AppendJSONLine(historyPath, line); err != nil {
		return err
	}

	if err := r.writeString(id, r.dirs.JobRetryCountFile, strconv.Itoa(current.RetryCount+1)); err != nil {
		return err
	}
	if err := r.writeTimestamp(id, r.dirs.JobRetryAtFile, nextRetryAt); err != nil {
		return err
	}
	if err := r.writeState(id, Queued); err != nil {
		return err
	}

	for _, remove := range []func(string) (string, error){
		r.dirs.JobStartedAtFile, r.dirs.JobFinishedAtFile, r.dirs.JobExitCodeFile,
		r.dirs.JobErrorFile, r.dirs.JobPidFile,
	} {
		path, err := remove(id)
		if err != nil {
			return err
		}
		if err := stateio.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadManifest reads the job's immutable manifest.
func (r *Repository) LoadManifest(id string) (*manifest.Manifest, error) {
	path, err := r.dirs.JobManifestFile(id)
	if err != nil {
		return nil, err
	}
	return manifest.Read(path)
}

// Delete removes the job's entire directory tree.
func (r *Repository) Delete(id string) error {
	dir, err := r.dirs.JobDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return barnerr.IoError(err, "delete job directory %s", dir)
	}
	return nil
}

func generateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", barnerr.Wrap(barnerr.KindIoError, err, "generate job id")
	}
	return hex.EncodeToString(b), nil
}

func (r *Repository) writeState(id string, s State) error {
	return r.writeString(id, r.dirs.JobStateFile, string(s))
}

func (r *Repository) writeString(id string, get func(string) (string, error), value string) error {
	path, err := get(id)
	if err != nil {
		return err
	}
	return stateio.WriteString(path, value)
}

func (r *Repository) writeTimestamp(id string, get func(string) (string, error), t time.Time) error {
	return r.writeString(id, get, t.UTC().Format(time.RFC3339))
}

func (r *Repository) readRequiredString(id string, get func(string) (string, error)) (string, error) {
	value, ok, err := r.readOptionalString(id, get)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", barnerr.NotFound("job %s is missing a required file", id)
	}
	return value, nil
}

func (r *Repository) readOptionalString(id string, get func(string) (string, error)) (string, bool, error) {
	path, err := get(id)
	if err != nil {
		return "", false, err
	}
	return stateio.ReadString(path)
}

func (r *Repository) readRequiredTimestamp(id string, get func(string) (string, error)) (time.Time, error) {
	t, ok, err := r.readOptionalTimestamp(id, get)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, barnerr.NotFound("job %s is missing a required timestamp", id)
	}
	return t, nil
}

func (r *Repository) readOptionalTimestamp(id string, get func(string) (string, error)) (time.Time, bool, error) {
	value, ok, err := r.readOptionalString(id, get)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, barnerr.Wrap(barnerr.KindCorrupted, err, "parse timestamp %q", value)
	}
	return t, true, nil
}

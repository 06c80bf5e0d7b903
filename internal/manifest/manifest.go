// Package manifest reads and writes a job's immutable manifest.json, the
// sibling of the job's mutable state files: the command to run, its
// classification, and its retry policy, fixed at creation and never
// rewritten afterward.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/samson-media/barn/internal/barnerr"
)

// LoadLevel is one of the three admission categories a job is classified
// into at creation time.
type LoadLevel string

const (
	LoadHigh   LoadLevel = "HIGH"
	LoadMedium LoadLevel = "MEDIUM"
	LoadLow    LoadLevel = "LOW"
)

// Manifest is the immutable description of a job, written once by
// JobRepository.create and read by every component that needs to know
// how to run or retry the job.
type Manifest struct {
	Command []string  `json:"command"`
	Tag     *string   `json:"tag,omitempty"`
	Load    LoadLevel `json:"load_level"`

	TimeoutSeconds int `json:"timeout_seconds"`

	MaxRetries             int     `json:"max_retries"`
	RetryDelaySeconds      int     `json:"retry_delay_seconds"`
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier"`
	RetryOnExitCodes       []int   `json:"retry_on_exit_codes"`
}

// Default retry policy values used when a caller does not specify one.
const (
	DefaultMaxRetries             = 0
	DefaultRetryDelaySeconds      = 5
	DefaultRetryBackoffMultiplier = 2.0
)

// Validate checks the manifest is well-formed enough to execute. It does
// not validate that Command's executable exists — that is the
// executor's concern at spawn time.
func (m *Manifest) Validate() error {
	if len(m.Command) == 0 || m.Command[0] == "" {
		return barnerr.InvalidArgument("manifest command must not be empty")
	}
	switch m.Load {
	case LoadHigh, LoadMedium, LoadLow:
	default:
		return barnerr.Corrupted("manifest load_level %q is not one of HIGH, MEDIUM, LOW", m.Load)
	}
	if m.MaxRetries < 0 {
		return barnerr.Corrupted("manifest max_retries %d must be >= 0", m.MaxRetries)
	}
	if m.RetryDelaySeconds < 0 {
		return barnerr.Corrupted("manifest retry_delay_seconds %d must be >= 0", m.RetryDelaySeconds)
	}
	if m.RetryBackoffMultiplier < 0 {
		return barnerr.Corrupted("manifest retry_backoff_multiplier %v must be >= 0", m.RetryBackoffMultiplier)
	}
	return nil
}

// RetryEligible reports whether exitCode is one the manifest allows a
// retry for. An empty RetryOnExitCodes means "retry on any exit code".
func (m *Manifest) RetryEligible(exitCode int) bool {
	if len(m.RetryOnExitCodes) == 0 {
		return true
	}
	for _, code := range m.RetryOnExitCodes {
		if code == exitCode {
			return true
		}
	}
	return false
}

// Write marshals m as indented JSON and atomically writes it to path.
// Manifests are written exactly once, at job creation, but Write goes
// through the same temp-file-then-rename discipline as every other
// on-disk artifact in case a caller needs to repair one.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return barnerr.Wrap(barnerr.KindInvalidArgument, err, "marshal manifest")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return barnerr.IoError(err, "create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-manifest-")
	if err != nil {
		return barnerr.IoError(err, "create temp manifest in %s", dir)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return barnerr.IoError(err, "write manifest %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return barnerr.IoError(err, "sync manifest %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return barnerr.IoError(err, "close manifest %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return barnerr.IoError(err, "rename manifest %s to %s", tmpPath, path)
	}
	success = true
	return nil
}

// Read loads and validates the manifest at path. Unknown JSON fields are
// ignored; a structurally invalid or semantically inconsistent manifest
// is reported as KindCorrupted: a manifest is never supposed to be
// hand-edited, so any parse or validation failure means on-disk
// corruption, not a user input error.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, barnerr.NotFound("manifest %s does not exist", path)
		}
		return nil, barnerr.IoError(err, "read manifest %s", path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, barnerr.Wrap(barnerr.KindCorrupted, err, "parse manifest %s", path)
	}
	if err := m.Validate(); err != nil {
		if barnerr.Is(err, barnerr.KindCorrupted) {
			return nil, err
		}
		return nil, barnerr.Wrap(barnerr.KindCorrupted, err, "invalid manifest %s", path)
	}
	return &m, nil
}

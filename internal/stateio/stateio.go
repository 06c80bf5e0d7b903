// Package stateio implements Barn's single-value state file contract:
// every write is atomic (temp file + rename), reads tolerate a missing
// file by returning "absent" rather than erroring, and values are
// plain UTF-8 text with no trailing whitespace. This is the write
// discipline every other component relies on for crash safety: create
// a temp file in the same directory, sync it, then rename it over the
// target so a reader never observes a partial write.
package stateio

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samson-media/barn/internal/barnerr"
)

// WriteString atomically writes value as the complete contents of path,
// with no trailing newline, creating path's parent directory if needed.
func WriteString(path string, value string) error {
	return atomicWrite(path, func(w io.Writer) error {
		_, err := io.WriteString(w, value)
		return err
	})
}

// ReadString reads path and returns its trimmed contents. ok is false
// (with a nil error) when the file does not exist; callers treat that
// as "absent" rather than an error.
func ReadString(path string) (value string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, barnerr.IoError(err, "read %s", path)
	}
	return strings.TrimRight(string(data), "\r\n \t"), true, nil
}

// Remove deletes path, tolerating it already being absent.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return barnerr.IoError(err, "remove %s", path)
	}
	return nil
}

// atomicWrite writes via a sibling temp file, fsyncs it, and renames it
// over path so concurrent readers only ever observe the old or the new
// complete content, never a partial write.
func atomicWrite(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return barnerr.IoError(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return barnerr.IoError(err, "create temp file in %s", dir)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return barnerr.IoError(err, "write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return barnerr.IoError(err, "sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return barnerr.IoError(err, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return barnerr.IoError(err, "rename %s to %s", tmpPath, path)
	}
	success = true
	return nil
}

// AppendJSONLine appends a single line of pre-marshaled JSON to path,
// creating it if needed. Used for append-only logs like retry_history
// and usage.csv rows, where a full atomic rewrite would be wasteful.
func AppendJSONLine(path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return barnerr.IoError(err, "create directory %s", dir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return barnerr.IoError(err, "open %s", path)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return barnerr.IoError(err, "append to %s", path)
	}
	return f.Sync()
}

// AppendLine appends a plain text line (without a trailing separator in
// the argument) to path.
func AppendLine(path, line string) error {
	return AppendJSONLine(path, []byte(line))
}

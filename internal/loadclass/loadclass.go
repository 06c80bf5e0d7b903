// Package loadclass classifies a command's executable into one of
// three admission categories (HIGH, MEDIUM, LOW) by matching it
// against gitignore-style whitelist files.
package loadclass

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/manifest"
)

// Whitelist holds the compiled patterns for one load category. Patterns
// containing a "/" (directory prefixes and exact absolute paths) are
// compiled into a go-gitignore matcher; bare names are kept separately
// so they can be matched case-insensitively against the executable's
// basename on platforms whose filesystem is itself case-insensitive.
type Whitelist struct {
	pathMatcher *ignore.GitIgnore
	bareNames   map[string]bool
}

// Classifier holds the three whitelists, checked in HIGH, MEDIUM, LOW
// order.
type Classifier struct {
	High   Whitelist
	Medium Whitelist
	Low    Whitelist
}

// caseFold lowercases basenames for comparison only on platforms whose
// default filesystem is case-insensitive.
func caseFold(s string) string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(s)
	}
	return s
}

// LoadWhitelistFile reads one whitelist file, tolerating it being
// absent (an absent file means "empty whitelist").
func LoadWhitelistFile(path string) (Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return compileWhitelist(nil), nil
		}
		return Whitelist{}, barnerr.IoError(err, "read whitelist %s", path)
	}
	lines := strings.Split(string(data), "\n")
	return compileWhitelist(lines), nil
}

func compileWhitelist(lines []string) Whitelist {
	var pathLines []string
	bareNames := map[string]bool{}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, "/") {
			pathLines = append(pathLines, trimmed)
			continue
		}
		bareNames[caseFold(trimmed)] = true
	}

	matcher := ignore.CompileIgnoreLines(pathLines...)
	return Whitelist{pathMatcher: matcher, bareNames: bareNames}
}

// Matches reports whether executableRef (the first token of a job's
// command) matches this whitelist: an absolute resolved path prefix
// match for directory-prefix patterns, an exact match for absolute-path
// patterns, or a case-folded basename match for bare-name patterns.
func (w Whitelist) Matches(executableRef string) bool {
	base := filepath.Base(executableRef)
	if w.bareNames[caseFold(base)] {
		return true
	}
	if w.pathMatcher == nil {
		return false
	}

	abs := executableRef
	if resolved, err := filepath.Abs(executableRef); err == nil {
		abs = resolved
	}
	return w.pathMatcher.MatchesPath(abs)
}

// NewClassifier compiles the HIGH, MEDIUM, LOW whitelist files found at
// the given paths.
func NewClassifier(highPath, mediumPath, lowPath string) (*Classifier, error) {
	high, err := LoadWhitelistFile(highPath)
	if err != nil {
		return nil, err
	}
	medium, err := LoadWhitelistFile(mediumPath)
	if err != nil {
		return nil, err
	}
	low, err := LoadWhitelistFile(lowPath)
	if err != nil {
		return nil, err
	}
	return &Classifier{High: high, Medium: medium, Low: low}, nil
}

// Classify returns the load level for command's executable reference
// (its first token). Falls through HIGH, MEDIUM, LOW in order; if none
// match, the default is MEDIUM.
func (c *Classifier) Classify(command []string) manifest.LoadLevel {
	if len(command) == 0 {
		return manifest.LoadMedium
	}
	ref := command[0]
	switch {
	case c.High.Matches(ref):
		return manifest.LoadHigh
	case c.Medium.Matches(ref):
		return manifest.LoadMedium
	case c.Low.Matches(ref):
		return manifest.LoadLow
	default:
		return manifest.LoadMedium
	}
}

// ReadLines is a small helper exposed for the daemon's dump-whitelists
// debug command. It returns the compiled bare-name entries only, in no
// defined order; path patterns are not included.
func (w Whitelist) ReadLines() []string {
	lines := make([]string, 0, len(w.bareNames))
	for name := range w.bareNames {
		lines = append(lines, name)
	}
	return lines
}

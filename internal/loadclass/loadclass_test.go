package loadclass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samson-media/barn/internal/manifest"
	"github.com/stretchr/testify/require"
)

func writeWhitelist(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClassifyBareNameMatch(t *testing.T) {
	dir := t.TempDir()
	high := writeWhitelist(t, dir, "high", "# comment\nffmpeg\n\n")
	medium := writeWhitelist(t, dir, "medium", "")
	low := writeWhitelist(t, dir, "low", "")

	c, err := NewClassifier(high, medium, low)
	require.NoError(t, err)

	require.Equal(t, manifest.LoadHigh, c.Classify([]string{"ffmpeg", "-i", "in.mp4"}))
	require.Equal(t, manifest.LoadHigh, c.Classify([]string{"/usr/bin/ffmpeg"}))
}

func TestClassifyDirectoryPrefixMatch(t *testing.T) {
	dir := t.TempDir()
	high := writeWhitelist(t, dir, "high", "")
	medium := writeWhitelist(t, dir, "medium", "/opt/heavy-jobs/")
	low := writeWhitelist(t, dir, "low", "")

	c, err := NewClassifier(high, medium, low)
	require.NoError(t, err)

	require.Equal(t, manifest.LoadMedium, c.Classify([]string{"/opt/heavy-jobs/run.sh"}))
}

func TestClassifyDefaultsToMedium(t *testing.T) {
	dir := t.TempDir()
	high := writeWhitelist(t, dir, "high", "")
	medium := writeWhitelist(t, dir, "medium", "")
	low := writeWhitelist(t, dir, "low", "")

	c, err := NewClassifier(high, medium, low)
	require.NoError(t, err)

	require.Equal(t, manifest.LoadMedium, c.Classify([]string{"unmatched-binary"}))
}

func TestMissingWhitelistFileMeansEmpty(t *testing.T) {
	dir := t.TempDir()
	c, err := NewClassifier(
		filepath.Join(dir, "does-not-exist-high"),
		filepath.Join(dir, "does-not-exist-medium"),
		filepath.Join(dir, "does-not-exist-low"),
	)
	require.NoError(t, err)
	require.Equal(t, manifest.LoadMedium, c.Classify([]string{"anything"}))
}

func TestHighTakesPrecedenceOverLow(t *testing.T) {
	dir := t.TempDir()
	high := writeWhitelist(t, dir, "high", "critical-job")
	medium := writeWhitelist(t, dir, "medium", "")
	low := writeWhitelist(t, dir, "low", "critical-job")

	c, err := NewClassifier(high, medium, low)
	require.NoError(t, err)
	require.Equal(t, manifest.LoadHigh, c.Classify([]string{"critical-job"}))
}

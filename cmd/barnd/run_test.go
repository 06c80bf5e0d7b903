package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveConfigAppliesFlagOverrides(t *testing.T) {
	orig := baseDirFlag
	origConfig := configDirFlag
	defer func() { baseDirFlag = orig; configDirFlag = origConfig }()

	baseDirFlag = "/tmp/barn-test-base"
	configDirFlag = "/tmp/barn-test-config"

	cfg := resolveConfig()
	require.Equal(t, "/tmp/barn-test-base", cfg.BaseDir)
	require.Equal(t, "/tmp/barn-test-config", cfg.ConfigDir)
}

func TestResolveConfigFallsBackToEnvDefaults(t *testing.T) {
	orig := baseDirFlag
	origConfig := configDirFlag
	defer func() { baseDirFlag = orig; configDirFlag = origConfig }()

	baseDirFlag = ""
	configDirFlag = ""

	cfg := resolveConfig()
	require.NotEmpty(t, cfg.BaseDir)
	require.NotEmpty(t, cfg.ConfigDir)
}

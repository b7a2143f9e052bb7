package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanlab/bulkscan/internal/config"
)

func TestBuildConfigDefaults(t *testing.T) {
	cfg, err := buildConfig(scanCmd)
	require.NoError(t, err)
	assert.Equal(t, config.Default().NumThreads, cfg.NumThreads)
	assert.Equal(t, config.Default().OutputDir, cfg.OutputDir)
	assert.Zero(t, cfg.SamplingFraction)
}

func TestBuildConfigFlagOverrides(t *testing.T) {
	require.NoError(t, scanCmd.Flags().Set("threads", "4"))
	require.NoError(t, scanCmd.Flags().Set("output", "/tmp/case-7"))
	scanFlags.sampling = "0.05:2"
	defer func() { scanFlags.sampling = "" }()

	cfg, err := buildConfig(scanCmd)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumThreads)
	assert.Equal(t, "/tmp/case-7", cfg.OutputDir)
	assert.Equal(t, 0.05, cfg.SamplingFraction)
	assert.Equal(t, 2, cfg.SamplingPasses)
}

func TestBuildConfigRejectsBadSampling(t *testing.T) {
	scanFlags.sampling = "0.9"
	defer func() { scanFlags.sampling = "" }()

	_, err := buildConfig(scanCmd)
	assert.Error(t, err)
}

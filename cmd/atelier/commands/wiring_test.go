package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowworks/atelier/config"
)

func TestBuildOrchestratorReturnsQueue(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = "http://127.0.0.1:8188"

	orchestrator, execQueue, err := buildOrchestrator(cfg)
	require.NoError(t, err)
	require.NotNil(t, orchestrator)
	require.NotNil(t, execQueue)

	// Fresh queue: no history until the orchestrator runs something.
	assert.Equal(t, int64(0), execQueue.GetStats().Total)
}

func TestPrintQueueReport(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = "http://127.0.0.1:8188"

	_, execQueue, err := buildOrchestrator(cfg)
	require.NoError(t, err)

	// No activity: nothing to report, must not panic.
	printQueueReport(execQueue)

	require.NoError(t, execQueue.Run(context.Background(), "render", func(ctx context.Context) error {
		return nil
	}))
	printQueueReport(execQueue)

	stats := execQueue.GetStats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
}

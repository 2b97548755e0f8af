package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowworks/atelier/errors"
	qt "github.com/glowworks/atelier/internal/testing"
	"github.com/glowworks/atelier/prompt"
	"github.com/glowworks/atelier/queue"
	"github.com/glowworks/atelier/render"
)

// flakyPrompts fails on selected calls to exercise per-item
// isolation.
type flakyPrompts struct {
	calls   int
	failOn  map[int]bool
	backing prompt.Generator
}

func (f *flakyPrompts) Generate(ctx context.Context, persona, refImage string) (prompt.Text, error) {
	f.calls++
	if f.failOn[f.calls] {
		return prompt.Text{}, errors.Newf("prompt generation exploded on call %d", f.calls)
	}
	return f.backing.Generate(ctx, persona, refImage)
}

// batchFixture assembles a batch over temp dirs with a scripted
// backend that completes every job.
func batchFixture(t *testing.T, prompts prompt.Generator) (*Batch, *Store, string, string, string) {
	t.Helper()

	root := t.TempDir()
	inputDir := filepath.Join(root, "input")
	processingDir := filepath.Join(root, "processing")
	archiveDir := filepath.Join(root, "archive")

	submits := 0
	backend := &fakeBackend{
		uploadFn: func(ctx context.Context, data []byte, name string) (string, error) {
			return "uploads/" + name, nil
		},
		submitFn: func(ctx context.Context, req render.Request) (string, error) {
			submits++
			return fmt.Sprintf("exec-%d", submits), nil
		},
		pollFn: func(ctx context.Context, executionID string) (*render.JobResult, error) {
			return &render.JobResult{
				ExecutionID: executionID,
				Status:      render.StatusCompleted,
				Outputs:     []render.OutputRef{{Filename: "out.png"}},
			}, nil
		},
		downloadFn: func(ctx context.Context, ref render.OutputRef) ([]byte, error) {
			return []byte("artifact-bytes"), nil
		},
	}

	store := NewStore(qt.CreateTestDB(t))
	orchestrator := NewOrchestrator(OrchestratorConfig{
		Backend:      backend,
		Queue:        queue.New(nil),
		PollInterval: time.Millisecond,
		MaxPollTime:  time.Second,
	})

	if prompts == nil {
		prompts = prompt.Static("a portrait", "blurry")
	}

	batch, err := NewBatch(BatchConfig{
		InputDir:      inputDir,
		ProcessingDir: processingDir,
		ArchiveDir:    archiveDir,
		Orchestrator:  orchestrator,
		Store:         store,
		Prompts:       prompts,
		Persona:       "Jennie",
		Workflow:      "turbo",
	})
	require.NoError(t, err)

	return batch, store, inputDir, processingDir, archiveDir
}

func dropFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fake-image-"+name), 0o644))
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBatchHappyPath(t *testing.T) {
	batch, store, inputDir, processingDir, archiveDir := batchFixture(t, nil)
	dropFiles(t, inputDir, "a.png", "b.jpg")

	result, err := batch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, "processed 2 of 2 successfully", result.String())

	assert.Empty(t, listDir(t, inputDir))
	assert.Empty(t, listDir(t, processingDir))
	// Each item leaves a claimed ref plus a result artifact.
	assert.Len(t, listDir(t, archiveDir), 4)

	pending, err := store.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	rec, err := store.GetByExecutionID("exec-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, RecordCompleted, rec.Status)
	assert.Contains(t, rec.ResultImagePath, "_result.png")
	assert.Contains(t, rec.ImageRefPath, archiveDir)
}

func TestBatchPerItemIsolation(t *testing.T) {
	prompts := &flakyPrompts{
		failOn:  map[int]bool{3: true},
		backing: prompt.Static("a portrait", ""),
	}
	batch, _, inputDir, processingDir, archiveDir := batchFixture(t, prompts)
	dropFiles(t, inputDir, "1.png", "2.png", "3.png", "4.png", "5.png")

	result, err := batch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "processed 4 of 5 successfully", result.String())

	// Every file sits in exactly one pipeline directory: the failed
	// item stays claimed in processing, the rest are archived.
	assert.Empty(t, listDir(t, inputDir))
	assert.Len(t, listDir(t, processingDir), 1)
	assert.Len(t, listDir(t, archiveDir), 8)
}

func TestBatchRenderFailureMarksRecordFailed(t *testing.T) {
	batch, store, inputDir, processingDir, _ := batchFixture(t, nil)

	// Rewire the backend so the job fails server-side after the
	// record is created.
	backend := batch.orchestrator.backend.(*fakeBackend)
	backend.pollFn = func(ctx context.Context, executionID string) (*render.JobResult, error) {
		return &render.JobResult{ExecutionID: executionID, Status: render.StatusFailed, Detail: "bad lora"}, nil
	}

	dropFiles(t, inputDir, "a.png")

	result, err := batch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	rec, err := store.GetByExecutionID("exec-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, RecordFailed, rec.Status)
	assert.Empty(t, rec.ResultImagePath)

	// The claimed file stays in processing for manual triage.
	assert.Len(t, listDir(t, processingDir), 1)
}

func TestClaimedNameFormat(t *testing.T) {
	batch, _, inputDir, processingDir, _ := batchFixture(t, nil)
	dropFiles(t, inputDir, "holiday photo.PNG")

	claimed, err := batch.claim("holiday photo.PNG")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ref_\d+_[0-9a-f]{8}\.png$`), claimed)

	files := listDir(t, processingDir)
	require.Len(t, files, 1)
	assert.Equal(t, claimed, files[0])
}

func TestBatchSkipsNonImages(t *testing.T) {
	batch, _, inputDir, _, _ := batchFixture(t, nil)
	dropFiles(t, inputDir, "notes.txt", "a.png")

	result, err := batch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	assert.Equal(t, []string{"notes.txt"}, listDir(t, inputDir))
}

func TestBatchEmptyInput(t *testing.T) {
	batch, _, _, _, _ := batchFixture(t, nil)

	result, err := batch.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Equal(t, "processed 0 of 0 successfully", result.String())
}

func TestRecoverOrphans(t *testing.T) {
	batch, _, inputDir, processingDir, _ := batchFixture(t, nil)
	dropFiles(t, processingDir, "ref_1700000000_deadbeef.png")

	recovered, err := batch.RecoverOrphans()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, []string{"ref_1700000000_deadbeef.png"}, listDir(t, inputDir))
	assert.Empty(t, listDir(t, processingDir))
}

func TestBatchObserverSeesLifecycle(t *testing.T) {
	batch, _, inputDir, _, _ := batchFixture(t, nil)

	var stages []Stage
	batch.observer = observerFunc(func(e ProgressEvent) {
		stages = append(stages, e.Stage)
	})

	dropFiles(t, inputDir, "a.png")
	_, err := batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageClaimed, StagePrompted, StageSubmitted, StageCompleted}, stages)
}

type observerFunc func(ProgressEvent)

func (f observerFunc) OnProgress(e ProgressEvent) { f(e) }

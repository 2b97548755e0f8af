package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
	"github.com/glowworks/atelier/prompt"
	"github.com/glowworks/atelier/render"
)

// imageExtensions are the file types the batch runner picks up.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// BatchConfig wires a batch runner.
type BatchConfig struct {
	InputDir      string
	ProcessingDir string
	ArchiveDir    string

	Orchestrator *Orchestrator
	Store        *Store
	Prompts      prompt.Generator
	Observer     Observer

	Persona  string
	Workflow string
	Logger   *zap.SugaredLogger
}

// Batch processes reference images from the input directory. A
// file's directory membership is its state: input (pending),
// processing (claimed), archive (terminal). Ownership moves by
// atomic rename, never copy+delete, so a crash leaves each file in
// exactly one valid location. Only one batch process may own a
// directory set at a time.
type Batch struct {
	inputDir      string
	processingDir string
	archiveDir    string

	orchestrator *Orchestrator
	store        *Store
	prompts      prompt.Generator
	observer     Observer

	persona  string
	workflow string
	logger   *zap.SugaredLogger
}

// BatchResult summarizes one pipeline run.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
}

// String renders the user-facing summary line.
func (r BatchResult) String() string {
	return fmt.Sprintf("processed %d of %d successfully", r.Succeeded, r.Total)
}

// NewBatch creates a batch runner and ensures the pipeline
// directories exist.
func NewBatch(config BatchConfig) (*Batch, error) {
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	observer := config.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	for _, dir := range []string{config.InputDir, config.ProcessingDir, config.ArchiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating pipeline directory %s", dir)
		}
	}

	return &Batch{
		inputDir:      config.InputDir,
		processingDir: config.ProcessingDir,
		archiveDir:    config.ArchiveDir,
		orchestrator:  config.Orchestrator,
		store:         config.Store,
		prompts:       config.Prompts,
		observer:      observer,
		persona:       config.Persona,
		workflow:      config.Workflow,
		logger:        log,
	}, nil
}

// Run processes every image currently in the input directory. A
// failing item is logged and left in place; it never aborts the
// batch.
func (b *Batch) Run(ctx context.Context) (BatchResult, error) {
	files, err := b.scanInput()
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Total: len(files)}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(err, "batch canceled")
		}

		if err := b.processOne(ctx, name); err != nil {
			result.Failed++
			b.logger.Errorw("pipeline item failed",
				logger.FieldFile, name,
				logger.FieldError, err,
			)
			b.observer.OnProgress(ProgressEvent{File: name, Stage: StageFailed, Err: err})
			continue
		}
		result.Succeeded++
	}

	b.logger.Infof("processed %d of %d successfully", result.Succeeded, result.Total)
	return result, nil
}

// scanInput lists image files in the input directory, oldest first
// by name for deterministic ordering.
func (b *Batch) scanInput() ([]string, error) {
	entries, err := os.ReadDir(b.inputDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading input directory %s", b.inputDir)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// processOne drives a single reference image through claim, prompt,
// upload, render, and archival.
func (b *Batch) processOne(ctx context.Context, name string) error {
	claimed, err := b.claim(name)
	if err != nil {
		return err
	}
	b.observer.OnProgress(ProgressEvent{File: claimed, Stage: StageClaimed})

	claimedPath := filepath.Join(b.processingDir, claimed)

	text, err := b.prompts.Generate(ctx, b.persona, claimed)
	if err != nil {
		return errors.Wrapf(err, "generating prompt for %s", claimed)
	}
	b.observer.OnProgress(ProgressEvent{File: claimed, Stage: StagePrompted})

	refData, err := os.ReadFile(claimedPath)
	if err != nil {
		return errors.Wrapf(err, "reading claimed file %s", claimedPath)
	}

	remoteRef, err := b.orchestrator.UploadRef(ctx, refData, claimed)
	if err != nil {
		return errors.Wrapf(err, "uploading reference image %s", claimed)
	}

	req := render.Request{
		Prompt:         text.Positive,
		NegativePrompt: text.Negative,
		Persona:        b.persona,
		Workflow:       b.workflow,
		RefImage:       remoteRef,
	}

	var executionID string
	result, renderErr := b.orchestrator.SubmitAndWait(ctx, req, func(id string) error {
		executionID = id
		b.observer.OnProgress(ProgressEvent{File: claimed, Stage: StageSubmitted, ExecutionID: id})
		return b.store.CreateRecord(&ExecutionLogRecord{
			ExecutionID:  id,
			Prompt:       text.Positive,
			Persona:      b.persona,
			ImageRefPath: claimedPath,
		})
	})
	if renderErr != nil {
		if executionID != "" {
			if logErr := b.store.Resolve(executionID, RecordFailed, ""); logErr != nil {
				b.logger.Errorw("failed to record terminal failure",
					logger.FieldExecutionID, executionID,
					logger.FieldError, logErr,
				)
			}
		}
		return renderErr
	}

	resultPath, err := b.writeArtifact(claimed, result.Data)
	if err != nil {
		if logErr := b.store.Resolve(result.ExecutionID, RecordFailed, ""); logErr != nil {
			b.logger.Errorw("failed to record terminal failure",
				logger.FieldExecutionID, result.ExecutionID,
				logger.FieldError, logErr,
			)
		}
		return err
	}

	// Retire the claimed reference image alongside its artifact.
	archivedRef := filepath.Join(b.archiveDir, claimed)
	if err := os.Rename(claimedPath, archivedRef); err != nil {
		return errors.Wrapf(err, "archiving reference image %s", claimed)
	}
	if err := b.store.UpdateRefPath(result.ExecutionID, archivedRef); err != nil {
		return err
	}

	if err := b.store.Resolve(result.ExecutionID, RecordCompleted, resultPath); err != nil {
		return err
	}

	b.observer.OnProgress(ProgressEvent{File: claimed, Stage: StageCompleted, ExecutionID: result.ExecutionID})
	return nil
}

// claim atomically moves a file from input to processing under a
// collision-proof name: ref_{unixtime}_{8hexchars}{ext}.
func (b *Batch) claim(name string) (string, error) {
	id := uuid.New()
	claimed := fmt.Sprintf("ref_%d_%s%s",
		time.Now().Unix(),
		hex.EncodeToString(id[:4]),
		strings.ToLower(filepath.Ext(name)),
	)

	src := filepath.Join(b.inputDir, name)
	dst := filepath.Join(b.processingDir, claimed)
	if err := os.Rename(src, dst); err != nil {
		return "", errors.Wrapf(err, "claiming %s", name)
	}

	b.logger.Debugw("claimed input file",
		logger.FieldFile, name,
		"claimed_as", claimed,
	)
	return claimed, nil
}

// writeArtifact stores the finished image in the archive directory.
func (b *Batch) writeArtifact(claimed string, data []byte) (string, error) {
	base := strings.TrimSuffix(claimed, filepath.Ext(claimed))
	path := filepath.Join(b.archiveDir, base+"_result.png")

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing artifact %s", path)
	}
	return path, nil
}

// RecoverOrphans returns files stranded in the processing directory
// by a previous crash back to the input directory so the next run
// re-claims them. Called before Run when the operator opts in.
func (b *Batch) RecoverOrphans() (int, error) {
	entries, err := os.ReadDir(b.processingDir)
	if err != nil {
		return 0, errors.Wrapf(err, "reading processing directory %s", b.processingDir)
	}

	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(b.processingDir, entry.Name())
		dst := filepath.Join(b.inputDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return recovered, errors.Wrapf(err, "recovering orphan %s", entry.Name())
		}
		b.logger.Warnw("recovered orphaned file from processing",
			logger.FieldFile, entry.Name(),
		)
		recovered++
	}
	return recovered, nil
}

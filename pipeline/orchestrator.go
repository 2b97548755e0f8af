package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
	"github.com/glowworks/atelier/queue"
	"github.com/glowworks/atelier/render"
)

// Backend is the render client surface the orchestrator drives.
type Backend interface {
	Submit(ctx context.Context, req render.Request) (string, error)
	PollStatus(ctx context.Context, executionID string) (*render.JobResult, error)
	Download(ctx context.Context, ref render.OutputRef) ([]byte, error)
	DownloadByExecution(ctx context.Context, executionID string) ([]byte, error)
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// Archiver persists finished artifacts to external storage.
type Archiver interface {
	Store(ctx context.Context, objectPath string, data []byte) error
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Backend Backend
	Queue   *queue.Queue
	// Archiver is optional; when set, finished artifacts are pushed
	// to external storage after post-processing.
	Archiver     Archiver
	Grain        GrainOptions
	PollInterval time.Duration
	MaxPollTime  time.Duration
	Logger       *zap.SugaredLogger
}

// Orchestrator drives one render request end to end: submit, poll
// until terminal, download, post-process, optionally archive. The
// whole submit+poll+download sequence runs under a single queue
// permit so no two backend calls from this process ever overlap.
type Orchestrator struct {
	backend      Backend
	queue        *queue.Queue
	archiver     Archiver
	grain        GrainOptions
	pollInterval time.Duration
	maxPollTime  time.Duration
	logger       *zap.SugaredLogger
}

// Result is a finished render.
type Result struct {
	ExecutionID string
	Data        []byte
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxPollTime == 0 {
		config.MaxPollTime = time.Hour
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Orchestrator{
		backend:      config.Backend,
		queue:        config.Queue,
		archiver:     config.Archiver,
		grain:        config.Grain,
		pollInterval: config.PollInterval,
		maxPollTime:  config.MaxPollTime,
		logger:       log,
	}
}

// SubmitAndWait runs one render to completion and returns the
// post-processed artifact bytes. onSubmitted, when non-nil, is called
// with the execution id as soon as the backend assigns it, while the
// job is still pending; an error from it aborts the run.
func (o *Orchestrator) SubmitAndWait(ctx context.Context, req render.Request, onSubmitted func(executionID string) error) (*Result, error) {
	var executionID string
	var artifact []byte

	description := fmt.Sprintf("render %s/%s", req.Persona, req.Workflow)
	err := o.queue.Run(ctx, description, func(ctx context.Context) error {
		var err error
		executionID, err = o.backend.Submit(ctx, req)
		if err != nil {
			return err
		}

		if onSubmitted != nil {
			if err := onSubmitted(executionID); err != nil {
				return errors.Wrapf(err, "submission hook failed for execution %s", executionID)
			}
		}

		result, err := o.pollUntilTerminal(ctx, executionID)
		if err != nil {
			return err
		}

		artifact, err = o.download(ctx, result)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Post-processing is pure CPU work, deliberately outside the
	// queue permit.
	processed, err := ApplyGrain(artifact, o.grain)
	if err != nil {
		return nil, errors.Wrapf(err, "post-processing execution %s", executionID)
	}

	if o.archiver != nil {
		if err := o.archive(ctx, req, executionID, processed); err != nil {
			return nil, err
		}
	}

	return &Result{ExecutionID: executionID, Data: processed}, nil
}

// UploadRef pushes a reference image to the backend ahead of
// generation. Uploads are network calls and therefore take their own
// queue permit.
func (o *Orchestrator) UploadRef(ctx context.Context, data []byte, name string) (string, error) {
	var remotePath string
	err := o.queue.Run(ctx, "upload "+name, func(ctx context.Context) error {
		var err error
		remotePath, err = o.backend.Upload(ctx, data, name)
		return err
	})
	return remotePath, err
}

// pollUntilTerminal polls the backend at the configured interval
// until the job reaches a terminal state or the wall-clock ceiling
// passes.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, executionID string) (*render.JobResult, error) {
	start := time.Now()

	for {
		result, err := o.backend.PollStatus(ctx, executionID)
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case render.StatusCompleted:
			return result, nil
		case render.StatusFailed:
			return nil, errors.Mark(
				errors.Newf("execution %s failed: %s", executionID, result.Detail),
				errors.ErrJobFailed)
		}

		elapsed := time.Since(start)
		if elapsed+o.pollInterval > o.maxPollTime {
			// Still queued or running past the ceiling: a timeout,
			// not a failure. The caller may resubmit.
			return nil, errors.Mark(
				errors.Newf("execution %s not terminal after %s (status %s)", executionID, elapsed.Round(time.Second), result.Status),
				errors.ErrPollTimeout)
		}

		o.logger.Debugw("execution not terminal yet",
			logger.FieldExecutionID, executionID,
			logger.FieldStatus, string(result.Status),
			logger.FieldDurationMS, elapsed.Milliseconds(),
		)

		select {
		case <-time.After(o.pollInterval):
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "canceled while polling execution %s", executionID)
		}
	}
}

// download fetches the artifact for a completed execution. When the
// history record carries no structured output reference, the direct
// download endpoint is tried before giving up.
func (o *Orchestrator) download(ctx context.Context, result *render.JobResult) ([]byte, error) {
	if len(result.Outputs) == 0 {
		data, err := o.backend.DownloadByExecution(ctx, result.ExecutionID)
		if err != nil {
			return nil, errors.Wrapf(err,
				"execution %s completed with an empty output list and direct download failed", result.ExecutionID)
		}
		o.logger.Warnw("history carried no output refs, used direct download",
			logger.FieldExecutionID, result.ExecutionID)
		return data, nil
	}

	return o.backend.Download(ctx, result.Outputs[0])
}

// archive pushes the artifact to external storage. Missing
// correlation metadata fails loudly: silent data loss on the
// archival path is a bug class, not a degraded mode.
func (o *Orchestrator) archive(ctx context.Context, req render.Request, executionID string, data []byte) error {
	if executionID == "" {
		return errors.New("refusing to archive artifact without an execution id")
	}
	if req.Persona == "" {
		return errors.Newf("refusing to archive execution %s without a persona", executionID)
	}

	objectPath := fmt.Sprintf("%s/%s.png", req.Persona, executionID)
	if err := o.archiver.Store(ctx, objectPath, data); err != nil {
		return errors.Wrapf(err, "archiving execution %s", executionID)
	}

	o.logger.Infow("artifact archived",
		logger.FieldExecutionID, executionID,
		logger.FieldFile, objectPath,
		logger.FieldBytes, len(data),
	)
	return nil
}

package commands

import (
	"database/sql"
	"time"

	"github.com/pterm/pterm"

	"github.com/glowworks/atelier/archive"
	"github.com/glowworks/atelier/config"
	"github.com/glowworks/atelier/db"
	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
	"github.com/glowworks/atelier/pipeline"
	"github.com/glowworks/atelier/queue"
	"github.com/glowworks/atelier/render"
)

// buildOrchestrator assembles the render stack from configuration:
// client, execution queue, optional archiver, and orchestrator. The
// queue is returned alongside so commands can report its stats and
// history after a run.
func buildOrchestrator(cfg *config.Config) (*pipeline.Orchestrator, *queue.Queue, error) {
	backoff := render.NewBackoff()
	if cfg.Backend.BaseDelaySeconds > 0 {
		backoff.Base = time.Duration(cfg.Backend.BaseDelaySeconds * float64(time.Second))
	}
	if cfg.Backend.MaxDelaySeconds > 0 {
		backoff.Max = time.Duration(cfg.Backend.MaxDelaySeconds * float64(time.Second))
	}

	client := render.NewClient(render.Config{
		BaseURL:           cfg.Backend.BaseURL,
		ClientID:          cfg.Backend.ClientID,
		Timeout:           time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		MaxRetries:        cfg.Backend.MaxRetries,
		Backoff:           backoff,
		RequestsPerMinute: cfg.Backend.RequestsPerMinute,
		Logger:            logger.Logger,
	})

	var archiver pipeline.Archiver
	if cfg.Archive.Enabled {
		uploader, err := archive.NewUploader(archive.Config{
			BaseURL:     cfg.Archive.BaseURL,
			Bucket:      cfg.Archive.Bucket,
			BearerToken: cfg.Archive.BearerToken,
			Logger:      logger.Logger,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "configuring archive uploader")
		}
		archiver = uploader
	}

	execQueue := queue.New(logger.Logger)

	return pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Backend:  client,
		Queue:    execQueue,
		Archiver: archiver,
		Grain: pipeline.GrainOptions{
			Strength: cfg.Pipeline.GrainStrength,
			Seed:     cfg.Pipeline.GrainSeed,
		},
		PollInterval: time.Duration(cfg.Backend.PollIntervalSeconds) * time.Second,
		MaxPollTime:  time.Duration(cfg.Backend.MaxPollTimeSeconds) * time.Second,
		Logger:       logger.Logger,
	}), execQueue, nil
}

// printQueueReport summarizes queue activity after a run: lifetime
// counters always, per-request history at debug verbosity.
func printQueueReport(execQueue *queue.Queue) {
	stats := execQueue.GetStats()
	if stats.Total == 0 {
		return
	}
	pterm.Info.Printfln("queue: %d total, %d completed, %d failed, %d timed out, avg wait %.0fms, avg exec %.0fms",
		stats.Total, stats.Completed, stats.Failed, stats.TimedOut, stats.AvgWaitMS, stats.AvgExecMS)

	for _, req := range execQueue.Snapshot() {
		line := req.Description
		if req.CorrelationID != "" {
			line += " (" + req.CorrelationID + ")"
		}
		pterm.Debug.Printfln("  %s: %s, wait %dms, exec %dms",
			line, req.Status, req.WaitDuration().Milliseconds(), req.ExecDuration().Milliseconds())
	}
}

// openDatabase opens the execution log with migrations applied.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	return db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
}

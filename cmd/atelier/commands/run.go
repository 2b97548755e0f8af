package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/glowworks/atelier/config"
	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
	"github.com/glowworks/atelier/pipeline"
	"github.com/glowworks/atelier/prompt"
)

// RunCmd processes the input directory through the full pipeline.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process reference images through the render pipeline",
	Long: `Process every image in the input directory: claim it into
processing, generate a prompt, render it through the backend, apply
the grain post-process, and archive the result.

Examples:
  atelier run                     # One pass over the input directory
  atelier run --watch             # Keep running, picking up new files
  atelier run --recover           # Re-queue files stranded in processing
  atelier run --persona Jennie    # Override the configured persona`,
	RunE: runPipeline,
}

var (
	watchFlag   bool
	recoverFlag bool
	personaFlag string
	workflowFlag string
)

func init() {
	RunCmd.Flags().BoolVar(&watchFlag, "watch", false, "Watch the input directory and process new files as they arrive")
	RunCmd.Flags().BoolVar(&recoverFlag, "recover", false, "Return files stranded in processing/ to input/ before running")
	RunCmd.Flags().StringVar(&personaFlag, "persona", "", "Persona to render (defaults to configuration)")
	RunCmd.Flags().StringVar(&workflowFlag, "workflow", "base", "Workflow variant to submit")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	persona := personaFlag
	if persona == "" {
		persona = cfg.Prompt.DefaultPersona
	}
	if persona == "" {
		return errors.New("no persona configured: set prompt.default_persona or pass --persona")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	orchestrator, execQueue, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	generator, err := buildPromptGenerator(cfg)
	if err != nil {
		return err
	}

	batch, err := pipeline.NewBatch(pipeline.BatchConfig{
		InputDir:      cfg.Pipeline.InputDir,
		ProcessingDir: cfg.Pipeline.ProcessedDir,
		ArchiveDir:    cfg.Pipeline.OutputDir,
		Orchestrator:  orchestrator,
		Store:         pipeline.NewStore(database),
		Prompts:       generator,
		Observer:      termObserver{},
		Persona:       persona,
		Workflow:      workflowFlag,
		Logger:        logger.Logger,
	})
	if err != nil {
		return err
	}

	if recoverFlag {
		recovered, err := batch.RecoverOrphans()
		if err != nil {
			return err
		}
		if recovered > 0 {
			pterm.Info.Printfln("recovered %d orphaned file(s) from processing", recovered)
		}
	}

	if watchFlag {
		pterm.Info.Printfln("watching %s for new files (ctrl-c to stop)", cfg.Pipeline.InputDir)
		return batch.Watch(cmd.Context())
	}

	result, err := batch.Run(cmd.Context())
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		pterm.Warning.Printfln("%s (%d failed, left in place for triage)", result.String(), result.Failed)
	} else {
		pterm.Success.Printfln("%s", result.String())
	}
	printQueueReport(execQueue)
	return nil
}

// buildPromptGenerator loads persona templates from the configured
// directory, falling back to the built-in defaults.
func buildPromptGenerator(cfg *config.Config) (prompt.Generator, error) {
	templates := prompt.DefaultTemplates
	if cfg.Prompt.TemplateDir != "" {
		loaded, err := prompt.LoadTemplates(cfg.Prompt.TemplateDir)
		if err != nil {
			return nil, err
		}
		templates = loaded
	}
	return prompt.NewTemplateGenerator(templates, cfg.Prompt.NegativePrompt, 0), nil
}

// termObserver renders per-item progress to the terminal.
type termObserver struct{}

func (termObserver) OnProgress(event pipeline.ProgressEvent) {
	switch event.Stage {
	case pipeline.StageClaimed:
		pterm.Debug.Printfln("claimed %s", event.File)
	case pipeline.StageSubmitted:
		pterm.Info.Printfln("%s submitted as %s", event.File, event.ExecutionID)
	case pipeline.StageCompleted:
		pterm.Success.Printfln("%s completed (%s)", event.File, event.ExecutionID)
	case pipeline.StageFailed:
		pterm.Error.Printfln("%s failed: %v", event.File, event.Err)
	}
}

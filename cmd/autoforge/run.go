package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autoforge-dev/autoforge/internal/config"
	"github.com/autoforge-dev/autoforge/internal/console"
	"github.com/autoforge-dev/autoforge/internal/engine"
	"github.com/autoforge-dev/autoforge/internal/llm"
	"github.com/autoforge-dev/autoforge/internal/logging"
	"github.com/autoforge-dev/autoforge/internal/prompt"
	"github.com/autoforge-dev/autoforge/internal/runner"
	"github.com/autoforge-dev/autoforge/internal/store"
	"github.com/autoforge-dev/autoforge/internal/task"
	"github.com/autoforge-dev/autoforge/internal/tree"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type runFlags struct {
	planPath       string
	definitionPath string
	inputPath      string
	plain          bool
	keepEnv        bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task plan in a fresh workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.planPath, "plan", "", "task plan document (JSON or YAML)")
	cmd.Flags().StringVar(&flags.definitionPath, "definition", "", "project definition JSON for prompts")
	cmd.Flags().StringVar(&flags.inputPath, "input", "", "file with the user's original request, archived in the workspace")
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "force line-oriented prompts instead of the interactive gate")
	cmd.Flags().BoolVar(&flags.keepEnv, "keep-env", false, "keep the run's virtual environment after the run ends")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func runPlan(cmd *cobra.Command, flags runFlags) error {
	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Verbose = true
	}

	plan, err := task.LoadPlan(flags.planPath)
	if err != nil {
		return err
	}

	ws, err := store.Init(cfg.WorkspaceRoot, nil)
	if err != nil {
		return err
	}
	logRun, err := logging.New(ws.RunLogPath(), logging.Options{Verbose: cfg.Verbose})
	if err != nil {
		return err
	}
	defer logRun.Close()
	log := logRun.Logger

	if err := archiveInputs(ws, plan, flags); err != nil {
		return err
	}

	lib, err := prompt.NewLibrary(cfg.PromptDir)
	if err != nil {
		return err
	}
	generator, err := llm.NewClient(ctx, llm.Config{
		Provider:   cfg.Generator.Provider,
		APIKey:     cfg.Generator.APIKey,
		Model:      cfg.Generator.Model,
		MaxRetries: cfg.Generator.MaxRetries,
	}, log)
	if err != nil {
		return err
	}

	env := runner.NewEnv(ws.Root(), runner.NewExecRunner(log), log)
	env.PythonBin = cfg.PythonBin
	log.Info("creating virtual environment", "python", cfg.PythonBin)
	if err := env.Setup(ctx, cfg.CommandTimeout); err != nil {
		return err
	}
	if !flags.keepEnv {
		defer func() {
			if err := env.Remove(); err != nil {
				log.Warn("could not remove virtual environment", "error", err)
			}
		}()
	}

	eng := &engine.Engine{
		Plan:           plan,
		Store:          ws,
		Builder:        tree.NewBuilder(log),
		Generator:      generator,
		Prompts:        lib,
		Env:            env,
		Prompter:       pickPrompter(flags.plain),
		Log:            log,
		MaxAttempts:    cfg.MaxAttempts,
		CommandTimeout: cfg.CommandTimeout,
	}

	report, err := eng.Run(ctx)
	if report != nil {
		printReport(ws, report)
	}
	if err != nil {
		return err
	}
	if err := ws.WriteManifest(); err != nil {
		log.Warn("could not write archive manifest", "error", err)
	}
	if !report.Done() && len(report.Completed) == 0 {
		return fmt.Errorf("no tasks completed")
	}
	return nil
}

// archiveInputs persists the plan, definition, and raw request into the
// workspace so a finished run is self-describing.
func archiveInputs(ws *store.Workspace, plan *task.Plan, flags runFlags) error {
	steps := make([]task.Task, 0, len(plan.Tasks))
	for _, id := range plan.IDs() {
		steps = append(steps, plan.Tasks[id])
	}
	planDoc, err := json.MarshalIndent(struct {
		Steps []task.Task `json:"steps"`
	}{Steps: steps}, "", "  ")
	if err != nil {
		return err
	}
	if err := ws.SavePlan(planDoc); err != nil {
		return err
	}
	if flags.definitionPath != "" {
		data, err := os.ReadFile(flags.definitionPath)
		if err != nil {
			return fmt.Errorf("read definition: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("definition %s is not valid JSON", flags.definitionPath)
		}
		if err := ws.SaveDefinition(data); err != nil {
			return err
		}
	}
	if flags.inputPath != "" {
		data, err := os.ReadFile(flags.inputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if err := ws.SaveRawInput(string(data)); err != nil {
			return err
		}
	}
	return nil
}

// pickPrompter chooses the interactive gate when stdin is a terminal and
// the plain fallback otherwise.
func pickPrompter(forcePlain bool) console.Prompter {
	if forcePlain || !term.IsTerminal(int(os.Stdin.Fd())) {
		return console.NewStdPrompter(nil, nil)
	}
	return console.TeaPrompter{}
}

func printReport(ws *store.Workspace, report *engine.Report) {
	switch {
	case report.Done():
		fmt.Println(okStyle.Render(fmt.Sprintf("All %d tasks completed.", report.Total)))
		fmt.Printf("Final artifact: %s\n", ws.LatestPath())
	case len(report.Completed) > 0:
		fmt.Println(failStyle.Render(fmt.Sprintf("Run ended early: %d of %d tasks completed.", len(report.Completed), report.Total)))
		fmt.Printf("Partial artifact: %s\n", ws.LatestPath())
	default:
		fmt.Println(failStyle.Render("Run ended with no completed tasks."))
	}
	if report.MainExecutable != "" {
		fmt.Printf("Suggested entry point: %s\n", report.MainExecutable)
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/agentflow/pkg/checkpoint"
	"github.com/ormasoftchile/agentflow/pkg/config"
	"github.com/ormasoftchile/agentflow/pkg/inject"
	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/runtime"
	"github.com/ormasoftchile/agentflow/pkg/schema"
	"github.com/ormasoftchile/agentflow/pkg/tui"
)

// Version is set at build time via ldflags.
var version = "dev"

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are KEY=VALUE
// (or KEY="VALUE"). Comments (#) and blanks are skipped.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "agentflow",
	Short:         "Multi-phase LLM workflow orchestrator",
	Long:          "agentflow executes declarative flow plans: interactive, generative, and script steps with checkpointed resume.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var (
	flagProject string
	flagDryRun  bool
	flagMock    bool
	flagResume  bool
	flagFresh   bool
	flagVars    []string
	flagBackend string
	flagCLI     string
	flagLookup  string
	flagModel   string
	flagURL     string
)

var runCmd = &cobra.Command{
	Use:   "run <flow.yaml>",
	Short: "Execute a flow plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <flow.yaml>",
	Short: "Validate a flow plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var statusCmd = &cobra.Command{
	Use:   "status <flow.yaml>",
	Short: "Show checkpoint progress for a flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch <flow.yaml>",
	Short: "Live TUI view of a running flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the flow plan JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentflow %s\n", version)
	},
}

func init() {
	runCmd.Flags().StringVarP(&flagProject, "project", "p", "", "project directory (defaults to the plan's directory)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "record intended prompts without calling a backend")
	runCmd.Flags().BoolVar(&flagMock, "mock", false, "use the mock backend (canned responses)")
	runCmd.Flags().BoolVar(&flagResume, "resume", false, "continue from the existing checkpoint")
	runCmd.Flags().BoolVar(&flagFresh, "fresh", false, "discard the existing checkpoint and start over")
	runCmd.Flags().StringArrayVar(&flagVars, "var", nil, "config override key=value (repeatable)")
	runCmd.Flags().StringVar(&flagBackend, "backend", "", "backend: cli or http (default from the plan)")
	runCmd.Flags().StringVar(&flagCLI, "cli", "", "agent CLI argv for the cli backend, e.g. \"claude -p\"")
	runCmd.Flags().StringVar(&flagLookup, "lookup-args", "", "extra CLI args appended for lookup-enabled steps")
	runCmd.Flags().StringVar(&flagModel, "model", "", "model name for the http backend")
	runCmd.Flags().StringVar(&flagURL, "endpoint", "", "endpoint URL for the http backend")

	statusCmd.Flags().StringVarP(&flagProject, "project", "p", "", "project directory")
	watchCmd.Flags().StringVarP(&flagProject, "project", "p", "", "project directory")

	rootCmd.AddCommand(runCmd, validateCmd, statusCmd, watchCmd, schemaCmd, versionCmd)
}

func loadPlan(path string) (*schema.Flow, string, error) {
	fl, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return nil, "", fmt.Errorf("%s is not a valid flow plan", path)
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e.Error())
	}
	project := flagProject
	if project == "" {
		project = filepath.Dir(path)
	}
	return fl, project, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	fl, errs := schema.ValidateFile(args[0])
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	if schema.HasErrors(errs) {
		return fmt.Errorf("%s is not valid", args[0])
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", fl.Name, len(fl.Steps))
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	fl, project, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	if flagFresh {
		if err := os.Remove(checkpoint.Path(project, fl.Name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("discard checkpoint: %w", err)
		}
	} else if !flagResume {
		// A prior checkpoint is never overwritten silently.
		prior, err := checkpoint.Load(project, fl.Name)
		if err != nil {
			return err
		}
		if prior != nil && len(prior.CompletedSteps)+len(prior.SkippedSteps) > 0 {
			return fmt.Errorf("flow %s has checkpointed progress; pass --resume to continue or --fresh to start over", fl.Name)
		}
	}

	vars, err := parseVars(flagVars)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewStore(project, fl.Name)
	if err != nil {
		return err
	}
	timeline, err := runtime.NewTimeline(os.Stdout, filepath.Join(project, "timeline.log"))
	if err != nil {
		return err
	}
	defer timeline.Close()

	runID := runtime.NewRunID()
	exchanges, err := providers.NewExchangeLog(filepath.Join(project, "_runs", runID, "exchanges"))
	if err != nil {
		return err
	}

	backend, err := buildBackend(fl, project, runID, timeline)
	if err != nil {
		return err
	}

	configFile := fl.ConfigFile
	if configFile == "" {
		configFile = schema.DefaultConfigFile
	}
	rc := &runtime.RunContext{
		ProjectDir: project,
		RunID:      runID,
		Flow:       fl,
		Backend:    backend,
		Checkpoint: store,
		Config:     config.NewStore(project, configFile),
		Resolver:   inject.NewResolver(project, timeline.Warn),
		Timeline:   timeline,
		Prompter:   runtime.ReadlinePrompter{},
		Exchanges:  exchanges,
		Vars:       vars,
	}

	timeline.Info("run %s: flow %s with %s backend", runID, fl.Name, backend.Name())
	out, err := runtime.NewEngine(rc).Run(cmd.Context())
	if err != nil {
		timeline.StepFail(fl.Name, err.Error())
		return err
	}

	switch out.Status {
	case runtime.OutcomeCancelled:
		timeline.Info("run cancelled; progress is checkpointed")
	case runtime.OutcomePaused:
		timeline.Warn("run paused: %s", out.Reason)
		timeline.Info("resolve the blocker and re-run to continue")
	default:
		timeline.Info("flow %s completed", fl.Name)
	}
	return nil
}

// buildBackend picks the backend from flags, falling back to the plan
// default. Dry-run and mock override everything.
func buildBackend(fl *schema.Flow, project, runID string, timeline *runtime.Timeline) (providers.Backend, error) {
	if flagDryRun {
		return &providers.DryRunBackend{}, nil
	}
	if flagMock {
		return &providers.MockBackend{}, nil
	}

	kind := flagBackend
	if kind == "" && fl.Defaults != nil {
		kind = fl.Defaults.Backend
	}
	if kind == "" {
		kind = "cli"
	}

	switch kind {
	case "cli":
		argvStr := flagCLI
		if argvStr == "" {
			argvStr = os.Getenv("AGENTFLOW_CLI")
		}
		if argvStr == "" {
			return nil, fmt.Errorf("cli backend needs --cli or AGENTFLOW_CLI")
		}
		return &providers.CLIBackend{
			Argv:       strings.Fields(argvStr),
			Dir:        project,
			LogDir:     filepath.Join(project, "_runs", runID, "cli"),
			LookupArgs: strings.Fields(flagLookup),
			Progress:   timeline.Info,
		}, nil
	case "http":
		endpoint := flagURL
		if endpoint == "" {
			endpoint = os.Getenv("AGENTFLOW_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("http backend needs --endpoint or AGENTFLOW_ENDPOINT")
		}
		key := os.Getenv("AGENTFLOW_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("http backend needs AGENTFLOW_API_KEY")
		}
		return &providers.HTTPBackend{
			Endpoint: endpoint,
			Model:    flagModel,
			APIKey:   key,
		}, nil
	case "mock":
		return &providers.MockBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	fl, project, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	cp, err := checkpoint.Load(project, fl.Name)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Printf("flow %s has not been run in %s\n", fl.Name, project)
		return nil
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"flow":            cp.Flow,
		"status":          cp.Status,
		"completed_steps": cp.CompletedSteps,
		"skipped_steps":   cp.SkippedSteps,
		"current_step":    cp.CurrentStep,
		"total_steps":     len(fl.Steps),
		"updated_at":      cp.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	fl, project, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	p := tea.NewProgram(tui.NewModel(project, fl), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func parseVars(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("bad --var %q, want key=value", p)
		}
		switch v {
		case "true":
			vars[k] = true
		case "false":
			vars[k] = false
		default:
			vars[k] = v
		}
	}
	return vars, nil
}

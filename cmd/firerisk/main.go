package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"firerisk/internal/config"
	"firerisk/internal/export"
	"firerisk/internal/pipeline"
	"firerisk/internal/store"
	"firerisk/internal/telemetry"
	"firerisk/internal/workspace"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{
		name:  "init",
		short: "Create a new workspace",
		usage: "firerisk init <dir> [--defaults]",
		long: `Create a firerisk workspace in <dir>.

Prompts for the planning horizon, the initial price, the number of plans and
the discount rate, then writes forest.yaml and optimizer.yaml. With
--defaults the prompts are skipped. Add stands.yaml and the optimizer output
before running.

Errors if <dir> already holds a workspace.
`,
		run: runInit,
	},
	{
		name:  "validate",
		short: "Check a workspace's configuration and stand catalog",
		usage: "firerisk validate <dir>",
		long: `Load forest.yaml, optimizer.yaml and stands.yaml and report every
configuration error without running anything.
`,
		run: runValidate,
	},
	{
		name:  "fuels",
		short: "Rasterize fuel maps for every plan and period",
		usage: "firerisk fuels <dir>",
		long: `Rebuild scenarios/<scenario>/fuels/fuels_plan_<s>_period_<t>.tif from the
optimizer output of both scenarios using the configured rasterize command.
`,
		run: runFuels,
	},
	{
		name:  "run",
		short: "Evaluate both scenarios and pick the best plan",
		usage: "firerisk run <dir>",
		long: `Simulate fire over every plan of both scenarios, price the surviving
biomass and select the best plan.

Results are written to results/<run-id>/ and recorded in firerisk.db.
Set FIRERISK_OTEL_ENDPOINT to export traces.
`,
		run: runRun,
	},
	{
		name:  "report",
		short: "List runs or show one run's summary",
		usage: "firerisk report <dir> [run-id]",
		long: `Without a run ID, list every recorded run, newest first. With a run ID,
print that run's index page and plan values.
`,
		run: runReport,
	},
	{
		name:  "clean",
		short: "Delete the results of a run",
		usage: "firerisk clean <dir> <run-id>",
		long:  "Remove results/<run-id>/ from the workspace. Run history is kept.\n",
		run:   runClean,
	},
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "firerisk: fire-risk-adjusted forest plan evaluation\n\n")
	fmt.Fprintf(w, "Usage:\n  firerisk <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'firerisk help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "firerisk: unknown command %q\n\nRun 'firerisk help' for usage.\n", name)
}

// suggest returns the command name closest to name, or "" when none is close.
func suggest(name string) string {
	best, bestDist := "", 0
	for _, cmd := range commands {
		dist := levenshtein.ComputeDistance(name, cmd.name)
		if dist > distanceLimit(len(cmd.name)) {
			continue
		}
		if best == "" || dist < bestDist {
			best, bestDist = cmd.name, dist
		}
	}
	return best
}

func distanceLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(os.Stdout)
		return nil
	}
	if args[0] == "help" {
		if len(args) >= 2 {
			printCommandHelp(os.Stdout, args[1])
		} else {
			printUsage(os.Stdout)
		}
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	if s := suggest(args[0]); s != "" {
		return fmt.Errorf("unknown command %q, did you mean %q?\n\nRun 'firerisk help' for usage.", args[0], s)
	}
	return fmt.Errorf("unknown command %q\n\nRun 'firerisk help' for usage.", args[0])
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

// openWorkspace opens dir and loads its configuration.
func openWorkspace(dir string) (*workspace.Workspace, config.Config, error) {
	ws, err := workspace.Open(dir)
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := ws.LoadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	return ws, cfg, nil
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func runInit(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: firerisk init <dir> [--defaults]")
	}
	dir := args[0]
	answers := map[string]string{}
	if len(args) < 2 || args[1] != "--defaults" {
		var err error
		answers, err = promptQuestions(config.Questions())
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
	}
	cfg, err := config.FromAnswers(answers)
	if err != nil {
		return err
	}
	if _, err := workspace.Init(dir, cfg); err != nil {
		return err
	}
	abs, _ := filepath.Abs(dir)
	fmt.Printf("created workspace at %s\n", abs)
	return nil
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func runValidate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: firerisk validate <dir>")
	}
	ws, cfg, err := openWorkspace(args[0])
	if err != nil {
		return err
	}
	catalog, err := ws.LoadCatalog(cfg.Forest)
	if err != nil {
		return err
	}
	fmt.Printf("ok: horizon %d, %d policies, %d stands, %d plans\n",
		cfg.Forest.Horizon, len(cfg.Forest.Policies), catalog.Len(), cfg.Optimizer.Plans)
	return nil
}

// ---------------------------------------------------------------------------
// fuels
// ---------------------------------------------------------------------------

func runFuels(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: firerisk fuels <dir>")
	}
	ws, cfg, err := openWorkspace(args[0])
	if err != nil {
		return err
	}
	deps := pipeline.FromConfig(cfg, ws, newLogger())
	return pipeline.CreateFuels(ctx, deps, ws, cfg)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runRun(ctx context.Context, args []string) (err error) {
	if len(args) < 1 {
		return fmt.Errorf("usage: firerisk run <dir>")
	}
	ws, cfg, err := openWorkspace(args[0])
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Runtime.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdown(context.Background()))
	}()

	db, err := store.Open(ctx, ws.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	deps := pipeline.FromConfig(cfg, ws, newLogger())
	deps.Store = db
	rep, err := pipeline.Run(ctx, deps, ws, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("run %s\n", rep.Run)
	for _, sc := range rep.Selection.Scenarios {
		fmt.Printf("  %-18s best plan %d, value %.2f\n", sc.Name.Label(), sc.Best.Ordinal(), sc.Value)
	}
	fmt.Printf("best: %s\n", rep.Selection.Choice)
	fmt.Printf("results → %s\n", rep.ResultsDir)
	return nil
}

// ---------------------------------------------------------------------------
// report
// ---------------------------------------------------------------------------

func runReport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: firerisk report <dir> [run-id]")
	}
	ws, err := workspace.Open(args[0])
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, ws.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) < 2 {
		runs, err := db.ListRuns(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  %s plan %d  %.2f\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Scenario, r.Plan, r.Value)
		}
		return nil
	}

	id := args[1]
	if _, err := db.GetRun(ctx, id); err != nil {
		return err
	}
	_, body, err := export.ReadPage(filepath.Join(ws.ResultsDir(id), "index.md"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(body) > 0 {
		fmt.Printf("%s\n", body)
	}
	values, err := db.PlanValues(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println("## Plan values")
	fmt.Println()
	for _, v := range values {
		fmt.Printf("- %s plan %d: %.2f (discounted %.2f, %d gap cells)\n",
			v.Scenario, v.Plan, v.Value, v.DiscountedValue, v.GapCells)
	}
	return nil
}

// ---------------------------------------------------------------------------
// clean
// ---------------------------------------------------------------------------

func runClean(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: firerisk clean <dir> <run-id>")
	}
	ws, err := workspace.Open(args[0])
	if err != nil {
		return err
	}
	if err := ws.RemoveRun(args[1]); err != nil {
		return err
	}
	fmt.Printf("removed results of run %s\n", args[1])
	return nil
}

// ---------------------------------------------------------------------------
// TUI prompt helpers
// ---------------------------------------------------------------------------

// promptModel is a bubbletea model that asks one question at a time.
type promptModel struct {
	questions []config.Question
	idx       int
	inputs    []textinput.Model
	done      bool
}

func newPromptModel(questions []config.Question) promptModel {
	inputs := make([]textinput.Model, len(questions))
	for i, q := range questions {
		ti := textinput.New()
		ti.Placeholder = q.Default
		ti.CharLimit = 64
		inputs[i] = ti
	}
	m := promptModel{
		questions: questions,
		inputs:    inputs,
	}
	if len(inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.idx < len(m.inputs)-1 {
				m.inputs[m.idx].Blur()
				m.idx++
				m.inputs[m.idx].Focus()
				return m, textinput.Blink
			}
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.inputs[m.idx], cmd = m.inputs[m.idx].Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || len(m.questions) == 0 {
		return ""
	}
	q := m.questions[m.idx]
	return fmt.Sprintf("%s [%s]: %s\n", q.Prompt, q.Default, m.inputs[m.idx].View())
}

// answers returns the typed values keyed by Question.Key. Blank answers are
// left out so that the defaults apply.
func (m promptModel) answers() map[string]string {
	out := make(map[string]string, len(m.questions))
	for i, q := range m.questions {
		if v := m.inputs[i].Value(); v != "" {
			out[q.Key] = v
		}
	}
	return out
}

// promptQuestions runs the TUI and returns answers keyed by Question.Key.
func promptQuestions(questions []config.Question) (map[string]string, error) {
	if len(questions) == 0 {
		return map[string]string{}, nil
	}
	p := tea.NewProgram(newPromptModel(questions))
	result, err := p.Run()
	if err != nil {
		return nil, err
	}
	final, ok := result.(promptModel)
	if !ok || !final.done {
		return nil, fmt.Errorf("prompt cancelled")
	}
	return final.answers(), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := dispatch(ctx, os.Args[1:]); err != nil {
		stop()
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"firerisk/internal/config"
)

// helpText calls the help function and returns the output as a string.
func helpText() string {
	var sb strings.Builder
	printUsage(&sb)
	return sb.String()
}

// longHelpText returns the long help for a named command.
func longHelpText(name string) string {
	var sb strings.Builder
	printCommandHelp(&sb, name)
	return sb.String()
}

// The help listing is derived from the commands slice.
func TestHelpContainsAllCommands(t *testing.T) {
	help := helpText()
	for _, cmd := range commands {
		if !strings.Contains(help, cmd.name) {
			t.Errorf("help output missing command %q", cmd.name)
		}
		if !strings.Contains(help, cmd.short) {
			t.Errorf("help output missing short description for %q", cmd.short)
		}
	}
	if !strings.Contains(help, "Usage:") || !strings.Contains(help, "firerisk") {
		t.Error("help output missing usage header")
	}
}

func TestLongHelpForKnownCommands(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.name, func(t *testing.T) {
			out := longHelpText(cmd.name)
			if !strings.Contains(out, cmd.usage) {
				t.Errorf("long help for %q missing usage line %q\ngot: %s", cmd.name, cmd.usage, out)
			}
		})
	}
}

func TestLongHelpUnknownCommand(t *testing.T) {
	out := longHelpText("no-such-command")
	if !strings.Contains(out, "unknown") {
		t.Errorf("expected unknown-command message, got: %s", out)
	}
}

func TestDispatchHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"--help"}, {"-h"}, {"help"}, {"help", "run"}} {
		if err := dispatch(context.Background(), args); err != nil {
			t.Errorf("dispatch(%v) returned error: %v", args, err)
		}
	}
}

func TestDispatchUnknownSuggests(t *testing.T) {
	err := dispatch(context.Background(), []string{"valdate"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "validate"`) {
		t.Errorf("expected suggestion, got: %v", err)
	}

	err = dispatch(context.Background(), []string{"no-such-command-xyz-abc"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("expected plain unknown-command error, got: %v", err)
	}
}

func TestSuggest(t *testing.T) {
	cases := map[string]string{
		"rn":       "run",
		"fuel":     "fuels",
		"reprot":   "report",
		"int":      "init",
		"simulate": "",
	}
	for in, want := range cases {
		if got := suggest(in); got != want {
			t.Errorf("suggest(%q) = %q, want %q", in, got, want)
		}
	}
}

// Each subcommand with missing args returns its usage line.
func TestSubcommandBadArgsGivesUsage(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.name, func(t *testing.T) {
			err := dispatch(context.Background(), []string{cmd.name})
			if err == nil {
				t.Fatalf("dispatch(%q) with no args should return error", cmd.name)
			}
			if !strings.HasPrefix(err.Error(), "usage: firerisk "+cmd.name) {
				t.Errorf("dispatch(%q) = %v, want usage error", cmd.name, err)
			}
		})
	}
}

func TestCommandsHaveRequiredFields(t *testing.T) {
	if len(commands) == 0 {
		t.Fatal("commands slice is empty")
	}
	for _, cmd := range commands {
		if cmd.name == "" || cmd.short == "" || cmd.usage == "" || cmd.run == nil {
			t.Errorf("command %+v has empty fields", cmd.name)
		}
	}
}

func TestInitDefaultsAndValidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	ctx := context.Background()
	if err := dispatch(ctx, []string{"init", dir, "--defaults"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ForestFile)); err != nil {
		t.Fatalf("forest.yaml not written: %v", err)
	}
	if err := dispatch(ctx, []string{"init", dir, "--defaults"}); err == nil {
		t.Fatal("expected error on second init")
	}
	// No stands.yaml yet.
	if err := dispatch(ctx, []string{"validate", dir}); err == nil {
		t.Fatal("expected validate to fail without stands.yaml")
	}

	stands := "stands:\n  - id: r1\n    options:\n      - policy: grow\n" +
		"        events: [none, none, none, none, none, none, none, none, none, none]\n" +
		"        fuel_codes: [1, 1, 1, 1, 1, 1, 1, 1, 1, 1]\n" +
		"        biomass: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10]\n"
	if err := os.WriteFile(filepath.Join(dir, "stands.yaml"), []byte(stands), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := dispatch(ctx, []string{"validate", dir}); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestReportEmptyWorkspace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	ctx := context.Background()
	if err := dispatch(ctx, []string{"init", dir, "--defaults"}); err != nil {
		t.Fatal(err)
	}
	if err := dispatch(ctx, []string{"report", dir}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := dispatch(ctx, []string{"report", dir, "missing-run"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if err := dispatch(ctx, []string{"clean", dir, "missing-run"}); err == nil {
		t.Fatal("expected error cleaning unknown run")
	}
}

func TestPromptModelCollectsAnswers(t *testing.T) {
	questions := config.Questions()
	var m tea.Model = newPromptModel(questions)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("12")})
	for range questions {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}
	final := m.(promptModel)
	if !final.done {
		t.Fatal("prompt not done after answering every question")
	}
	answers := final.answers()
	if answers["horizon"] != "12" {
		t.Errorf("horizon answer = %q", answers["horizon"])
	}
	if _, ok := answers["price"]; ok {
		t.Error("blank answer should be left to the default")
	}
}

func TestPromptModelEscCancels(t *testing.T) {
	var m tea.Model = newPromptModel(config.Questions())
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.(promptModel).done || cmd == nil {
		t.Error("esc should quit without completing")
	}
}

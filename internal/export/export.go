package export

// export.go: converts the outcome of a run into a markdown report bundle.
//
// Bundle layout:
//   index.md               best plan across scenarios, links to the rest
//   scenarios/<name>.md    per-plan values and the price series
//   erosion.md             post-fire value over optimizer objective
//   gaps.md                every (plan, period) without burn samples

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/revenue"
	"firerisk/internal/selection"
)

// ScenarioReport is the per-scenario input of a report.
type ScenarioReport struct {
	Scenario   forest.Scenario
	Prices     []float64
	Values     []revenue.PlanValue
	Objectives []float64
	Gaps       []burnrisk.Gap
}

// RunReport is everything a report bundle shows.
type RunReport struct {
	Run       string
	Generated time.Time
	Horizon   int
	Policy    gap.Policy
	Selection selection.Report
	Scenarios []ScenarioReport
}

// ReportBundle holds pre-generated page content (path → markdown).
// Paths are relative to the output directory, using forward slashes.
type ReportBundle struct {
	pages map[string]string
}

// Pages returns the page paths in sorted order.
func (b *ReportBundle) Pages() []string {
	paths := make([]string, 0, len(b.pages))
	for p := range b.pages {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Page returns the content of one page.
func (b *ReportBundle) Page(path string) (string, bool) {
	s, ok := b.pages[path]
	return s, ok
}

// GenerateReportBundle builds all report pages. No files are written.
func GenerateReportBundle(r RunReport) (*ReportBundle, error) {
	if len(r.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: report has no scenarios", forest.ErrInvalidConfiguration)
	}
	pages := make(map[string]string)
	pages["index.md"] = buildIndexPage(r)
	for _, sc := range r.Scenarios {
		pages["scenarios/"+string(sc.Scenario)+".md"] = buildScenarioPage(r.Run, sc)
	}
	pages["erosion.md"] = buildErosionPage(r)
	pages["gaps.md"] = buildGapsPage(r)
	return &ReportBundle{pages: pages}, nil
}

// WriteReportBundle writes all pages to outputDir in sorted path order.
func WriteReportBundle(bundle *ReportBundle, outputDir string) error {
	if err := os.MkdirAll(filepath.Join(outputDir, "scenarios"), 0o755); err != nil {
		return fmt.Errorf("mkdir scenarios: %w", err)
	}
	for _, p := range bundle.Pages() {
		abs := filepath.Join(outputDir, filepath.FromSlash(p))
		if err := writeNote(abs, bundle.pages[p]); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Page builders
// ---------------------------------------------------------------------------

func buildIndexPage(r RunReport) string {
	choice := r.Selection.Choice
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Run %s\n\n", r.Run))
	if !r.Generated.IsZero() {
		b.WriteString(fmt.Sprintf("- **Generated**: %s\n", r.Generated.UTC().Format(time.RFC3339)))
	}
	b.WriteString(fmt.Sprintf("- **Horizon**: %d periods\n", r.Horizon))
	b.WriteString(fmt.Sprintf("- **Gap policy**: %s\n\n", r.Policy))

	b.WriteString("## Best Plan\n\n")
	b.WriteString(fmt.Sprintf("Plan %d from the **%s** scenario, value %s.\n\n",
		choice.Ordinal(), choice.Scenario.Label(), formatNumber(choice.Value)))

	b.WriteString("## Scenarios\n\n")
	b.WriteString("| Scenario | Best plan | Value | Gaps |\n")
	b.WriteString("|----------|-----------|-------|------|\n")
	for _, sum := range r.Selection.Scenarios {
		gaps := 0
		for _, sc := range r.Scenarios {
			if sc.Scenario == sum.Name {
				gaps = len(sc.Gaps)
			}
		}
		b.WriteString(fmt.Sprintf("| [[scenarios/%s|%s]] | %d | %s | %d |\n",
			sum.Name, sum.Name.Label(), sum.Best.Ordinal(), formatNumber(sum.Value), gaps))
	}
	b.WriteString("\nSee [[erosion]] and [[gaps]].\n")

	meta := PageMeta{
		Tags:     []string{"firerisk/index"},
		Run:      r.Run,
		Scenario: string(choice.Scenario),
		Plan:     choice.Ordinal(),
		Value:    choice.Value,
	}
	return page(meta, b.String())
}

func buildScenarioPage(run string, sc ScenarioReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s\n\n", sc.Scenario.Label()))

	b.WriteString("## Plans\n\n")
	b.WriteString("| Plan | Risk-adjusted biomass | Value | Discounted value | Burned share | Gap cells |\n")
	b.WriteString("|------|-----------------------|-------|------------------|--------------|-----------|\n")
	for _, v := range sc.Values {
		b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %d |\n",
			v.Plan.Ordinal(), formatNumber(v.TotalBiomass), formatNumber(v.Value),
			formatNumber(v.DiscountedValue), formatOptional(v.BurnedShare), v.GapCells))
	}

	if len(sc.Prices) > 0 {
		b.WriteString("\n## Prices\n\n")
		b.WriteString("| Period | Price |\n")
		b.WriteString("|--------|-------|\n")
		for t, p := range sc.Prices {
			b.WriteString(fmt.Sprintf("| %d | %s |\n", t, formatNumber(p)))
		}
	}

	tags := []string{"firerisk/scenario"}
	if len(sc.Gaps) > 0 {
		tags = append(tags, "has-gaps")
	}
	return page(PageMeta{Tags: tags, Run: run, Scenario: string(sc.Scenario)}, b.String())
}

func buildErosionPage(r RunReport) string {
	var b strings.Builder
	b.WriteString("# Value Erosion\n\n")
	b.WriteString("Post-fire risk-adjusted value divided by the optimizer's deterministic objective.\n")
	for _, sum := range r.Selection.Scenarios {
		b.WriteString(fmt.Sprintf("\n## %s\n\n", sum.Name.Label()))
		if len(sum.Erosion) == 0 {
			b.WriteString("_No plans._\n")
			continue
		}
		b.WriteString("| Plan | Value | Objective | Ratio |\n")
		b.WriteString("|------|-------|-----------|-------|\n")
		for _, e := range sum.Erosion {
			b.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n",
				e.Plan.Ordinal(), formatNumber(e.Value), formatNumber(e.Objective), formatOptional(e.Ratio)))
		}
	}
	return page(PageMeta{Tags: []string{"firerisk/erosion"}, Run: r.Run}, b.String())
}

func buildGapsPage(r RunReport) string {
	var b strings.Builder
	b.WriteString("# Gaps\n\n")
	treatment := "excluded from totals"
	if r.Policy == gap.ZeroFill {
		treatment = "counted as zero in totals"
	}
	b.WriteString(fmt.Sprintf("Periods without burn samples. Their cells are %s.\n", treatment))
	total := 0
	for _, sc := range r.Scenarios {
		b.WriteString(fmt.Sprintf("\n## %s\n\n", sc.Scenario.Label()))
		if len(sc.Gaps) == 0 {
			b.WriteString("_None._\n")
			continue
		}
		gaps := append([]burnrisk.Gap(nil), sc.Gaps...)
		sort.Slice(gaps, func(i, j int) bool {
			if gaps[i].Plan != gaps[j].Plan {
				return gaps[i].Plan < gaps[j].Plan
			}
			return gaps[i].Period < gaps[j].Period
		})
		for _, g := range gaps {
			b.WriteString("- " + g.String() + "\n")
		}
		total += len(gaps)
	}
	tags := []string{"firerisk/gaps"}
	if total > 0 {
		tags = append(tags, "has-gaps")
	}
	return page(PageMeta{Tags: tags, Run: r.Run}, b.String())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func formatNumber(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatOptional(v gap.Float) string {
	x, ok := v.Get()
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", x)
}

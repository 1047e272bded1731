package export

// export_test.go: report bundle, burn-probability file and annotated tables.

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firerisk/internal/burnrisk"
	"firerisk/internal/forest"
	"firerisk/internal/gap"
	"firerisk/internal/revenue"
	"firerisk/internal/selection"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func minimalRun(t *testing.T) RunReport {
	t.Helper()
	rep, err := selection.Compare(
		selection.Scenario{Name: forest.WithoutFirebreak, Plans: []forest.PlanID{0, 1, 2}, Values: []float64{10, 50, 30}, Objectives: []float64{20, 100, 0}},
		selection.Scenario{Name: forest.WithFirebreak, Plans: []forest.PlanID{0, 1, 2}, Values: []float64{5, 20, 45}, Objectives: []float64{10, 40, 90}},
		5,
	)
	if err != nil {
		t.Fatal(err)
	}
	values := func(vs ...float64) []revenue.PlanValue {
		out := make([]revenue.PlanValue, len(vs))
		for i, v := range vs {
			out[i] = revenue.PlanValue{Plan: forest.PlanID(i), Value: v, TotalBiomass: v / 10, BurnedShare: gap.Some(0.25)}
		}
		return out
	}
	return RunReport{
		Run:       "run-1",
		Generated: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Horizon:   2,
		Selection: rep,
		Scenarios: []ScenarioReport{
			{
				Scenario: forest.WithoutFirebreak,
				Prices:   []float64{10, 20},
				Values:   values(10, 50, 30),
				Gaps: []burnrisk.Gap{
					{Plan: 2, Period: 0, Reason: "fuel raster unavailable"},
					{Plan: 0, Period: 1, Reason: "simulator failure"},
				},
			},
			{Scenario: forest.WithFirebreak, Prices: []float64{10, 20}, Values: values(5, 20, 45)},
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// ---------------------------------------------------------------------------
// Report bundle
// ---------------------------------------------------------------------------

func TestReportBundleLayout(t *testing.T) {
	bundle, err := GenerateReportBundle(minimalRun(t))
	if err != nil {
		t.Fatalf("GenerateReportBundle: %v", err)
	}
	want := []string{
		"erosion.md",
		"gaps.md",
		"index.md",
		"scenarios/with_firebreak.md",
		"scenarios/without_firebreak.md",
	}
	got := bundle.Pages()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Pages() = %v, want %v", got, want)
	}
}

func TestReportBundleIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		bundle, err := GenerateReportBundle(minimalRun(t))
		if err != nil {
			t.Fatal(err)
		}
		if err := WriteReportBundle(bundle, dir); err != nil {
			t.Fatalf("WriteReportBundle: %v", err)
		}
	}
	first := readFile(t, filepath.Join(dir, "index.md"))
	bundle, _ := GenerateReportBundle(minimalRun(t))
	if page, _ := bundle.Page("index.md"); page != first {
		t.Error("index.md differs between runs")
	}
}

func TestIndexPage(t *testing.T) {
	bundle, err := GenerateReportBundle(minimalRun(t))
	if err != nil {
		t.Fatal(err)
	}
	content, _ := bundle.Page("index.md")

	meta, body, err := ParsePage([]byte(content))
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}
	if meta.Run != "run-1" || meta.Scenario != "without_firebreak" || meta.Plan != 2 || meta.Value != 50 {
		t.Errorf("index meta = %+v", meta)
	}
	if !strings.HasPrefix(string(body), "# Run run-1") {
		t.Errorf("body starts %q", string(body)[:20])
	}
	for _, want := range []string{
		"Plan 2 from the **without firebreak** scenario, value 50.00.",
		"| [[scenarios/without_firebreak|without firebreak]] | 2 | 50.00 | 2 |",
		"| [[scenarios/with_firebreak|with firebreak]] | 3 | 45.00 | 0 |",
		"2024-01-01T00:00:00Z",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("index.md missing %q", want)
		}
	}
}

func TestScenarioPageTags(t *testing.T) {
	bundle, _ := GenerateReportBundle(minimalRun(t))

	without, _ := bundle.Page("scenarios/without_firebreak.md")
	meta, _, err := ParsePage([]byte(without))
	if err != nil {
		t.Fatal(err)
	}
	// Tags are sorted.
	if strings.Join(meta.Tags, ",") != "firerisk/scenario,has-gaps" {
		t.Errorf("tags = %v", meta.Tags)
	}
	if !strings.Contains(without, "| 2 | 5.00 | 50.00 | 0.00 | 0.250 | 0 |") {
		t.Errorf("plan row missing:\n%s", without)
	}
	if !strings.Contains(without, "| 1 | 20.00 |") {
		t.Error("price table missing")
	}

	with, _ := bundle.Page("scenarios/with_firebreak.md")
	meta, _, _ = ParsePage([]byte(with))
	if len(meta.Tags) != 1 {
		t.Errorf("scenario without gaps tagged %v", meta.Tags)
	}
}

func TestErosionPage(t *testing.T) {
	bundle, _ := GenerateReportBundle(minimalRun(t))
	content, _ := bundle.Page("erosion.md")
	for _, want := range []string{
		"## without firebreak",
		"| 2 | 50.00 | 100.00 | 0.500 |",
		// Zero objective has no ratio.
		"| 3 | 30.00 | 0.00 | n/a |",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("erosion.md missing %q", want)
		}
	}
}

func TestGapsPageSorted(t *testing.T) {
	bundle, _ := GenerateReportBundle(minimalRun(t))
	content, _ := bundle.Page("gaps.md")
	first := strings.Index(content, "plan 1 period 1: simulator failure")
	second := strings.Index(content, "plan 3 period 0: fuel raster unavailable")
	if first < 0 || second < 0 || first > second {
		t.Errorf("gaps not listed in plan order:\n%s", content)
	}
	if !strings.Contains(content, "_None._") {
		t.Error("scenario without gaps should say so")
	}
	if !strings.Contains(content, "excluded from totals") {
		t.Error("gap policy not described")
	}
}

func TestGenerateReportBundleEmpty(t *testing.T) {
	if _, err := GenerateReportBundle(RunReport{}); !errors.Is(err, forest.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestParsePageRejects(t *testing.T) {
	for _, in := range []string{"no delimiter", "---\ntags: []\n"} {
		if _, _, err := ParsePage([]byte(in)); err == nil {
			t.Errorf("ParsePage(%q): expected error", in)
		}
	}
}

// ---------------------------------------------------------------------------
// Burn-probability file
// ---------------------------------------------------------------------------

func TestWriteBurnProbability(t *testing.T) {
	m := [][][]gap.Float{
		{{gap.Some(0.1), gap.Some(0.15)}, {gap.None(), gap.Some(0.2)}},
		{{gap.Some(0), gap.Some(1)}, {gap.Some(1e-05), gap.None()}},
	}
	var buf bytes.Buffer
	if err := WriteBurnProbability(&buf, m); err != nil {
		t.Fatal(err)
	}
	want := "[[[0.1, 0.15], [None, 0.2]], [[0.0, 1.0], [1e-05, None]]]\n"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}

	got, err := ReadBurnProbability(&buf)
	if err != nil {
		t.Fatalf("ReadBurnProbability: %v", err)
	}
	for s := range m {
		for r := range m[s] {
			for p := range m[s][r] {
				if got[s][r][p] != m[s][r][p] {
					t.Errorf("[%d][%d][%d] = %s, want %s", s, r, p, got[s][r][p], m[s][r][p])
				}
			}
		}
	}
}

func TestReadBurnProbabilityAcceptsNull(t *testing.T) {
	got, err := ReadBurnProbability(strings.NewReader("[[[null, 0.5, 1]]]"))
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0][0].Valid() || got[0][0][1] != gap.Some(0.5) || got[0][0][2] != gap.Some(1) {
		t.Errorf("got %v", got)
	}

	if _, err := ReadBurnProbability(strings.NewReader("[[[high]]]")); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

// ---------------------------------------------------------------------------
// Annotated tables
// ---------------------------------------------------------------------------

func annotatedFixture() (forest.PlanRecords, burnrisk.PlanRisk) {
	rec := forest.PlanRecords{Plan: 0, Records: []forest.Record{{
		Stand:    "r1",
		Policy:   "harvest",
		Schedule: forest.Schedule{Events: []string{"thin", "harvest"}, FuelCodes: []int{1, 2}, Biomass: []float64{100, 200}},
	}}}
	risk := burnrisk.PlanRisk{
		Plan:       0,
		Stands:     []forest.StandID{"r1"},
		Cumulative: [][]gap.Float{{gap.Some(0.5), gap.None()}},
	}
	return rec, risk
}

func TestWriteAnnotated(t *testing.T) {
	rec, risk := annotatedFixture()
	var buf bytes.Buffer
	if err := WriteAnnotated(&buf, rec, risk); err != nil {
		t.Fatal(err)
	}
	want := "stand_id,period,event,biomass,burn_prob\nr1,0,thin,100,0.5\nr1,1,harvest,200,\n"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}
}

func TestWriteAnnotatedMisaligned(t *testing.T) {
	rec, risk := annotatedFixture()
	risk.Stands = []forest.StandID{"other"}
	if err := WriteAnnotated(&bytes.Buffer{}, rec, risk); !errors.Is(err, forest.ErrMisaligned) {
		t.Errorf("expected ErrMisaligned, got %v", err)
	}
	rec2, risk2 := annotatedFixture()
	risk2.Plan = 4
	if err := WriteAnnotated(&bytes.Buffer{}, rec2, risk2); !errors.Is(err, forest.ErrMisaligned) {
		t.Errorf("expected ErrMisaligned, got %v", err)
	}
}

func TestWriteScenarioArtifacts(t *testing.T) {
	rec, risk := annotatedFixture()
	dir := filepath.Join(t.TempDir(), "results")
	res := burnrisk.Result{Plans: []burnrisk.PlanRisk{risk}}
	if err := WriteScenarioArtifacts(dir, forest.WithFirebreak, []forest.PlanRecords{rec}, res); err != nil {
		t.Fatal(err)
	}
	bp := readFile(t, filepath.Join(dir, "bp_with_firebreak.txt"))
	if bp != "[[[0.5, None]]]\n" {
		t.Errorf("bp file = %q", bp)
	}
	if _, err := os.Stat(filepath.Join(dir, "annotated_with_firebreak_plan_1.csv")); err != nil {
		t.Errorf("annotated table missing: %v", err)
	}

	err := WriteScenarioArtifacts(dir, forest.WithFirebreak, nil, res)
	if !errors.Is(err, forest.ErrMisaligned) {
		t.Errorf("expected ErrMisaligned, got %v", err)
	}
}

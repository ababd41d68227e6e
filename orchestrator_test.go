package areaverde

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func testSources(t *testing.T, dir string) []DemandSource {
	t.Helper()
	flows := writeFile(t, dir, "flows.csv", "0,0,10,2000,0,10,2400\n0,0,10,0,0,10,500\n")
	return []DemandSource{{Path: flows, Weights: TrafficWeights()}}
}

func fileExists(t *testing.T, fname string) {
	t.Helper()
	if _, err := os.Stat(fname); err != nil {
		t.Errorf("File '%s' should exist: %v", fname, err)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	dir := t.TempDir()
	sources := testSources(t, dir)
	net := testNetwork(t)
	if _, err := NewRunner(nil, sources); err != ErrEmptyNetwork {
		t.Errorf("Missing network should fail with %v, but got %v", ErrEmptyNetwork, err)
	}
	if _, err := NewRunner(net, nil); err == nil {
		t.Errorf("Missing sources should fail")
	}
	if _, err := NewRunner(net, []DemandSource{{Path: "x.csv", Weights: HourWeights{1}}}); err == nil {
		t.Errorf("Bad weights should fail")
	}
	if _, err := NewRunner(net, sources, WithHours([]int{3, 3})); err == nil {
		t.Errorf("Repeated hours should fail")
	}
	if _, err := NewRunner(net, sources, WithDeltan(0)); err == nil {
		t.Errorf("Zero deltan should fail")
	}
	if _, err := NewRunner(net, sources, WithSeeds(nil)); err == nil {
		t.Errorf("No seeds should fail")
	}
	if _, err := NewRunner(net, sources, WithMaxParallelSeeds(0)); err == nil {
		t.Errorf("Zero parallel seeds should fail")
	}
	if _, err := NewRunner(net, sources, WithCadence(0)); err == nil {
		t.Errorf("Missing cadence should fail")
	}
}

func TestRunCarryover(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{8, 9}),
		WithSeeds([]int{0, 1}),
		WithMaxParallelSeeds(2),
		WithHourDuration(60),
		WithOutput(out, "links", "vehicles"),
		WithWorldFactory(DefaultWorldFactory(WithEngineLogger(quietLogger()))),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if manifest.RunID == "" || manifest.FinishedAt == nil {
		t.Errorf("Manifest should be complete, but got %+v", manifest)
	}
	for _, result := range manifest.Seeds {
		if result.Error != "" {
			t.Errorf("Seed %d failed: %s", result.Seed, result.Error)
		}
		if len(result.Files) != 4 {
			t.Errorf("Seed %d should write 4 files, but got %v", result.Seed, result.Files)
		}
		// Platoons on a link after a minute go on in the next hour
		if result.Resumed == 0 {
			t.Errorf("Seed %d should resume unfinished trips", result.Seed)
		}
		if result.Emitted == 0 {
			t.Errorf("Seed %d should emit demand", result.Seed)
		}
		for _, hour := range []int{8, 9} {
			for _, prefix := range []string{"links", "vehicles"} {
				fileExists(t, filepath.Join(out, fmt.Sprintf("%s_%s_seed_%d.parquet", prefix, HourName(hour), result.Seed)))
			}
		}
	}

	// Every platoon drawn for an hour is in that hour's export
	for _, result := range manifest.Seeds {
		exported := 0
		for _, hour := range []int{8, 9} {
			records, err := LoadTrajectories(filepath.Join(out, fmt.Sprintf("vehicles_%s_seed_%d.parquet", HourName(hour), result.Seed)))
			if err != nil {
				t.Fatal(err)
			}
			seen := make(map[string]struct{})
			for _, record := range records {
				if _, ok := seen[record.Name]; ok || record.Attribute.AddedPrevHour {
					continue
				}
				seen[record.Name] = struct{}{}
				exported += record.DeltaN
			}
		}
		if exported != result.Emitted {
			t.Errorf("Seed %d emitted %d vehicles, but %d are exported", result.Seed, result.Emitted, exported)
		}
	}

	records, err := LoadTrajectories(filepath.Join(out, "vehicles_from_9_to_10_seed_0.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	resumed := 0
	for _, record := range records {
		if record.Attribute.AddedPrevHour {
			resumed++
			if record.Attribute.PrevName == "" {
				t.Errorf("Resumed vehicle should keep its previous name")
			}
		}
	}
	if resumed == 0 {
		t.Errorf("Second hour should hold resumed vehicles")
	}

	b, err := os.ReadFile(filepath.Join(out, "run.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	stored := RunManifest{}
	if err = yaml.Unmarshal(b, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.RunID != manifest.RunID || stored.Cadence != CADENCE_HOURLY_CARRYOVER || len(stored.Seeds) != 2 {
		t.Errorf("Stored manifest should match the run, but got %+v", stored)
	}
}

func TestRunIndependent(t *testing.T) {
	dir := t.TempDir()
	worlds := []*recordingWorld{}
	factory := func(net *Network, tmax float64, deltan int, seed uint64) (World, error) {
		if tmax != 2*SecondsPerHour {
			t.Errorf("Independent world should span 2 hours, but got %f", tmax)
		}
		w := &recordingWorld{}
		worlds = append(worlds, w)
		return w, nil
	}
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{23, 0}),
		WithSeeds([]int{3}),
		WithCadence(CADENCE_HOURLY_INDEPENDENT),
		WithOutput(dir, "links", "vehicles"),
		WithWorldFactory(factory),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(worlds) != 1 || !worlds[0].released {
		t.Fatalf("One world should be built and released, but got %d", len(worlds))
	}
	for _, d := range worlds[0].demands {
		if d.TStart != 0 && d.TStart != SecondsPerHour {
			t.Errorf("Demand should start at 0 or 3600, but got %f", d.TStart)
		}
		if d.TEnd-d.TStart != SecondsPerHour {
			t.Errorf("Demand should span one hour, but got [%f, %f)", d.TStart, d.TEnd)
		}
		if d.Volume%10 != 0 {
			t.Errorf("Demand volume should be a multiple of deltan, but got %d", d.Volume)
		}
	}
	fileExists(t, filepath.Join(dir, "vehicles_seed_3.parquet"))
	fileExists(t, filepath.Join(dir, "links_seed_3.parquet"))
	if manifest.Seeds[0].Seed != 3 {
		t.Errorf("Manifest should report seed 3, but got %d", manifest.Seeds[0].Seed)
	}
}

func TestRunIndependentHourLength(t *testing.T) {
	dir := t.TempDir()
	var world *recordingWorld
	factory := func(net *Network, tmax float64, deltan int, seed uint64) (World, error) {
		if tmax != 120 {
			t.Errorf("World should span two minute-long hours, but got %f", tmax)
		}
		world = &recordingWorld{}
		return world, nil
	}
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{8, 9}),
		WithSeeds([]int{0}),
		WithCadence(CADENCE_HOURLY_INDEPENDENT),
		WithHourDuration(60),
		WithOutput(dir, "links", "vehicles"),
		WithWorldFactory(factory),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(world.demands) == 0 {
		t.Fatalf("Demand should be added")
	}
	for _, d := range world.demands {
		if (d.TStart != 0 && d.TStart != 60) || d.TEnd-d.TStart != 60 {
			t.Errorf("Demand windows should not overlap, but got [%f, %f)", d.TStart, d.TEnd)
		}
	}
}

func TestRunContinuousOnlineSave(t *testing.T) {
	dir := t.TempDir()
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{7, 8}),
		WithSeeds([]int{0}),
		WithCadence(CADENCE_CONTINUOUS),
		WithOnlineSave(true),
		WithOutput(dir, "links", "vehicles"),
		WithWorldFactory(DefaultWorldFactory(WithEngineLogger(quietLogger()))),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Seeds[0].Files) != 3 {
		t.Errorf("Seed should write 3 files, but got %v", manifest.Seeds[0].Files)
	}
	ended, err := LoadTrajectories(filepath.Join(dir, "vehicles_seed_0_ended.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Seeds[0].Emitted > 0 && len(ended) == 0 {
		t.Errorf("Ended vehicles should be saved while running")
	}
	for _, record := range ended {
		if record.Orig == record.Dest {
			t.Errorf("Degenerate flow should not make vehicles")
		}
	}
	left, err := LoadTrajectories(filepath.Join(dir, "vehicles_seed_0.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	// Saved and remaining vehicles together hold the whole demand
	platoons := make(map[string]int)
	for _, record := range append(ended, left...) {
		platoons[record.Name] = record.DeltaN
	}
	total := 0
	for _, dn := range platoons {
		total += dn
	}
	if total != manifest.Seeds[0].Emitted {
		t.Errorf("Files should hold %d vehicles, but got %d", manifest.Seeds[0].Emitted, total)
	}
}

func TestCloseSaver(t *testing.T) {
	dir := t.TempDir()
	var err error
	closeSaver(nil, &err)
	if err != nil {
		t.Fatalf("Missing saver should not fail, but got %v", err)
	}

	saver, err := NewOnlineSaver(filepath.Join(dir, "broken.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	// The footer can't be written to a closed file
	saver.file.Close()
	closeSaver(saver, &err)
	if err == nil {
		t.Errorf("Failed close should be reported")
	}

	saver, err = NewOnlineSaver(filepath.Join(dir, "second.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	saver.file.Close()
	errRun := fmt.Errorf("simulation failed")
	err = errRun
	closeSaver(saver, &err)
	if err != errRun {
		t.Errorf("First error should be kept, but got %v", err)
	}
}

func TestRunFailingSeed(t *testing.T) {
	dir := t.TempDir()
	factory := func(net *Network, tmax float64, deltan int, seed uint64) (World, error) {
		if seed == 1 {
			return nil, fmt.Errorf("no world for seed %d", seed)
		}
		return &recordingWorld{}, nil
	}
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{8}),
		WithSeeds([]int{0, 1, 2}),
		WithOutput(dir, "links", "vehicles"),
		WithWorldFactory(factory),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := runner.Run(context.Background())
	if err == nil {
		t.Fatalf("Failing seed should fail the run")
	}
	if manifest.Seeds[1].Error == "" {
		t.Errorf("Seed 1 should report its error")
	}
	if manifest.Seeds[0].Error != "" || manifest.Seeds[2].Error != "" {
		t.Errorf("Other seeds should not fail, but got %+v", manifest.Seeds)
	}
	fileExists(t, filepath.Join(dir, "vehicles_from_8_to_9_seed_2.parquet"))
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	runner, err := NewRunner(testNetwork(t), testSources(t, dir),
		WithHours([]int{8}),
		WithSeeds([]int{0}),
		WithOutput(dir, "links", "vehicles"),
		WithWorldFactory(func(net *Network, tmax float64, deltan int, seed uint64) (World, error) {
			return &recordingWorld{}, nil
		}),
		WithRunnerLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err = runner.Run(ctx); err == nil {
		t.Errorf("Cancelled run should fail")
	}
}

func TestParseCadence(t *testing.T) {
	for _, cadence := range []Cadence{CADENCE_CONTINUOUS, CADENCE_HOURLY_CARRYOVER, CADENCE_HOURLY_INDEPENDENT} {
		parsed, err := ParseCadence(cadence.String())
		if err != nil || parsed != cadence {
			t.Errorf("Cadence %s should parse back, but got %v (%v)", cadence, parsed, err)
		}
	}
	if _, err := ParseCadence("weekly"); err == nil {
		t.Errorf("Unknown cadence should fail")
	}
	if HourName(23) != "from_23_to_24" {
		t.Errorf("Unexpected hour name '%s'", HourName(23))
	}
}

package areaverde

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
)

func uniformWeights() HourWeights {
	weights := make(HourWeights, HoursPerDay)
	for i := range weights {
		weights[i] = 1.0 / HoursPerDay
	}
	return weights
}

func TestLoadFlows(t *testing.T) {
	dir := t.TempDir()
	fname := writeFile(t, dir, "flows.csv", "0,0,100,1000,0,100,250\n0,0,50,0,0,50,40,extra\n")
	flows, err := LoadFlows(fname)
	if err != nil {
		t.Fatal(err)
	}
	if len(flows) != 2 {
		t.Fatalf("Should read 2 flows, but got %d", len(flows))
	}
	if flows[0].Ordinal != 1 || flows[1].Ordinal != 2 {
		t.Errorf("Ordinals should be line numbers, but got %d and %d", flows[0].Ordinal, flows[1].Ordinal)
	}
	if flows[0].Volume != 250 || flows[0].XDest != 1000 {
		t.Errorf("First flow is read wrong: %+v", flows[0])
	}
	if flows[0].Degenerate() || !flows[1].Degenerate() {
		t.Errorf("Only the second flow should be degenerate")
	}

	bad := writeFile(t, dir, "bad.csv", "0,0,100,1000,0,100,-5\n")
	if _, err := LoadFlows(bad); err == nil {
		t.Errorf("Negative volume should fail")
	}
}

func TestHourWeightsValidate(t *testing.T) {
	if err := InflowWeights().Validate(); err != nil {
		t.Errorf("Inflow weights should be valid: %v", err)
	}
	if err := TrafficWeights().Validate(); err != nil {
		t.Errorf("Traffic weights should be valid: %v", err)
	}
	if err := (HourWeights{1, 2}).Validate(); errors.Cause(err) != ErrBadWeights {
		t.Errorf("Short weights should fail with %v, but got %v", ErrBadWeights, err)
	}
	if err := make(HourWeights, HoursPerDay).Validate(); errors.Cause(err) != ErrBadWeights {
		t.Errorf("All-zero weights should fail with %v, but got %v", ErrBadWeights, err)
	}
	negative := uniformWeights()
	negative[5] = -0.1
	if err := negative.Validate(); errors.Cause(err) != ErrBadWeights {
		t.Errorf("Negative weight should fail with %v, but got %v", ErrBadWeights, err)
	}
	if _, err := WeightsByName("rush"); err == nil {
		t.Errorf("Unknown weights name should fail")
	}
}

func TestDayHours(t *testing.T) {
	hours := DayHours(3, HoursPerDay)
	if len(hours) != HoursPerDay || hours[0] != 3 || hours[20] != 23 || hours[21] != 0 || hours[23] != 2 {
		t.Errorf("Day should start at 3 and wrap at midnight, but got %v", hours)
	}
}

func TestNewSamplerValidation(t *testing.T) {
	if _, err := NewSampler([]int{1, 2}, 0, 0); err == nil {
		t.Errorf("Zero deltan should fail")
	}
	if _, err := NewSampler([]int{1, 24}, 10, 0); errors.Cause(err) != ErrBadHours {
		t.Errorf("Hour 24 should fail with %v, but got %v", ErrBadHours, err)
	}
	if _, err := NewSampler([]int{5, 5}, 10, 0); errors.Cause(err) != ErrBadHours {
		t.Errorf("Repeated hour should fail with %v, but got %v", ErrBadHours, err)
	}
	if _, err := NewSampler(nil, 10, 0); errors.Cause(err) != ErrBadHours {
		t.Errorf("Empty hours should fail with %v, but got %v", ErrBadHours, err)
	}
	if _, err := NewSampler([]int{1, 2}, 10, 0, WithHourLength(0)); err == nil {
		t.Errorf("Zero hour length should fail")
	}
}

func TestDemandWindowHourLength(t *testing.T) {
	dir := t.TempDir()
	flows := writeFile(t, dir, "flows.csv", "0,0,10,2000,0,10,2400\n")
	sources := []DemandSource{{Path: flows, Weights: uniformWeights()}}
	sampler, err := NewSampler(DayHours(22, 4), 10, 0, WithHourLength(60), WithSamplerLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	daily := &recordingWorld{}
	if _, err = sampler.AddDailyDemand(daily, sources); err != nil {
		t.Fatal(err)
	}
	if len(daily.demands) == 0 {
		t.Fatalf("Daily demand should be added")
	}
	for _, d := range daily.demands {
		if d.TEnd-d.TStart != 60 || math.Mod(d.TStart, 60) != 0 || d.TStart < 0 || d.TEnd > 240 {
			t.Errorf("Demand should fill one minute-long hour inside [0, 240), but got [%f, %f)", d.TStart, d.TEnd)
		}
	}

	hourly := &recordingWorld{}
	if _, err = sampler.AddHourlyDemand(hourly, sources, 23, 60); err != nil {
		t.Fatal(err)
	}
	for _, d := range hourly.demands {
		if d.TStart != 60 || d.TEnd != 120 {
			t.Errorf("Hourly demand should span [60, 120), but got [%f, %f)", d.TStart, d.TEnd)
		}
	}
}

func TestVolumeConservation(t *testing.T) {
	deltan := 10
	sampler, err := NewSampler(DayHours(3, HoursPerDay), deltan, 7, WithSamplerLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	volumes := []float64{4, 5, 14, 100, 333, 1000, 12345}
	for _, weights := range []HourWeights{InflowWeights(), TrafficWeights(), uniformWeights()} {
		for _, v := range volumes {
			n := int(Round(v/float64(deltan), 1))
			counts := sampler.HourCounts(n, weights, rand.NewPCG(1, 1))
			sum := 0
			for _, c := range counts {
				if c%deltan != 0 {
					t.Errorf("Hour count should be a multiple of %d, but got %d", deltan, c)
				}
				sum += c
			}
			if sum != n*deltan {
				t.Errorf("Counts of volume %f should sum to %d, but got %d", v, n*deltan, sum)
			}

			flow := FlowRecord{Ordinal: 1, XDest: 1000, Volume: v}
			daily := 0
			for _, hv := range sampler.DailyVolumes(flow, weights) {
				if hv.Volume < deltan {
					t.Errorf("Daily volume below deltan should be dropped, but got %d at hour %d", hv.Volume, hv.Hour)
				}
				daily += hv.Volume
			}
			if daily > n*deltan {
				t.Errorf("Daily volume of %f should not exceed %d, but got %d", v, n*deltan, daily)
			}
			hourly := 0
			for h := 0; h < HoursPerDay; h++ {
				hourly += sampler.HourlyVolume(flow, weights, h)
			}
			// Per-flow draws repeat for every hour, so the hours add up exactly
			if hourly != n*deltan {
				t.Errorf("Hourly volumes of %f should add up to %d, but got %d", v, n*deltan, hourly)
			}
		}
	}
}

func TestHourCountsRestrictedHours(t *testing.T) {
	sampler, err := NewSampler([]int{8, 9}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	counts := sampler.HourCounts(50, InflowWeights(), rand.NewPCG(3, 3))
	for h, c := range counts {
		if h != 8 && h != 9 && c != 0 {
			t.Errorf("Hour %d is not simulated, but got count %d", h, c)
		}
	}
	if counts[8]+counts[9] != 500 {
		t.Errorf("All draws should land in the simulated hours, but got %d", counts[8]+counts[9])
	}
	zero := make(HourWeights, HoursPerDay)
	zero[0] = 1
	if sum := sampler.HourCounts(50, zero, rand.NewPCG(3, 3)); sum[8]+sum[9] != 0 {
		t.Errorf("Hours with zero weight should get nothing, but got %v", sum)
	}
}

func TestDegenerateFlowExclusion(t *testing.T) {
	sampler, err := NewSampler(DayHours(0, HoursPerDay), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{0, 10, 1000, 1e6} {
		flow := FlowRecord{Ordinal: 3, XOrig: 5, YOrig: 5, ROrig: 200, XDest: 5, YDest: 5, RDest: 200, Volume: v}
		for h := 0; h < HoursPerDay; h++ {
			if got := sampler.HourlyVolume(flow, uniformWeights(), h); got != 0 {
				t.Errorf("Degenerate flow of volume %f should emit nothing, but got %d at hour %d", v, got, h)
			}
		}
		if got := sampler.DailyVolumes(flow, uniformWeights()); len(got) != 0 {
			t.Errorf("Degenerate flow of volume %f should emit nothing over the day, but got %v", v, got)
		}
	}
}

func TestSmallVolumeSkip(t *testing.T) {
	sampler, err := NewSampler(DayHours(0, HoursPerDay), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	flow := FlowRecord{Ordinal: 1, XDest: 100, Volume: 6}
	// round(0.6) is 1 for the hourly path, int(0.6) is 0 for the daily path
	if got := sampler.DailyVolumes(flow, uniformWeights()); len(got) != 0 {
		t.Errorf("Daily path should skip volume 6, but got %v", got)
	}
	hourly := 0
	for h := 0; h < HoursPerDay; h++ {
		hourly += sampler.HourlyVolume(flow, uniformWeights(), h)
	}
	if hourly != 10 {
		t.Errorf("Hourly path should place one platoon for volume 6, but got %d", hourly)
	}
}

func TestHourlyVolumeReproducible(t *testing.T) {
	flow := FlowRecord{Ordinal: 1, XDest: 1000, Volume: 100}
	for _, hour := range []int{0, 8, 17} {
		first, _ := NewSampler(DayHours(0, HoursPerDay), 10, 1)
		second, _ := NewSampler(DayHours(0, HoursPerDay), 10, 99)
		a := first.HourlyVolume(flow, uniformWeights(), hour)
		b := second.HourlyVolume(flow, uniformWeights(), hour)
		if a != b {
			t.Errorf("Per-flow seeding should not depend on the world seed: %d vs %d at hour %d", a, b, hour)
		}
		if a%10 != 0 || a < 0 || a > 100 {
			t.Errorf("Hourly volume should be a multiple of 10 in [0, 100], but got %d", a)
		}
	}

	shared := func(seed uint64) []HourVolume {
		sampler, _ := NewSampler(DayHours(0, HoursPerDay), 10, seed, WithSeedingPolicy(SEED_SHARED))
		return sampler.DailyVolumes(FlowRecord{Ordinal: 1, XDest: 1000, Volume: 1000}, TrafficWeights())
	}
	a, b := shared(5), shared(5)
	if len(a) != len(b) {
		t.Fatalf("Same seed should give the same daily volumes: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Same seed should give the same daily volumes: %v vs %v", a, b)
			break
		}
	}
}

func TestSimHour(t *testing.T) {
	sampler, err := NewSampler(DayHours(3, HoursPerDay), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[int]int{3: 0, 4: 1, 23: 20, 0: 21, 2: 23}
	for hour, expected := range cases {
		if got := sampler.SimHour(hour); got != expected {
			t.Errorf("Hour %d should be simulated at position %d, but got %d", hour, expected, got)
		}
	}
}

func TestSeedingPolicyParse(t *testing.T) {
	for _, policy := range []SeedingPolicy{SEED_PER_FLOW, SEED_SHARED} {
		parsed, err := ParseSeedingPolicy(policy.String())
		if err != nil || parsed != policy {
			t.Errorf("Policy %s should parse back, but got %v (%v)", policy, parsed, err)
		}
	}
	if _, err := ParseSeedingPolicy("global"); err == nil {
		t.Errorf("Unknown policy should fail")
	}
}

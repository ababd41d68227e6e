package areaverde

import (
	"testing"
)

type addedVehicle struct {
	orig      string
	dest      string
	departure float64
	attr      Attributes
}

// recordingWorld keeps what was added to it and simulates nothing
type recordingWorld struct {
	demands  []AreaDemand
	vehicles []addedVehicle
	released bool
}

func (w *recordingWorld) AddDemandArea2Area(d AreaDemand) error {
	w.demands = append(w.demands, d)
	return nil
}

func (w *recordingWorld) AddVehicle(orig, dest string, departure float64, attr Attributes) (VehicleID, error) {
	w.vehicles = append(w.vehicles, addedVehicle{orig: orig, dest: dest, departure: departure, attr: attr})
	return VehicleID(len(w.vehicles) - 1), nil
}

func (w *recordingWorld) Exec(duration float64) error   { return nil }
func (w *recordingWorld) Time() float64                 { return 0 }
func (w *recordingWorld) Vehicles() []VehicleTrajectory { return nil }
func (w *recordingWorld) LinkStats() []LinkStat         { return nil }
func (w *recordingWorld) Release()                      { w.released = true }

func continuationLog() []TrajectoryRecord {
	return []TrajectoryRecord{
		{Name: "A", Orig: "1", Dest: "3", T: 0, Link: LinkWaiting},
		{Name: "B", Orig: "4", Dest: "5", T: 0, Link: LinkWaiting},
		{Name: "C", Orig: "1", Dest: "3", T: 5, Link: "1_2_0"},
		{Name: "A", Orig: "1", Dest: "3", T: 10, Link: "1_2_0"},
		{Name: "D", Orig: "1", Dest: "3", T: 10, Link: "1_2_0"},
		{Name: "A", Orig: "1", Dest: "3", T: 400, Link: "2_3_0"},
		{Name: "C", Orig: "1", Dest: "3", T: 500, Link: "2_3_0"},
		{Name: "A", Orig: "1", Dest: "3", T: 600, Link: LinkEnded},
		{Name: "B", Orig: "4", Dest: "5", T: 3595, Link: LinkWaiting},
		{Name: "D", Orig: "1", Dest: "3", T: 900, Link: LinkAborted},
		{Name: "E", Orig: "1", Dest: "3", T: 900, Link: "ring-road"},
	}
}

func TestIsResumableLink(t *testing.T) {
	cases := map[string]bool{
		"1_2_0":       true,
		"12345_678_1": true,
		LinkWaiting:   false,
		LinkEnded:     false,
		LinkAborted:   false,
		"1_2_a":       false,
		"":            false,
	}
	for label, expected := range cases {
		if got := IsResumableLink(label); got != expected {
			t.Errorf("Link '%s' resumable should be %t, but got %t", label, expected, got)
		}
	}
}

func TestLeftovers(t *testing.T) {
	leftovers := Leftovers(continuationLog())
	correct := []Leftover{
		{PrevName: "B", Orig: "4", Dest: "5"},
		{PrevName: "C", Orig: "2", Dest: "3"},
	}
	if len(leftovers) != len(correct) {
		t.Fatalf("Should resume %d vehicles, but got %d: %+v", len(correct), len(leftovers), leftovers)
	}
	for i := range correct {
		if leftovers[i] != correct[i] {
			t.Errorf("Leftover %d should be %+v, but got %+v", i, correct[i], leftovers[i])
		}
	}
}

func TestInjectLeftovers(t *testing.T) {
	w := &recordingWorld{}
	n, err := InjectLeftovers(w, continuationLog())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(w.vehicles) != 2 {
		t.Fatalf("Should add 2 vehicles, but got %d", len(w.vehicles))
	}
	for _, veh := range w.vehicles {
		if veh.departure != 0 {
			t.Errorf("Resumed vehicle should depart at 0, but got %f", veh.departure)
		}
		if !veh.attr.AddedPrevHour {
			t.Errorf("Resumed vehicle should be marked as added from the previous hour")
		}
	}
	if w.vehicles[0].attr.PrevName != "B" || w.vehicles[1].attr.PrevName != "C" {
		t.Errorf("Resumed vehicles should keep their previous names, but got %+v", w.vehicles)
	}
	if w.vehicles[1].orig != "2" {
		t.Errorf("Vehicle on link 2_3_0 should resume from node 2, but got %s", w.vehicles[1].orig)
	}

	empty := &recordingWorld{}
	if n, err := InjectLeftovers(empty, nil); err != nil || n != 0 {
		t.Errorf("Empty log should resume nothing, but got %d (%v)", n, err)
	}
}

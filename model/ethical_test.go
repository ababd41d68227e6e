package model

import "testing"

func TestEthicalAdjust(t *testing.T) {
	params := EthicalParams{}
	morning, noon, night := 8.0, 12.0, 22.0
	cases := []struct {
		female    float64
		fragility float64
		hour      *float64
		want      float64
	}{
		{0, 0, nil, 100},
		{100, 0, nil, 95},
		{100, 0, &morning, 85.5},
		{0, 1, &noon, 76},
		{0, 1, &night, 86},
		{0, 1, nil, 80},
		{250, -3, nil, 95},
	}
	for i, c := range cases {
		got := EthicalAdjust(100, c.female, c.fragility, c.hour, params)
		if Round(got, 1e-9) != Round(c.want, 1e-9) {
			t.Errorf("Case %d: value must be %f, but got %f", i, c.want, got)
		}
	}
}

func TestEthicalAdjustSeries(t *testing.T) {
	values := make([]float64, Slots)
	for i := range values {
		values[i] = 10
	}
	out := EthicalAdjustSeries(values, 100, 0, DefaultEthicalParams())
	// 08:00 is slot 96, inside the morning school run
	if Round(out[96], 1e-9) != Round(8.55, 1e-9) {
		t.Errorf("Slot 96 must be 8.55, but got %f", out[96])
	}
	if Round(out[0], 1e-9) != Round(9.5, 1e-9) {
		t.Errorf("Slot 0 must be 9.5, but got %f", out[0])
	}
}

func TestEthicalAdjustZoneSeries(t *testing.T) {
	rows := []ZoneSeriesRecord{
		{Zone: TotalZone, Slot: 96, ReferenceInflow: 10, ModifiedInflow: 10, ModifiedTraffic: 20, ModifiedEmissions: 30},
		{Zone: TotalZone, Slot: 0, ReferenceInflow: 10, ModifiedInflow: 10},
	}
	out := EthicalAdjustZoneSeries(rows, 100, 0, DefaultEthicalParams())
	if Round(out[0].ModifiedInflow, 1e-9) != Round(8.55, 1e-9) || Round(out[0].ModifiedTraffic, 1e-9) != Round(17.1, 1e-9) || Round(out[0].ModifiedEmissions, 1e-9) != Round(25.65, 1e-9) {
		t.Errorf("Slot 96 must be scaled by 0.855, but got %+v", out[0])
	}
	if Round(out[1].ModifiedInflow, 1e-9) != Round(9.5, 1e-9) {
		t.Errorf("Slot 0 must be 9.5, but got %f", out[1].ModifiedInflow)
	}
	if out[0].ReferenceInflow != 10 || rows[0].ModifiedInflow != 10 {
		t.Errorf("Reference series and input rows must not change")
	}
}

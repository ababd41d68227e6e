package model

import "math"

// TimeRange is a half-open range of hours of the day
type TimeRange struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
}

func (r TimeRange) contains(h float64) bool {
	return r.From <= h && h < r.To
}

// EthicalParams tunes EthicalAdjust. Zero values are replaced by defaults.
type EthicalParams struct {
	FemaleReductionBase      float64   `yaml:"female_reduction_base"`
	SchoolRunMorning         TimeRange `yaml:"school_run_morning"`
	SchoolRunAfternoon       TimeRange `yaml:"school_run_afternoon"`
	SchoolRunLate            TimeRange `yaml:"school_run_late"`
	SchoolRunFemaleReduction float64   `yaml:"school_run_female_reduction"`
	FragilityReductionBase   float64   `yaml:"fragility_reduction_base"`
	FragilityIndexMax        float64   `yaml:"fragility_index_max"`
	FragilitySensitiveHours  TimeRange `yaml:"fragility_sensitive_hours"`
}

func DefaultEthicalParams() EthicalParams {
	return EthicalParams{
		FemaleReductionBase:      0.05,
		SchoolRunMorning:         TimeRange{From: 7, To: 9},
		SchoolRunAfternoon:       TimeRange{From: 13, To: 15},
		SchoolRunLate:            TimeRange{From: 16, To: 18},
		SchoolRunFemaleReduction: 0.1,
		FragilityReductionBase:   0.2,
		FragilityIndexMax:        1.0,
		FragilitySensitiveHours:  TimeRange{From: 10, To: 15},
	}
}

func (p EthicalParams) withDefaults() EthicalParams {
	d := DefaultEthicalParams()
	if p.FemaleReductionBase == 0 {
		p.FemaleReductionBase = d.FemaleReductionBase
	}
	if p.SchoolRunMorning == (TimeRange{}) {
		p.SchoolRunMorning = d.SchoolRunMorning
	}
	if p.SchoolRunAfternoon == (TimeRange{}) {
		p.SchoolRunAfternoon = d.SchoolRunAfternoon
	}
	if p.SchoolRunLate == (TimeRange{}) {
		p.SchoolRunLate = d.SchoolRunLate
	}
	if p.SchoolRunFemaleReduction == 0 {
		p.SchoolRunFemaleReduction = d.SchoolRunFemaleReduction
	}
	if p.FragilityReductionBase == 0 {
		p.FragilityReductionBase = d.FragilityReductionBase
	}
	if p.FragilityIndexMax == 0 {
		p.FragilityIndexMax = d.FragilityIndexMax
	}
	if p.FragilitySensitiveHours == (TimeRange{}) {
		p.FragilitySensitiveHours = d.FragilitySensitiveHours
	}
	return p
}

// EthicalAdjust reduces a simulated value according to the share of female
// population (percent), a fragility index and, when timeOfDay is not nil,
// the hour of the day: school runs weigh on the female share, off-peak and
// night hours change the fragility weight.
func EthicalAdjust(raw, femalePercentage, fragilityIndex float64, timeOfDay *float64, params EthicalParams) float64 {
	p := params.withDefaults()
	value := raw

	female := math.Max(0, math.Min(femalePercentage/100, 1))
	value *= 1 - p.FemaleReductionBase*female

	if timeOfDay != nil {
		h := *timeOfDay
		if p.SchoolRunMorning.contains(h) || p.SchoolRunAfternoon.contains(h) || p.SchoolRunLate.contains(h) {
			value *= 1 - p.SchoolRunFemaleReduction*female
		}
	}

	fragilityMax := math.Max(1e-6, p.FragilityIndexMax)
	fragility := math.Max(0, math.Min(fragilityIndex/fragilityMax, 1))
	weight := 1.0
	if timeOfDay != nil {
		h := *timeOfDay
		switch {
		case p.FragilitySensitiveHours.contains(h):
			weight = 1.2
		case h < 7 || h >= 20:
			weight = 0.7
		}
	}
	value *= 1 - p.FragilityReductionBase*fragility*weight
	return value
}

// EthicalAdjustSeries applies EthicalAdjust slot by slot, using the slot
// time as time of day.
func EthicalAdjustSeries(values []float64, femalePercentage, fragilityIndex float64, params EthicalParams) []float64 {
	out := make([]float64, len(values))
	for t, v := range values {
		h := float64(t) / RecordFrequency
		out[t] = EthicalAdjust(v, femalePercentage, fragilityIndex, &h, params)
	}
	return out
}

// EthicalAdjustZoneSeries corrects the modified series of every row by its
// slot time. Reference series are left untouched.
func EthicalAdjustZoneSeries(rows []ZoneSeriesRecord, femalePercentage, fragilityIndex float64, params EthicalParams) []ZoneSeriesRecord {
	out := make([]ZoneSeriesRecord, len(rows))
	for i, r := range rows {
		h := float64(r.Slot) / RecordFrequency
		r.ModifiedInflow = EthicalAdjust(r.ModifiedInflow, femalePercentage, fragilityIndex, &h, params)
		r.ModifiedTraffic = EthicalAdjust(r.ModifiedTraffic, femalePercentage, fragilityIndex, &h, params)
		r.ModifiedEmissions = EthicalAdjust(r.ModifiedEmissions, femalePercentage, fragilityIndex, &h, params)
		out[i] = r
	}
	return out
}

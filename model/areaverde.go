package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// ZoneInput carries the hourly means (vehicles per hour) observed for one zone
type ZoneInput struct {
	ID                string
	InflowFromInside  []float64
	InflowFromOutside []float64
	Traffic           []float64
}

// Inputs are the data series of the model. Inflow and Starting are given per
// 5-minute slot, zones per hour.
type Inputs struct {
	Inflow   []float64
	Starting []float64
	Zones    []ZoneInput
}

func (in *Inputs) validate() error {
	if len(in.Inflow) != Slots {
		return fmt.Errorf("Inflow should have %d slots, got %d", Slots, len(in.Inflow))
	}
	if len(in.Starting) != Slots {
		return fmt.Errorf("Starting should have %d slots, got %d", Slots, len(in.Starting))
	}
	seen := make(map[string]struct{}, len(in.Zones))
	for _, z := range in.Zones {
		if _, ok := seen[z.ID]; ok {
			return fmt.Errorf("Zone '%s' is given twice", z.ID)
		}
		seen[z.ID] = struct{}{}
	}
	return nil
}

// Model is the Area Verde behavioural response model: how the regulated
// window splits the inflow into exempted, rigid (paying), anticipating,
// postponing, mode-shifted and lost vehicles, and what that does to traffic,
// emissions and fees.
type Model struct {
	cfg   Config
	Graph *Graph
	Zones []string

	TS        *Index
	StartTime *Index
	EndTime   *Index
	Cost      [EuroClasses]*Index
	Exempted  *Index

	P50Cost                *Index
	P50Anticipating        *Index
	P50Postponing          *Index
	P50Anticipation        *Index
	P50Postponement        *Index
	StartingModifiedFactor *Index
	PTComfort              *Index
	PTCapillarity          *Index
	PTFrequency            *Index
	PTCost                 *Index

	Inflow                *Index
	Starting              *Index
	ZoneInflowFromInside  map[string]*Index
	ZoneInflowFromOutside map[string]*Index
	ZoneInflow            map[string]*Index
	ZoneTraffic           map[string]*Index

	Traffic          *Index
	TotalBaseInflow  *Index
	AverageEmissions *Index

	DeltaFromStart   *Index
	DeltaToEnd       *Index
	DeltaBeforeStart *Index
	DeltaAfterEnd    *Index

	PTAcceptCost *Index
	// Set by the parallel strategy only
	FractionPRigidEuro    [EuroClasses]*Index
	FractionPRigid        *Index
	FractionPAnticipating *Index
	FractionPPostponing   *Index
	FractionPModeShifted  *Index
	FractionRigid         *Index
	FractionRigidEuro     [EuroClasses]*Index
	FractionAnticipating  *Index
	FractionPostponing    *Index
	FractionModeShifted   *Index
	FractionLost          *Index

	NumberAnticipating  *Index
	TotalAnticipating   *Index
	NumberAnticipated   *Index
	TotalAnticipated    *Index
	NumberPostponing    *Index
	TotalPostponing     *Index
	NumberPostponed     *Index
	TotalPostponed      *Index
	NumberTimeShifted   *Index
	TotalTimeShifted    *Index
	NumberModeShifted   *Index
	TotalModeShifted    *Index
	NumberLost          *Index
	TotalLost           *Index
	ModifiedInflow      *Index
	TotalModifiedInflow *Index
	ModifiedStarting    *Index
	InflowRatio         *Index
	StartingRatio       *Index
	ModifiedTraffic     *Index
	TrafficRatio        *Index

	ModifiedZoneInflow  map[string]*Index
	DeltaZoneInflow     map[string]*Index
	ModifiedZoneTraffic map[string]*Index
	DeltaZoneTraffic    map[string]*Index

	NumberPaying            *Index
	TotalPaying             *Index
	ModifiedEuroSplit       [EuroClasses]*Index
	ModifiedAvgCostPerPayer *Index
	TotalPaid               *Index

	ModifiedAverageEmissions *Index
	Emissions                *Index
	ModifiedEmissions        *Index
	ZoneEmissions            map[string]*Index
	ModifiedZoneEmissions    map[string]*Index
	DeltaZoneEmissions       map[string]*Index
	TotalEmissions           *Index
	TotalModifiedEmissions   *Index

	err error
}

var (
	decisionVariants = map[DecisionStrategy]func(*Model){
		DECISION_PARALLEL:   (*Model).buildParallelFractions,
		DECISION_SEQUENTIAL: (*Model).buildSequentialFractions,
	}
	timeShiftVariants = map[TimeShiftStrategy]func(*Model){
		TIME_SHIFT_FLEXIBLE: (*Model).buildFlexibleTimeShift,
		TIME_SHIFT_FIXED:    (*Model).buildFixedTimeShift,
	}
)

// NewModel builds the index graph of the configured variant
func NewModel(cfg Config, in Inputs) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid model configuration")
	}
	if err := in.validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid model inputs")
	}
	decision, ok := decisionVariants[cfg.Decision]
	if !ok {
		return nil, fmt.Errorf("Decision strategy %d is not handled", cfg.Decision)
	}
	timeShift, ok := timeShiftVariants[cfg.TimeShift]
	if !ok {
		return nil, fmt.Errorf("Time shift strategy %d is not handled", cfg.TimeShift)
	}
	m := &Model{
		cfg:   cfg,
		Graph: NewGraph(),
	}
	m.buildParameters()
	if err := m.buildFlows(in); err != nil {
		return nil, err
	}
	m.buildCurrentState()
	m.buildTime()
	decision(m)
	m.buildShiftedNumbers(timeShift)
	m.buildModifiedTotals()
	m.buildCosts()
	m.buildEmissions()
	if m.err != nil {
		return nil, errors.Wrap(m.err, "Can't build model graph")
	}
	return m, nil
}

func (m *Model) Config() Config {
	return m.cfg
}

// Evaluate draws size samples of every index
func (m *Model) Evaluate(size int, src rand.Source) (*Batch, error) {
	return m.Graph.Evaluate(size, src)
}

// Run evaluates with the configured number of draws and seed
func (m *Model) Run() (*Batch, error) {
	return m.Evaluate(m.cfg.Draws, rand.NewPCG(m.cfg.Seed, m.cfg.Seed))
}

func (m *Model) register(idx *Index) *Index {
	if m.err == nil {
		m.err = m.Graph.Add(idx)
	}
	return idx
}

func (m *Model) constant(name string, v float64) *Index {
	return m.register(Constant(name, v))
}

func (m *Model) derived(name string, expr Expr, deps ...*Index) *Index {
	return m.register(Derived(name, expr, deps...))
}

// total registers the daily sum of a time series
func (m *Model) total(name string, ts *Index) *Index {
	return m.derived(name, func(a ...*Array) *Array { return Sum(a[0]) }, ts)
}

// inWindow reads the last three arguments as (TS, start, end)
func inWindow(v []float64) bool {
	n := len(v)
	return v[n-3] >= v[n-2] && v[n-3] <= v[n-1]
}

// windowed registers an index equal to inside(v) within the regulated window
// and outside(v) elsewhere. TS, start and end are appended to deps.
func (m *Model) windowed(name string, inside, outside func(v []float64) float64, deps ...*Index) *Index {
	deps = append(deps, m.TS, m.StartTime, m.EndTime)
	return m.derived(name, func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			if inWindow(v) {
				return inside(v)
			}
			return outside(v)
		}, a...)
	}, deps...)
}

func zero([]float64) float64 { return 0 }

func (m *Model) buildParameters() {
	p := m.cfg.Parameters
	ts := make([]float64, Slots)
	for i := range ts {
		ts[i] = float64(i * 3600 / RecordFrequency)
	}
	m.TS = m.register(Series("time range", ts))
	m.StartTime = m.constant("start time", p.StartTime)
	m.EndTime = m.constant("end time", p.EndTime)
	for e := 0; e < EuroClasses; e++ {
		m.Cost[e] = m.constant(fmt.Sprintf("cost euro %d", e), p.Cost[e])
	}
	m.Exempted = m.constant("exempted vehicles %", p.FractionExempted)

	m.P50Cost = m.register(Stochastic("cost 50% threshold", p.P50Cost))
	m.P50Anticipating = m.constant("anticipation 50% likelihood", p.P50Anticipating)
	m.P50Postponing = m.constant("postponement 50% likelihood", p.P50Postponing)
	m.P50Anticipation = m.constant("anticipation distribution 50% threshold", p.P50Anticipation)
	m.P50Postponement = m.constant("postponement distribution 50% threshold", p.P50Postponement)
	m.StartingModifiedFactor = m.constant("starting modified factor", p.StartingModifiedFactor)

	m.PTComfort = m.constant("importance level of the comfort of the pt", p.PTComfortImportance)
	m.PTCapillarity = m.constant("importance level of capillarity of the pt", p.PTCapillarityImportance)
	m.PTFrequency = m.constant("importance level of frequency per stop of the pt", p.PTFrequencyImportance)
	m.PTCost = m.constant("importance level of the cost of the pt", p.PTCostImportance)
}

func (m *Model) buildFlows(in Inputs) error {
	m.Inflow = m.register(Series("inflow", in.Inflow))
	m.Starting = m.register(Series("starting", in.Starting))

	m.ZoneInflowFromInside = make(map[string]*Index, len(in.Zones))
	m.ZoneInflowFromOutside = make(map[string]*Index, len(in.Zones))
	m.ZoneInflow = make(map[string]*Index, len(in.Zones))
	m.ZoneTraffic = make(map[string]*Index, len(in.Zones))
	for _, z := range in.Zones {
		inside, err := upsampleHourly(z.InflowFromInside)
		if err != nil {
			return errors.Wrapf(err, "Zone '%s' inflow from inside", z.ID)
		}
		outside, err := upsampleHourly(z.InflowFromOutside)
		if err != nil {
			return errors.Wrapf(err, "Zone '%s' inflow from outside", z.ID)
		}
		traffic, err := upsampleHourly(z.Traffic)
		if err != nil {
			return errors.Wrapf(err, "Zone '%s' traffic", z.ID)
		}
		m.Zones = append(m.Zones, z.ID)
		m.ZoneInflowFromInside[z.ID] = m.register(Series(fmt.Sprintf("zone %s inflow from inside", z.ID), inside))
		m.ZoneInflowFromOutside[z.ID] = m.register(Series(fmt.Sprintf("zone %s inflow from outside", z.ID), outside))
		m.ZoneInflow[z.ID] = m.derived(fmt.Sprintf("zone %s inflow", z.ID), func(a ...*Array) *Array {
			return Add(a[0], a[1])
		}, m.ZoneInflowFromInside[z.ID], m.ZoneInflowFromOutside[z.ID])
		m.ZoneTraffic[z.ID] = m.register(Series(fmt.Sprintf("zone %s traffic", z.ID), traffic))
	}
	return nil
}

// upsampleHourly converts hourly means into per-slot values
func upsampleHourly(hourly []float64) ([]float64, error) {
	perSlot := make([]float64, len(hourly))
	for i, v := range hourly {
		perSlot[i] = v / RecordFrequency
	}
	return Upsample(perSlot)
}

func (m *Model) buildCurrentState() {
	p := m.cfg.Parameters
	solve := m.cfg.Traffic.Solver()
	m.Traffic = m.derived("reference traffic", func(a ...*Array) *Array {
		return solve(Add(a[0], a[1]), p.DwellTime)
	}, m.Inflow, m.Starting)
	m.TotalBaseInflow = m.total("total base vehicle inflow", m.Inflow)
	avg := 0.0
	for e := 0; e < EuroClasses; e++ {
		avg += p.EuroClassEmission[e] * p.EuroClassSplit[e]
	}
	m.AverageEmissions = m.constant("average emissions (per vehicle, per km)", avg)
}

func (m *Model) buildTime() {
	delta := func(name string, f func(ts, start, end float64) float64) *Index {
		return m.derived(name, func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 { return f(v[0], v[1], v[2]) }, a...)
		}, m.TS, m.StartTime, m.EndTime)
	}
	m.DeltaFromStart = delta("delta time from start", func(ts, start, _ float64) float64 {
		if ts >= start {
			return (ts - start) / 3600
		}
		return math.Inf(1)
	})
	m.DeltaToEnd = delta("delta time to end", func(ts, _, end float64) float64 {
		if ts <= end {
			return (end - ts) / 3600
		}
		return math.Inf(1)
	})
	m.DeltaBeforeStart = delta("delta time before start", func(ts, start, _ float64) float64 {
		if ts < start {
			return (start - ts) / 3600
		}
		return math.Inf(1)
	})
	m.DeltaAfterEnd = delta("delta time after end", func(ts, _, end float64) float64 {
		if ts > end {
			return (ts - end) / 3600
		}
		return math.Inf(1)
	})
}

// logisticModeShift is the probability of leaving the car for public transport
func (m *Model) logisticModeShift(comfort, capillarity, frequency, cost, accept float64) float64 {
	p := m.cfg.Parameters
	utility := comfort*p.PTComfort + capillarity*p.PTCapillarity + frequency*p.PTFrequency + cost*accept
	return 1 / (1 + math.Exp(utility))
}

func (m *Model) buildPTAcceptCost() {
	avgCost := m.cfg.Parameters.PTAverageCost
	m.PTAcceptCost = m.derived("probability of accepting the cost of the pt", func(a ...*Array) *Array {
		return Map(a[0], func(p50 float64) float64 { return halfLife(avgCost, p50) })
	}, m.P50Cost)
}

// buildParallelFractions lets every behaviour compete at once: each has its
// own propensity and ChooseBase apportions who wins.
func (m *Model) buildParallelFractions() {
	split := m.cfg.Parameters.EuroClassSplit
	m.buildPTAcceptCost()
	for e := 0; e < EuroClasses; e++ {
		m.FractionPRigidEuro[e] = m.derived(fmt.Sprintf("fraction of possibly rigid vehicles per euro_%d %%", e), func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 { return halfLife(v[0], v[1]) }, a...)
		}, m.Cost[e], m.P50Cost)
	}
	rigidDeps := append([]*Index{m.Exempted}, m.FractionPRigidEuro[:]...)
	m.FractionPRigid = m.derived("fraction of possibly rigid vehicles", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			s := 0.0
			for e := 0; e < EuroClasses; e++ {
				s += v[1+e] * split[e]
			}
			return s * (1 - v[0])
		}, a...)
	}, rigidDeps...)
	m.FractionPAnticipating = m.derived("fraction of possibly anticipating vehicles", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 { return halfLife(v[0], v[1]) * (1 - v[2]) }, a...)
	}, m.DeltaFromStart, m.P50Anticipating, m.Exempted)
	m.FractionPPostponing = m.derived("fraction of possibly postponing vehicles", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 { return halfLife(v[0], v[1]) * (1 - v[2]) }, a...)
	}, m.DeltaToEnd, m.P50Postponing, m.Exempted)
	if m.cfg.ModalShift.PublicTransport() {
		m.FractionPModeShifted = m.derived("fraction of possibly mode-shifted vehicles", func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 {
				return m.logisticModeShift(v[0], v[1], v[2], v[3], v[4]) * (1 - v[5])
			}, a...)
		}, m.PTComfort, m.PTCapillarity, m.PTFrequency, m.PTCost, m.PTAcceptCost, m.Exempted)
	} else {
		m.FractionPModeShifted = m.constant("fraction of possibly mode-shifted vehicles", 0)
	}

	choose := func(name string, outside float64, base *Index, others ...*Index) *Index {
		deps := append([]*Index{base}, others...)
		deps = append(deps, m.Exempted, m.TS, m.StartTime, m.EndTime)
		k := len(others)
		return m.derived(name, func(a ...*Array) *Array {
			p := ChooseBase(a[0], a[1:1+k]...)
			return Apply(func(v []float64) float64 {
				if inWindow(v) {
					return v[0] * (1 - v[1])
				}
				if outside < 0 {
					return 1 - v[1]
				}
				return outside
			}, append([]*Array{p}, a[1+k:]...)...)
		}, deps...)
	}
	pr, pa, pp, pm := m.FractionPRigid, m.FractionPAnticipating, m.FractionPPostponing, m.FractionPModeShifted
	// outside the window every non exempted vehicle stays rigid
	m.FractionRigid = choose("fraction of rigid vehicles", -1, pr, pa, pp, pm)
	for e := 0; e < EuroClasses; e++ {
		share := split[e]
		m.FractionRigidEuro[e] = m.derived(fmt.Sprintf("fraction rigid vehicles per euro_%d %%", e), func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 {
				return v[0] * (share * v[1]) / (v[2] / (1 - v[3]))
			}, a...)
		}, m.FractionRigid, m.FractionPRigidEuro[e], m.FractionPRigid, m.Exempted)
	}
	m.FractionAnticipating = choose("fraction of anticipating vehicles", 0, pa, pr, pp, pm)
	m.FractionPostponing = choose("fraction of postponing vehicles", 0, pp, pr, pa, pm)
	m.FractionModeShifted = choose("fraction of mode-shifted vehicles", 0, pm, pp, pr, pa)
	m.FractionLost = m.windowed("fraction of lost vehicles", func(v []float64) float64 {
		return (1 - v[0]) * (1 - v[1]) * (1 - v[2]) * (1 - v[3]) * (1 - v[4])
	}, zero, pr, pa, pp, pm, m.Exempted)
}

// buildSequentialFractions takes decisions one after the other: rigid
// vehicles first, then anticipating, postponing and mode-shifted ones out of
// the remainder.
func (m *Model) buildSequentialFractions() {
	split := m.cfg.Parameters.EuroClassSplit
	m.buildPTAcceptCost()
	for e := 0; e < EuroClasses; e++ {
		share := split[e]
		m.FractionRigidEuro[e] = m.derived(fmt.Sprintf("rigid vehicles euro_%d %%", e), func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 {
				return (1 - v[0]) * halfLife(v[1], v[2]) * share
			}, a...)
		}, m.Exempted, m.Cost[e], m.P50Cost)
	}
	m.FractionRigid = m.derived("rigid vehicles %", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			s := 0.0
			for _, x := range v {
				s += x
			}
			return s
		}, a...)
	}, m.FractionRigidEuro[:]...)
	m.FractionAnticipating = m.windowed("anticipating vehicles %", func(v []float64) float64 {
		return halfLife(v[0], v[1]) * (1 - v[2] - v[3])
	}, zero, m.DeltaFromStart, m.P50Anticipating, m.Exempted, m.FractionRigid)
	m.FractionPostponing = m.windowed("postponing vehicles %", func(v []float64) float64 {
		return halfLife(v[0], v[1]) * (1 - v[2] - v[3] - v[4])
	}, zero, m.DeltaToEnd, m.P50Postponing, m.Exempted, m.FractionRigid, m.FractionAnticipating)
	if m.cfg.ModalShift.PublicTransport() {
		m.FractionModeShifted = m.windowed("fraction of mode-shifted vehicles", func(v []float64) float64 {
			return m.logisticModeShift(v[0], v[1], v[2], v[3], v[4]) * (1 - v[5] - v[6] - v[7] - v[8])
		}, zero, m.PTComfort, m.PTCapillarity, m.PTFrequency, m.PTCost, m.PTAcceptCost,
			m.Exempted, m.FractionRigid, m.FractionAnticipating, m.FractionPostponing)
	} else {
		m.FractionModeShifted = m.constant("fraction of mode-shifted vehicles", 0)
	}
	m.FractionLost = m.windowed("fraction of lost vehicles", func(v []float64) float64 {
		return 1 - v[0] - v[1] - v[2] - v[3] - v[4]
	}, zero, m.FractionRigid, m.FractionAnticipating, m.FractionPostponing, m.Exempted, m.FractionModeShifted)
}

func (m *Model) times(name string, a, b *Index) *Index {
	return m.derived(name, func(args ...*Array) *Array { return Mul(args[0], args[1]) }, a, b)
}

func (m *Model) plus(name string, a, b *Index) *Index {
	return m.derived(name, func(args ...*Array) *Array { return Add(args[0], args[1]) }, a, b)
}

func (m *Model) minus(name string, a, b *Index) *Index {
	return m.derived(name, func(args ...*Array) *Array { return Sub(args[0], args[1]) }, a, b)
}

func (m *Model) buildShiftedNumbers(timeShift func(*Model)) {
	m.NumberAnticipating = m.times("anticipating vehicles", m.FractionAnticipating, m.Inflow)
	m.TotalAnticipating = m.total("total anticipating vehicles", m.NumberAnticipating)
	m.NumberPostponing = m.times("postponing vehicles", m.FractionPostponing, m.Inflow)
	m.TotalPostponing = m.total("total postponing vehicles", m.NumberPostponing)

	timeShift(m)

	m.TotalAnticipated = m.total("total vehicles anticipated", m.NumberAnticipated)
	m.TotalPostponed = m.total("total vehicles postponed", m.NumberPostponed)
	m.NumberTimeShifted = m.plus("time-shifted vehicles", m.NumberAnticipated, m.NumberPostponed)
	m.TotalTimeShifted = m.plus("total vehicles shifted", m.TotalAnticipated, m.TotalPostponed)
	m.NumberModeShifted = m.times("mode-shifted vehicles", m.FractionModeShifted, m.Inflow)
	m.TotalModeShifted = m.total("total mode shifted vehicles", m.NumberModeShifted)
	m.NumberLost = m.times("lost vehicles", m.FractionLost, m.Inflow)
	m.TotalLost = m.total("total lost vehicles", m.NumberLost)
}

// buildFlexibleTimeShift spreads the daily totals over the slots just before
// the start and just after the end with a half-life decay.
func (m *Model) buildFlexibleTimeShift() {
	spread := func(v []float64) float64 {
		return (halfLife(v[0]-RecordHeadway, v[1]) - halfLife(v[0], v[1])) * v[2]
	}
	m.NumberAnticipated = m.derived("anticipated vehicles", func(a ...*Array) *Array {
		return Apply(spread, a...)
	}, m.DeltaBeforeStart, m.P50Anticipation, m.TotalAnticipating)
	m.NumberPostponed = m.derived("postponed vehicles", func(a ...*Array) *Array {
		return Apply(spread, a...)
	}, m.DeltaAfterEnd, m.P50Postponement, m.TotalPostponing)
}

// buildFixedTimeShift moves every slot's shifters individually
func (m *Model) buildFixedTimeShift() {
	m.NumberAnticipated = m.derived("vehicles anticipated", func(a ...*Array) *Array {
		return Anticipate(a[0], a[1], a[2])
	}, m.NumberAnticipating, m.DeltaFromStart, m.P50Anticipating)
	m.NumberPostponed = m.derived("vehicles postponed", func(a ...*Array) *Array {
		return Postpone(a[0], a[1], a[2])
	}, m.NumberPostponing, m.DeltaToEnd, m.P50Postponing)
}

func (m *Model) buildModifiedTotals() {
	p := m.cfg.Parameters
	solve := m.cfg.Traffic.Solver()
	m.ModifiedInflow = m.windowed("modified vehicle inflow", func(v []float64) float64 {
		return (v[0] + v[1]) * v[2]
	}, func(v []float64) float64 {
		return v[2] + v[3]
	}, m.Exempted, m.FractionRigid, m.Inflow, m.NumberTimeShifted)
	m.TotalModifiedInflow = m.total("total modified vehicle inflow", m.ModifiedInflow)
	m.ModifiedStarting = m.derived("modified starting", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			return v[0] + v[0]*v[3]*(v[1]/v[2]-1)
		}, a...)
	}, m.Starting, m.TotalModifiedInflow, m.TotalBaseInflow, m.StartingModifiedFactor)
	m.InflowRatio = m.derived("ratio between modified flow and base flow", func(a ...*Array) *Array {
		return Div(a[0], a[1])
	}, m.Inflow, m.ModifiedInflow)
	m.StartingRatio = m.derived("ratio between modified starting and base starting", func(a ...*Array) *Array {
		return Div(a[0], a[1])
	}, m.Starting, m.ModifiedStarting)

	m.ModifiedZoneInflow = make(map[string]*Index, len(m.Zones))
	m.DeltaZoneInflow = make(map[string]*Index, len(m.Zones))
	for _, z := range m.Zones {
		m.ModifiedZoneInflow[z] = m.derived(fmt.Sprintf("modified zone %s inflow", z), func(a ...*Array) *Array {
			return Apply(func(v []float64) float64 { return v[0]/v[1] + v[2]/v[3] }, a...)
		}, m.ZoneInflowFromOutside[z], m.InflowRatio, m.ZoneInflowFromInside[z], m.StartingRatio)
		m.DeltaZoneInflow[z] = m.minus(fmt.Sprintf("delta zone %s inflow", z), m.ModifiedZoneInflow[z], m.ZoneInflow[z])
	}

	m.ModifiedTraffic = m.derived("modified traffic", func(a ...*Array) *Array {
		return solve(Add(a[0], a[1]), p.DwellTime)
	}, m.ModifiedInflow, m.ModifiedStarting)
	m.TrafficRatio = m.derived("ratio between modified traffic and base traffic", func(a ...*Array) *Array {
		return Div(a[0], a[1])
	}, m.Traffic, m.ModifiedTraffic)

	m.ModifiedZoneTraffic = make(map[string]*Index, len(m.Zones))
	m.DeltaZoneTraffic = make(map[string]*Index, len(m.Zones))
	for _, z := range m.Zones {
		m.ModifiedZoneTraffic[z] = m.derived(fmt.Sprintf("modified zone %s traffic", z), func(a ...*Array) *Array {
			return Div(a[0], a[1])
		}, m.ZoneTraffic[z], m.TrafficRatio)
		m.DeltaZoneTraffic[z] = m.minus(fmt.Sprintf("delta zone %s traffic", z), m.ModifiedZoneTraffic[z], m.ZoneTraffic[z])
	}
}

func (m *Model) buildCosts() {
	p := m.cfg.Parameters
	m.NumberPaying = m.windowed("paying vehicles", func(v []float64) float64 {
		return v[0] * v[1]
	}, zero, m.FractionRigid, m.Inflow)
	m.TotalPaying = m.total("total vehicles paying", m.NumberPaying)
	for e := 0; e < EuroClasses; e++ {
		share := p.EuroClassSplit[e]
		m.ModifiedEuroSplit[e] = m.windowed(fmt.Sprintf("modified split euro_%d %%", e), func(v []float64) float64 {
			return (v[0]*share + v[1]) / (v[0] + v[2])
		}, func([]float64) float64 {
			return share
		}, m.Exempted, m.FractionRigidEuro[e], m.FractionRigid)
	}
	costDeps := append(append([]*Index{}, m.Cost[:]...), m.FractionRigidEuro[:]...)
	m.ModifiedAvgCostPerPayer = m.derived("modified average cost with respect to the vehicles paying", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			s := 0.0
			for e := 0; e < EuroClasses; e++ {
				s += v[e] * v[EuroClasses+e]
			}
			return s
		}, a...)
	}, costDeps...)
	m.TotalPaid = m.times("total paid fees", m.TotalPaying, m.ModifiedAvgCostPerPayer)
}

func (m *Model) buildEmissions() {
	p := m.cfg.Parameters
	km := p.KmPerSlot
	m.ModifiedAverageEmissions = m.derived("modified average emissions (per vehicle, per km)", func(a ...*Array) *Array {
		return Apply(func(v []float64) float64 {
			s := 0.0
			for e := 0; e < EuroClasses; e++ {
				s += p.EuroClassEmission[e] * v[e]
			}
			return s
		}, a...)
	}, m.ModifiedEuroSplit[:]...)
	emissions := func(name string, avg, traffic *Index) *Index {
		return m.derived(name, func(a ...*Array) *Array {
			return Scale(km, Mul(a[0], a[1]))
		}, avg, traffic)
	}
	m.Emissions = emissions("emissions", m.AverageEmissions, m.Traffic)
	m.ModifiedEmissions = emissions("modified emissions", m.ModifiedAverageEmissions, m.ModifiedTraffic)

	m.ZoneEmissions = make(map[string]*Index, len(m.Zones))
	m.ModifiedZoneEmissions = make(map[string]*Index, len(m.Zones))
	m.DeltaZoneEmissions = make(map[string]*Index, len(m.Zones))
	for _, z := range m.Zones {
		m.ZoneEmissions[z] = emissions(fmt.Sprintf("zone %s emissions", z), m.AverageEmissions, m.ZoneTraffic[z])
		m.ModifiedZoneEmissions[z] = emissions(fmt.Sprintf("modified zone %s emissions", z), m.ModifiedAverageEmissions, m.ModifiedZoneTraffic[z])
		m.DeltaZoneEmissions[z] = m.minus(fmt.Sprintf("delta zone %s emissions", z), m.ModifiedZoneEmissions[z], m.ZoneEmissions[z])
	}
	m.TotalEmissions = m.total("total emissions", m.Emissions)
	m.TotalModifiedEmissions = m.total("total modified emissions", m.ModifiedEmissions)
}

package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type DecisionStrategy uint8

const (
	DECISION_PARALLEL = DecisionStrategy(iota + 1)
	DECISION_SEQUENTIAL
)

func (iotaIdx DecisionStrategy) String() string {
	return [...]string{"parallel", "sequential"}[iotaIdx-1]
}

type TimeShiftStrategy uint8

const (
	TIME_SHIFT_FIXED = TimeShiftStrategy(iota + 1)
	TIME_SHIFT_FLEXIBLE
)

func (iotaIdx TimeShiftStrategy) String() string {
	return [...]string{"fixed", "flexible"}[iotaIdx-1]
}

type ModalShiftOption uint8

const (
	MODAL_SHIFT_NO = ModalShiftOption(iota + 1)
	MODAL_SHIFT_TPM
	MODAL_SHIFT_ACTIVE
	MODAL_SHIFT_TPM_ACTIVE
)

func (iotaIdx ModalShiftOption) String() string {
	return [...]string{"no", "tpm", "active", "tpm-active"}[iotaIdx-1]
}

// PublicTransport reports whether the option lets vehicles shift to public transport
func (iotaIdx ModalShiftOption) PublicTransport() bool {
	return iotaIdx == MODAL_SHIFT_TPM || iotaIdx == MODAL_SHIFT_TPM_ACTIVE
}

type TrafficMode uint8

const (
	TRAFFIC_ADAPTIVE = TrafficMode(iota + 1)
	TRAFFIC_DETERMINISTIC
)

func (iotaIdx TrafficMode) String() string {
	return [...]string{"adaptive", "deterministic"}[iotaIdx-1]
}

// Solver returns the congestion-decay operator of the mode
func (iotaIdx TrafficMode) Solver() Solver {
	if iotaIdx == TRAFFIC_ADAPTIVE {
		return SolveAdaptive
	}
	return SolveDeterministic
}

var (
	decisionStrategies  = map[string]DecisionStrategy{"parallel": DECISION_PARALLEL, "sequential": DECISION_SEQUENTIAL}
	timeShiftStrategies = map[string]TimeShiftStrategy{"fixed": TIME_SHIFT_FIXED, "flexible": TIME_SHIFT_FLEXIBLE}
	modalShiftOptions   = map[string]ModalShiftOption{"no": MODAL_SHIFT_NO, "tpm": MODAL_SHIFT_TPM, "active": MODAL_SHIFT_ACTIVE, "tpm-active": MODAL_SHIFT_TPM_ACTIVE}
	trafficModes        = map[string]TrafficMode{"adaptive": TRAFFIC_ADAPTIVE, "deterministic": TRAFFIC_DETERMINISTIC}
)

func ParseDecisionStrategy(s string) (DecisionStrategy, error) {
	if v, ok := decisionStrategies[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("Decision strategy is '%s', but should have values in [parallel, sequential]", s)
}

func ParseTimeShiftStrategy(s string) (TimeShiftStrategy, error) {
	if v, ok := timeShiftStrategies[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("Time shift strategy is '%s', but should have values in [fixed, flexible]", s)
}

func ParseModalShiftOption(s string) (ModalShiftOption, error) {
	if v, ok := modalShiftOptions[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("Modal shift option is '%s', but should have values in [no, tpm, active, tpm-active]", s)
}

func ParseTrafficMode(s string) (TrafficMode, error) {
	if v, ok := trafficModes[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("Traffic computation mode is '%s', but should have values in [adaptive, deterministic]", s)
}

func (iotaIdx *DecisionStrategy) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDecisionStrategy(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx DecisionStrategy) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

func (iotaIdx *TimeShiftStrategy) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseTimeShiftStrategy(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx TimeShiftStrategy) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

func (iotaIdx *ModalShiftOption) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseModalShiftOption(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx ModalShiftOption) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

func (iotaIdx *TrafficMode) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseTrafficMode(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx TrafficMode) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

// EuroClasses is the number of euro emission classes (euro 0 to euro 6)
const EuroClasses = 7

// Parameters of the Area Verde policy and of the behavioural response
type Parameters struct {
	// Regulated window, seconds from midnight
	StartTime float64 `yaml:"start_time"`
	EndTime   float64 `yaml:"end_time"`

	EuroClassSplit    [EuroClasses]float64 `yaml:"euro_class_split"`
	EuroClassEmission [EuroClasses]float64 `yaml:"euro_class_emission"`
	Cost              [EuroClasses]float64 `yaml:"cost"`
	FractionExempted  float64              `yaml:"fraction_exempted"`

	P50Cost                Uniform `yaml:"p50_cost"`
	P50Anticipating        float64 `yaml:"p50_anticipating"`
	P50Postponing          float64 `yaml:"p50_postponing"`
	P50Anticipation        float64 `yaml:"p50_anticipation"`
	P50Postponement        float64 `yaml:"p50_postponement"`
	StartingModifiedFactor float64 `yaml:"starting_modified_factor"`

	PTComfortImportance     float64 `yaml:"pt_comfort_importance"`
	PTCapillarityImportance float64 `yaml:"pt_capillarity_importance"`
	PTFrequencyImportance   float64 `yaml:"pt_frequency_importance"`
	PTCostImportance        float64 `yaml:"pt_cost_importance"`

	PTComfort     float64 `yaml:"pt_comfort"`
	PTFrequency   float64 `yaml:"pt_frequency"`
	PTCapillarity float64 `yaml:"pt_capillarity"`
	PTAverageCost float64 `yaml:"pt_average_cost"`

	// Hours spent in the zone by an average vehicle
	DwellTime float64 `yaml:"dwell_time"`
	// Kilometres driven per vehicle per slot, for emissions
	KmPerSlot float64 `yaml:"km_per_slot"`
}

// Config selects the model variant and its parameters
type Config struct {
	Decision   DecisionStrategy  `yaml:"decision_strategy"`
	TimeShift  TimeShiftStrategy `yaml:"time_shift_strategy"`
	ModalShift ModalShiftOption  `yaml:"modal_shift_option"`
	Traffic    TrafficMode       `yaml:"traffic_computation_mode"`
	Draws      int               `yaml:"draws"`
	Seed       uint64            `yaml:"seed"`
	Parameters Parameters        `yaml:"parameters"`
}

func DefaultParameters() Parameters {
	p := Parameters{
		StartTime:         7.5 * 3600,
		EndTime:           19.5 * 3600,
		EuroClassSplit:    [EuroClasses]float64{0.059, 0.012, 0.034, 0.054, 0.198, 0.176, 0.467},
		EuroClassEmission: [EuroClasses]float64{0.210584391986267347, 0.2174573179869368, 0.24014520073869067, 0.24723923486567853, 0.1355550834386541, 0.09955851060544411, 0.06824599009858062},
		FractionExempted:  0.15,

		P50Cost:                Uniform{Loc: 4, Scale: 7},
		P50Anticipating:        0.25,
		P50Postponing:          0.5,
		P50Anticipation:        0.5,
		P50Postponement:        0.5,
		StartingModifiedFactor: 0,

		PTComfortImportance:     1,
		PTCapillarityImportance: 1,
		PTFrequencyImportance:   1,
		PTCostImportance:        1,

		PTComfort:     0.5,
		PTFrequency:   0.3259,
		PTCapillarity: 0.1962,
		PTAverageCost: 3.0743,

		DwellTime: 1.0 / 3,
		KmPerSlot: 2.5,
	}
	for e := range p.Cost {
		p.Cost[e] = 5.00 - float64(e)*0.25
	}
	return p
}

func DefaultConfig() Config {
	return Config{
		Decision:   DECISION_PARALLEL,
		TimeShift:  TIME_SHIFT_FLEXIBLE,
		ModalShift: MODAL_SHIFT_TPM,
		Traffic:    TRAFFIC_DETERMINISTIC,
		Draws:      10,
		Seed:       1,
		Parameters: DefaultParameters(),
	}
}

// Validate fails on unset enumerations and inconsistent parameters
func (cfg *Config) Validate() error {
	switch {
	case cfg.Decision == 0:
		return errors.New("Decision strategy is not set")
	case cfg.TimeShift == 0:
		return errors.New("Time shift strategy is not set")
	case cfg.ModalShift == 0:
		return errors.New("Modal shift option is not set")
	case cfg.Traffic == 0:
		return errors.New("Traffic computation mode is not set")
	case cfg.Draws < 1:
		return fmt.Errorf("Number of draws should be positive, got %d", cfg.Draws)
	}
	p := cfg.Parameters
	if p.EndTime <= p.StartTime {
		return fmt.Errorf("End time %v should follow start time %v", p.EndTime, p.StartTime)
	}
	if p.FractionExempted < 0 || p.FractionExempted >= 1 {
		return fmt.Errorf("Exempted fraction should be in [0, 1), got %v", p.FractionExempted)
	}
	for name, v := range map[string]float64{
		"p50_anticipating": p.P50Anticipating,
		"p50_postponing":   p.P50Postponing,
		"p50_anticipation": p.P50Anticipation,
		"p50_postponement": p.P50Postponement,
	} {
		if v <= 0 {
			return fmt.Errorf("Parameter '%s' should be positive, got %v", name, v)
		}
	}
	if p.P50Cost.Loc <= 0 || p.P50Cost.Scale < 0 {
		return fmt.Errorf("Cost threshold distribution should lie on positive values, got %+v", p.P50Cost)
	}
	return nil
}

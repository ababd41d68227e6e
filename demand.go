package areaverde

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"
)

const (
	HoursPerDay    = 24
	SecondsPerHour = 3600
)

var (
	ErrBadWeights = errors.New("Hour weights should hold 24 non-negative values with a positive sum")
	ErrBadHours   = errors.New("Hours should be distinct values in [0, 23]")
)

// FlowRecord is a daily demand flow between two catchment circles. Ordinal
// is the 1-based line number inside its file.
type FlowRecord struct {
	Ordinal int
	XOrig   float64
	YOrig   float64
	ROrig   float64
	XDest   float64
	YDest   float64
	RDest   float64
	Volume  float64
}

func (flow FlowRecord) Origin() orb.Point {
	return orb.Point{flow.XOrig, flow.YOrig}
}

func (flow FlowRecord) Destination() orb.Point {
	return orb.Point{flow.XDest, flow.YDest}
}

// Degenerate flows start and end in the same circle
func (flow FlowRecord) Degenerate() bool {
	return flow.XOrig == flow.XDest && flow.YOrig == flow.YDest && flow.ROrig == flow.RDest
}

// LoadFlows reads x_orig,y_orig,r_orig,x_dest,y_dest,r_dest,volume rows.
// Extra columns are ignored.
func LoadFlows(fname string) ([]FlowRecord, error) {
	flows := []FlowRecord{}
	err := readRows(fname, 7, func(row []string, line int) error {
		values := [7]float64{}
		for i := range values {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				return errors.Wrapf(err, "Bad value on line %d of '%s'", line, fname)
			}
			values[i] = v
		}
		if values[6] < 0 {
			return fmt.Errorf("Volume on line %d of '%s' is negative: %f", line, fname, values[6])
		}
		flows = append(flows, FlowRecord{
			Ordinal: line,
			XOrig:   values[0],
			YOrig:   values[1],
			ROrig:   values[2],
			XDest:   values[3],
			YDest:   values[4],
			RDest:   values[5],
			Volume:  values[6],
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "Can't read flows")
	}
	return flows, nil
}

// HourWeights is a probability mass over the hours of the day
type HourWeights []float64

func (weights HourWeights) Validate() error {
	if len(weights) != HoursPerDay {
		return errors.Wrapf(ErrBadWeights, "Got %d values", len(weights))
	}
	sum := 0.0
	for h, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return errors.Wrapf(ErrBadWeights, "Hour %d has weight %f", h, w)
		}
		sum += w
	}
	if sum <= 0 {
		return ErrBadWeights
	}
	return nil
}

// InflowWeights distribute daily demand over hours following the zone inflow
func InflowWeights() HourWeights {
	return HourWeights{
		0.01144457, 0.00486095, 0.00243493, 0.00260924, 0.00457556,
		0.01202913, 0.03529495, 0.06563432, 0.07102766, 0.05941337,
		0.05585619, 0.05693654, 0.05517072, 0.05273153, 0.05359615,
		0.05863698, 0.07322648, 0.08225498, 0.07508405, 0.05935842,
		0.03910813, 0.02533367, 0.02307903, 0.02030244,
	}
}

// TrafficWeights distribute daily demand over hours following the zone traffic
func TrafficWeights() HourWeights {
	return HourWeights{
		0.01493109, 0.00666581, 0.00333917, 0.00236107, 0.00377171,
		0.00875083, 0.02261428, 0.05682909, 0.07427100, 0.06475755,
		0.05954089, 0.05915686, 0.05813329, 0.05474482, 0.05510267,
		0.05692899, 0.06542430, 0.07393531, 0.07157945, 0.06339790,
		0.04717396, 0.02894771, 0.02392624, 0.02371601,
	}
}

// WeightsByName resolves "inflow" or "traffic"
func WeightsByName(name string) (HourWeights, error) {
	switch name {
	case "inflow":
		return InflowWeights(), nil
	case "traffic":
		return TrafficWeights(), nil
	default:
		return nil, fmt.Errorf("Hour weights are '%s', but should have values in [inflow, traffic]", name)
	}
}

// DemandSource binds a flows file to the weights its volumes are spread with
type DemandSource struct {
	Path    string
	Weights HourWeights
}

// DayHours returns total hours starting from first, wrapping at midnight
func DayHours(first, total int) []int {
	hours := make([]int, 0, total)
	for i := 0; i < total; i++ {
		hours = append(hours, (first+i)%HoursPerDay)
	}
	return hours
}

type SeedingPolicy uint8

const (
	// Sampler reseeded with the flow ordinal before every draw
	SEED_PER_FLOW = SeedingPolicy(iota + 1)
	// One stream per world seed consumed in call order
	SEED_SHARED
)

func (iotaIdx SeedingPolicy) String() string {
	return [...]string{"per-flow", "shared"}[iotaIdx-1]
}

func ParseSeedingPolicy(s string) (SeedingPolicy, error) {
	switch s {
	case "per-flow":
		return SEED_PER_FLOW, nil
	case "shared":
		return SEED_SHARED, nil
	default:
		return 0, fmt.Errorf("Seeding policy is '%s', but should have values in [per-flow, shared]", s)
	}
}

func (iotaIdx *SeedingPolicy) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseSeedingPolicy(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx SeedingPolicy) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

// Sampler turns continuous daily volumes into platoon counts per hour
type Sampler struct {
	hours  []int
	deltan int
	// Zero means per-flow for hourly extraction and shared for whole-day
	policy SeedingPolicy
	// Seconds of simulated time per hour of demand
	hourLength float64
	shared     rand.Source
	logger     *log.Entry
}

func WithSeedingPolicy(policy SeedingPolicy) func(*Sampler) {
	return func(s *Sampler) {
		s.policy = policy
	}
}

// WithHourLength sets the demand window of one hour. It has to match the
// duration the world is advanced by per hour.
func WithHourLength(seconds float64) func(*Sampler) {
	return func(s *Sampler) {
		s.hourLength = seconds
	}
}

func WithSamplerLogger(logger *log.Entry) func(*Sampler) {
	return func(s *Sampler) {
		s.logger = logger
	}
}

func NewSampler(hours []int, deltan int, seed uint64, options ...func(*Sampler)) (*Sampler, error) {
	if deltan <= 0 {
		return nil, fmt.Errorf("Deltan should be positive, got %d", deltan)
	}
	if len(hours) == 0 {
		return nil, ErrBadHours
	}
	seen := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if h < 0 || h >= HoursPerDay {
			return nil, errors.Wrapf(ErrBadHours, "Got %d", h)
		}
		if _, ok := seen[h]; ok {
			return nil, errors.Wrapf(ErrBadHours, "Hour %d repeats", h)
		}
		seen[h] = struct{}{}
	}
	sampler := &Sampler{
		hours:      hours,
		deltan:     deltan,
		hourLength: SecondsPerHour,
		shared:     rand.NewPCG(seed, seed),
		logger:     log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(sampler)
	}
	if sampler.hourLength <= 0 {
		return nil, fmt.Errorf("Hour length should be positive, got %f", sampler.hourLength)
	}
	return sampler, nil
}

func (s *Sampler) source(flow FlowRecord, fallback SeedingPolicy) rand.Source {
	policy := s.policy
	if policy == 0 {
		policy = fallback
	}
	if policy == SEED_PER_FLOW {
		return rand.NewPCG(uint64(flow.Ordinal), uint64(flow.Ordinal))
	}
	return s.shared
}

// HourCounts draws n unit samples over the sampler hours and returns the
// per-hour counts in platoon units, indexed by hour of day.
func (s *Sampler) HourCounts(n int, weights HourWeights, src rand.Source) []int {
	counts := make([]int, HoursPerDay)
	if n <= 0 {
		return counts
	}
	subset := make([]float64, len(s.hours))
	sum := 0.0
	for i, h := range s.hours {
		subset[i] = weights[h]
		sum += weights[h]
	}
	if sum <= 0 {
		return counts
	}
	categorical := distuv.NewCategorical(subset, src)
	for i := 0; i < n; i++ {
		counts[s.hours[int(categorical.Rand())]] += s.deltan
	}
	return counts
}

// HourlyVolume is the number of vehicles of the flow that depart in hour
func (s *Sampler) HourlyVolume(flow FlowRecord, weights HourWeights, hour int) int {
	if flow.Degenerate() {
		return 0
	}
	n := int(math.Round(flow.Volume / float64(s.deltan)))
	if n == 0 {
		return 0
	}
	counts := s.HourCounts(n, weights, s.source(flow, SEED_PER_FLOW))
	return counts[hour]
}

// HourVolume is a platoon count placed in a simulation hour
type HourVolume struct {
	Hour   int
	Volume int
}

// DailyVolumes spreads the whole daily volume at once. Hours receiving less
// than deltan vehicles are dropped.
func (s *Sampler) DailyVolumes(flow FlowRecord, weights HourWeights) []HourVolume {
	if flow.Degenerate() {
		return nil
	}
	if int(flow.Volume/float64(s.deltan)) == 0 {
		return nil
	}
	n := int(math.Round(flow.Volume / float64(s.deltan)))
	counts := s.HourCounts(n, weights, s.source(flow, SEED_SHARED))
	volumes := []HourVolume{}
	for _, h := range s.hours {
		if counts[h] >= s.deltan {
			volumes = append(volumes, HourVolume{Hour: h, Volume: counts[h]})
		}
	}
	return volumes
}

// SimHour maps an hour of day to its position in the simulated day
func (s *Sampler) SimHour(hour int) int {
	first := s.hours[0]
	if hour >= first {
		return hour - first
	}
	last := 0
	for _, h := range s.hours {
		if h > last {
			last = h
		}
	}
	return hour - first + last + 1
}

func (s *Sampler) loadSource(source DemandSource) ([]FlowRecord, error) {
	if err := source.Weights.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Can't use weights of '%s'", source.Path)
	}
	return LoadFlows(source.Path)
}

// AddHourlyDemand injects the share of every flow that falls in hour,
// spread over [start, start+hour length). It returns the emitted volume.
func (s *Sampler) AddHourlyDemand(w World, sources []DemandSource, hour int, start float64) (int, error) {
	total := 0
	for _, source := range sources {
		flows, err := s.loadSource(source)
		if err != nil {
			return total, err
		}
		skipped := 0
		for _, flow := range flows {
			volume := s.HourlyVolume(flow, source.Weights, hour)
			if volume <= 0 {
				skipped++
				continue
			}
			err = w.AddDemandArea2Area(flowDemand(flow, start, start+s.hourLength, volume))
			if err != nil {
				return total, errors.Wrapf(err, "Can't add demand of line %d of '%s'", flow.Ordinal, source.Path)
			}
			total += volume
		}
		s.logger.WithFields(log.Fields{"file": source.Path, "hour": hour, "skipped": skipped}).Debug("Hourly demand")
	}
	return total, nil
}

// AddDailyDemand injects every flow into the simulation hours it was drawn for
func (s *Sampler) AddDailyDemand(w World, sources []DemandSource) (int, error) {
	total := 0
	for _, source := range sources {
		flows, err := s.loadSource(source)
		if err != nil {
			return total, err
		}
		skipped := 0
		for _, flow := range flows {
			volumes := s.DailyVolumes(flow, source.Weights)
			if len(volumes) == 0 {
				skipped++
				continue
			}
			for _, hv := range volumes {
				start := float64(s.SimHour(hv.Hour)) * s.hourLength
				err = w.AddDemandArea2Area(flowDemand(flow, start, start+s.hourLength, hv.Volume))
				if err != nil {
					return total, errors.Wrapf(err, "Can't add demand of line %d of '%s'", flow.Ordinal, source.Path)
				}
				total += hv.Volume
			}
		}
		s.logger.WithFields(log.Fields{"file": source.Path, "skipped": skipped}).Debug("Daily demand")
	}
	return total, nil
}

func flowDemand(flow FlowRecord, start, end float64, volume int) AreaDemand {
	return AreaDemand{
		Orig:   flow.Origin(),
		ROrig:  flow.ROrig,
		Dest:   flow.Destination(),
		RDest:  flow.RDest,
		TStart: start,
		TEnd:   end,
		Volume: volume,
	}
}

package areaverde

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type Cadence uint8

const (
	// One world spans the whole day, daily demand injected at setup
	CADENCE_CONTINUOUS = Cadence(iota + 1)
	// One world per hour, unfinished trips carried into the next hour
	CADENCE_HOURLY_CARRYOVER
	// One world for the day, demand injected hour by hour
	CADENCE_HOURLY_INDEPENDENT
)

func (iotaIdx Cadence) String() string {
	return [...]string{"continuous", "hourly-carryover", "hourly-independent"}[iotaIdx-1]
}

func ParseCadence(s string) (Cadence, error) {
	switch s {
	case "continuous":
		return CADENCE_CONTINUOUS, nil
	case "hourly-carryover":
		return CADENCE_HOURLY_CARRYOVER, nil
	case "hourly-independent":
		return CADENCE_HOURLY_INDEPENDENT, nil
	default:
		return 0, fmt.Errorf("Cadence is '%s', but should have values in [continuous, hourly-carryover, hourly-independent]", s)
	}
}

func (iotaIdx *Cadence) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseCadence(node.Value)
	if err != nil {
		return err
	}
	*iotaIdx = v
	return nil
}

func (iotaIdx Cadence) MarshalYAML() (interface{}, error) {
	return iotaIdx.String(), nil
}

// WorldFactory builds a fresh world for one seed
type WorldFactory func(net *Network, tmax float64, deltan int, seed uint64) (World, error)

// HourName is the file tag of the hour starting at h
func HourName(h int) string {
	return fmt.Sprintf("from_%d_to_%d", h, h+1)
}

// SeedResult reports what one seed produced
type SeedResult struct {
	Seed    int      `yaml:"seed"`
	Emitted int      `yaml:"emitted_volume"`
	Resumed int      `yaml:"resumed_vehicles"`
	Files   []string `yaml:"files"`
	Error   string   `yaml:"error,omitempty"`
}

// RunManifest is written next to the outputs of a run
type RunManifest struct {
	RunID      string       `yaml:"run_id"`
	StartedAt  time.Time    `yaml:"started_at"`
	FinishedAt *time.Time   `yaml:"finished_at,omitempty"`
	Cadence    Cadence      `yaml:"cadence"`
	Hours      []int        `yaml:"hours"`
	Deltan     int          `yaml:"deltan"`
	Sources    []string     `yaml:"sources"`
	Seeds      []SeedResult `yaml:"seeds"`
}

// Runner drives one simulated day per seed
type Runner struct {
	net            *Network
	sources        []DemandSource
	hours          []int
	seeds          []int
	deltan         int
	cadence        Cadence
	hourDuration   float64
	outputDir      string
	linksPrefix    string
	vehiclesPrefix string
	maxParallel    int
	seedingPolicy  SeedingPolicy
	onlineSave     bool
	factory        WorldFactory
	logger         *log.Entry
}

func WithHours(hours []int) func(*Runner) {
	return func(r *Runner) {
		r.hours = hours
	}
}

func WithSeeds(seeds []int) func(*Runner) {
	return func(r *Runner) {
		r.seeds = seeds
	}
}

func WithDeltan(deltan int) func(*Runner) {
	return func(r *Runner) {
		r.deltan = deltan
	}
}

func WithCadence(cadence Cadence) func(*Runner) {
	return func(r *Runner) {
		r.cadence = cadence
	}
}

func WithHourDuration(seconds float64) func(*Runner) {
	return func(r *Runner) {
		r.hourDuration = seconds
	}
}

func WithOutput(dir, linksPrefix, vehiclesPrefix string) func(*Runner) {
	return func(r *Runner) {
		r.outputDir = dir
		r.linksPrefix = linksPrefix
		r.vehiclesPrefix = vehiclesPrefix
	}
}

func WithMaxParallelSeeds(n int) func(*Runner) {
	return func(r *Runner) {
		r.maxParallel = n
	}
}

func WithRunnerSeedingPolicy(policy SeedingPolicy) func(*Runner) {
	return func(r *Runner) {
		r.seedingPolicy = policy
	}
}

func WithOnlineSave(onlineSave bool) func(*Runner) {
	return func(r *Runner) {
		r.onlineSave = onlineSave
	}
}

func WithWorldFactory(factory WorldFactory) func(*Runner) {
	return func(r *Runner) {
		r.factory = factory
	}
}

func WithRunnerLogger(logger *log.Entry) func(*Runner) {
	return func(r *Runner) {
		r.logger = logger
	}
}

// DefaultWorldFactory builds the reference engine
func DefaultWorldFactory(options ...func(*Engine)) WorldFactory {
	return func(net *Network, tmax float64, deltan int, seed uint64) (World, error) {
		return NewWorld(net, tmax, deltan, seed, options...)
	}
}

func NewRunner(net *Network, sources []DemandSource, options ...func(*Runner)) (*Runner, error) {
	runner := &Runner{
		net:            net,
		sources:        sources,
		hours:          DayHours(3, HoursPerDay),
		seeds:          []int{0, 1, 2, 3, 4},
		deltan:         10,
		cadence:        CADENCE_HOURLY_CARRYOVER,
		hourDuration:   SecondsPerHour,
		outputDir:      ".",
		linksPrefix:    "links",
		vehiclesPrefix: "vehicles",
		maxParallel:    1,
		logger:         log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(runner)
	}
	if runner.factory == nil {
		runner.factory = DefaultWorldFactory(WithEngineLogger(runner.logger))
	}
	if net == nil {
		return nil, ErrEmptyNetwork
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("Runner needs at least one demand source")
	}
	for _, source := range sources {
		if err := source.Weights.Validate(); err != nil {
			return nil, errors.Wrapf(err, "Source '%s'", source.Path)
		}
	}
	if len(runner.seeds) == 0 {
		return nil, fmt.Errorf("Runner needs at least one seed")
	}
	if runner.maxParallel < 1 {
		return nil, fmt.Errorf("Max parallel seeds should be positive, got %d", runner.maxParallel)
	}
	if runner.hourDuration <= 0 {
		return nil, fmt.Errorf("Hour duration should be positive, got %f", runner.hourDuration)
	}
	if runner.cadence == 0 {
		return nil, fmt.Errorf("Cadence is not set")
	}
	// Validates hours and deltan once for every seed
	if _, err := NewSampler(runner.hours, runner.deltan, 0); err != nil {
		return nil, err
	}
	return runner, nil
}

// Run simulates every seed. Seeds share nothing: a failing seed does not
// stop the others and the first error is returned after all of them finish.
func (r *Runner) Run(ctx context.Context) (*RunManifest, error) {
	err := os.MkdirAll(r.outputDir, 0755)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create output directory")
	}
	manifest := &RunManifest{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Cadence:   r.cadence,
		Hours:     r.hours,
		Deltan:    r.deltan,
		Sources:   make([]string, len(r.sources)),
		Seeds:     make([]SeedResult, len(r.seeds)),
	}
	for i, source := range r.sources {
		manifest.Sources[i] = source.Path
	}
	for i, seed := range r.seeds {
		manifest.Seeds[i].Seed = seed
	}
	if err = r.writeManifest(manifest); err != nil {
		return nil, err
	}
	logger := r.logger.WithFields(log.Fields{"run_id": manifest.RunID, "mode": r.cadence.String()})
	logger.Infof("Preparing %d seeds over %d hours", len(r.seeds), len(r.hours))
	st := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(r.maxParallel)
	for i, seed := range r.seeds {
		g.Go(func() error {
			result := &manifest.Seeds[i]
			seedLogger := logger.WithField("seed", seed)
			seedSt := time.Now()
			err := r.runSeed(ctx, seed, result, seedLogger)
			if err != nil {
				result.Error = err.Error()
				seedLogger.WithError(err).Error("Seed failed")
				return errors.Wrapf(err, "Seed %d", seed)
			}
			seedLogger.Infof("Seed done in %v", time.Since(seedSt))
			return nil
		})
	}
	runErr := g.Wait()

	finished := time.Now()
	manifest.FinishedAt = &finished
	if err = r.writeManifest(manifest); err != nil {
		return manifest, err
	}
	logger.Infof("Done in %v", time.Since(st))
	return manifest, runErr
}

func (r *Runner) writeManifest(manifest *RunManifest) error {
	b, err := yaml.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "Can't marshal run manifest")
	}
	err = os.WriteFile(filepath.Join(r.outputDir, "run.yaml"), b, 0644)
	if err != nil {
		return errors.Wrap(err, "Can't write run manifest")
	}
	return nil
}

func (r *Runner) outputFile(prefix, tag string) string {
	return filepath.Join(r.outputDir, trajectoryFile(prefix, tag))
}

func (r *Runner) newSampler(seed int, logger *log.Entry) (*Sampler, error) {
	return NewSampler(r.hours, r.deltan, uint64(seed), WithSeedingPolicy(r.seedingPolicy), WithHourLength(r.hourDuration), WithSamplerLogger(logger))
}

func (r *Runner) runSeed(ctx context.Context, seed int, result *SeedResult, logger *log.Entry) error {
	switch r.cadence {
	case CADENCE_CONTINUOUS:
		return r.runContinuous(ctx, seed, result, logger)
	case CADENCE_HOURLY_CARRYOVER:
		return r.runCarryover(ctx, seed, result, logger)
	case CADENCE_HOURLY_INDEPENDENT:
		return r.runIndependent(ctx, seed, result, logger)
	default:
		return fmt.Errorf("Cadence %d is not handled", r.cadence)
	}
}

func (r *Runner) save(w World, tag string, result *SeedResult) error {
	linksFile := r.outputFile(r.linksPrefix, tag)
	if err := SaveLinkStats(linksFile, w.LinkStats()); err != nil {
		return err
	}
	vehiclesFile := r.outputFile(r.vehiclesPrefix, tag)
	if err := SaveTrajectories(vehiclesFile, w.Vehicles()); err != nil {
		return err
	}
	result.Files = append(result.Files, linksFile, vehiclesFile)
	return nil
}

// execHour advances the world by one hour and flushes ended vehicles when
// online saving is on
func (r *Runner) execHour(w World, saver *OnlineSaver, logger *log.Entry) error {
	if err := w.Exec(r.hourDuration); err != nil {
		return errors.Wrap(err, "Can't advance simulation")
	}
	if saver == nil {
		return nil
	}
	drainer, ok := w.(Drainer)
	if !ok {
		return nil
	}
	n, err := saver.Flush(drainer)
	if err != nil {
		return err
	}
	logger.WithField("vehicles", n).Debug("Ended vehicles saved")
	return nil
}

func (r *Runner) openSaver(seed int, result *SeedResult) (*OnlineSaver, error) {
	if !r.onlineSave {
		return nil, nil
	}
	fname := r.outputFile(r.vehiclesPrefix, fmt.Sprintf("seed_%d_ended", seed))
	saver, err := NewOnlineSaver(fname)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, fname)
	return saver, nil
}

// closeSaver writes the footer of the online file. Its error replaces a nil
// one because ended vehicles live only in that file.
func closeSaver(saver *OnlineSaver, err *error) {
	if saver == nil {
		return
	}
	if errClose := saver.Close(); errClose != nil && *err == nil {
		*err = errClose
	}
}

func (r *Runner) runContinuous(ctx context.Context, seed int, result *SeedResult, logger *log.Entry) (err error) {
	sampler, err := r.newSampler(seed, logger)
	if err != nil {
		return err
	}
	w, err := r.factory(r.net, float64(len(r.hours))*r.hourDuration, r.deltan, uint64(seed))
	if err != nil {
		return errors.Wrap(err, "Can't build world")
	}
	defer w.Release()
	result.Emitted, err = sampler.AddDailyDemand(w, r.sources)
	if err != nil {
		return errors.Wrap(err, "Can't add daily demand")
	}
	saver, err := r.openSaver(seed, result)
	if err != nil {
		return err
	}
	defer closeSaver(saver, &err)
	for _, hour := range r.hours {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = r.execHour(w, saver, logger.WithField("hour", hour)); err != nil {
			return err
		}
	}
	return r.save(w, fmt.Sprintf("seed_%d", seed), result)
}

func (r *Runner) runIndependent(ctx context.Context, seed int, result *SeedResult, logger *log.Entry) (err error) {
	sampler, err := r.newSampler(seed, logger)
	if err != nil {
		return err
	}
	w, err := r.factory(r.net, float64(len(r.hours))*r.hourDuration, r.deltan, uint64(seed))
	if err != nil {
		return errors.Wrap(err, "Can't build world")
	}
	defer w.Release()
	saver, err := r.openSaver(seed, result)
	if err != nil {
		return err
	}
	defer closeSaver(saver, &err)
	for _, hour := range r.hours {
		if err = ctx.Err(); err != nil {
			return err
		}
		hourLogger := logger.WithField("hour", hour)
		start := float64(sampler.SimHour(hour)) * r.hourDuration
		emitted, err := sampler.AddHourlyDemand(w, r.sources, hour, start)
		if err != nil {
			return errors.Wrapf(err, "Can't add demand of hour %d", hour)
		}
		result.Emitted += emitted
		if err = r.execHour(w, saver, hourLogger); err != nil {
			return err
		}
		hourLogger.WithField("emitted", emitted).Info("Hour simulated")
	}
	return r.save(w, fmt.Sprintf("seed_%d", seed), result)
}

// runCarryover builds a world per hour. Unfinished trips of the previous
// hour are read back from its trajectory file.
func (r *Runner) runCarryover(ctx context.Context, seed int, result *SeedResult, logger *log.Entry) error {
	sampler, err := r.newSampler(seed, logger)
	if err != nil {
		return err
	}
	for i, hour := range r.hours {
		if err = ctx.Err(); err != nil {
			return err
		}
		hourLogger := logger.WithField("hour", hour)
		st := time.Now()
		err = r.runHour(sampler, seed, i, result, hourLogger)
		if err != nil {
			return errors.Wrapf(err, "Hour %d", hour)
		}
		hourLogger.Infof("Hour done in %v", time.Since(st))
	}
	return nil
}

func (r *Runner) runHour(sampler *Sampler, seed, i int, result *SeedResult, logger *log.Entry) error {
	hour := r.hours[i]
	w, err := r.factory(r.net, r.hourDuration, r.deltan, uint64(seed))
	if err != nil {
		return errors.Wrap(err, "Can't build world")
	}
	defer w.Release()

	if i > 0 {
		prevFile := r.outputFile(r.vehiclesPrefix, fmt.Sprintf("%s_seed_%d", HourName(r.hours[i-1]), seed))
		records, err := LoadTrajectories(prevFile)
		if err != nil {
			return errors.Wrap(err, "Can't read previous hour")
		}
		resumed, err := InjectLeftovers(w, records)
		if err != nil {
			return err
		}
		result.Resumed += resumed
		logger.WithField("resumed", resumed).Debug("Unfinished trips added")
	}

	emitted, err := sampler.AddHourlyDemand(w, r.sources, hour, 0)
	if err != nil {
		return errors.Wrap(err, "Can't add hourly demand")
	}
	result.Emitted += emitted

	if err = w.Exec(r.hourDuration); err != nil {
		return errors.Wrap(err, "Can't advance simulation")
	}
	return r.save(w, fmt.Sprintf("%s_seed_%d", HourName(hour), seed), result)
}

package areaverde

import (
	"fmt"
	"io"
	"os"

	"github.com/H4miiiid/Ethisc-in-AI-Unibo-Project/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type SimulationConfig struct {
	Cadence          Cadence `yaml:"cadence"`
	FirstHour        int     `yaml:"first_hour"`
	TotalHours       int     `yaml:"total_hours"`
	Seeds            int     `yaml:"seeds"`
	Deltan           int     `yaml:"deltan"`
	MaxParallelSeeds int     `yaml:"max_parallel_seeds"`
	// Seconds
	Step       float64 `yaml:"step"`
	JamDensity float64 `yaml:"jam_density"`
	// Empty keeps per-flow seeding for hourly demand and shared for daily demand
	SeedingPolicy SeedingPolicy `yaml:"seeding_policy,omitempty"`
	OnlineSave    bool          `yaml:"online_save"`
}

type NetworkConfig struct {
	Nodes string `yaml:"nodes"`
	Links string `yaml:"links"`
	// Source extract for the convert command
	OSM string `yaml:"osm,omitempty"`
}

type SourceConfig struct {
	Path string `yaml:"path"`
	// inflow or traffic
	Weights string `yaml:"weights"`
}

type DemandConfig struct {
	Sources []SourceConfig `yaml:"sources"`
}

type OutputConfig struct {
	Dir            string `yaml:"dir"`
	LinksPrefix    string `yaml:"links_prefix"`
	VehiclesPrefix string `yaml:"vehicles_prefix"`
}

type EthicalConfig struct {
	Enabled          bool                `yaml:"enabled"`
	FemalePercentage float64             `yaml:"female_percentage"`
	FragilityIndex   float64             `yaml:"fragility_index"`
	Params           model.EthicalParams `yaml:"params"`
}

type ModelConfig struct {
	model.Config `yaml:",inline"`
	Profile      string        `yaml:"profile"`
	Zones        string        `yaml:"zones"`
	OutputDir    string        `yaml:"output_dir"`
	Ethical      EthicalConfig `yaml:"ethical"`
}

type Config struct {
	Verbose    bool             `yaml:"verbose"`
	Simulation SimulationConfig `yaml:"simulation"`
	Network    NetworkConfig    `yaml:"network"`
	Demand     DemandConfig     `yaml:"demand"`
	Output     OutputConfig     `yaml:"output"`
	Model      ModelConfig      `yaml:"model"`
}

func DefaultConfig() Config {
	return Config{
		Simulation: SimulationConfig{
			Cadence:          CADENCE_HOURLY_CARRYOVER,
			FirstHour:        3,
			TotalHours:       HoursPerDay,
			Seeds:            5,
			Deltan:           10,
			MaxParallelSeeds: 1,
			Step:             5,
			JamDensity:       0.2,
		},
		Network: NetworkConfig{
			Nodes: "results/nodes.csv",
			Links: "results/edges.csv",
		},
		Demand: DemandConfig{
			Sources: []SourceConfig{
				{Path: "results/flows_in.csv", Weights: "traffic"},
				{Path: "results/flows_from_in.csv", Weights: "traffic"},
				{Path: "results/flows_to_in.csv", Weights: "inflow"},
			},
		},
		Output: OutputConfig{
			Dir:            "results/simulation",
			LinksPrefix:    "AreaVerde_links",
			VehiclesPrefix: "AreaVerde_vehicles",
		},
		Model: ModelConfig{
			Config:    model.DefaultConfig(),
			Profile:   "data/vehicle_profile.csv",
			Zones:     "data/zones.csv",
			OutputDir: "results/model",
			Ethical: EthicalConfig{
				FemalePercentage: 50,
				FragilityIndex:   0.5,
				Params:           model.DefaultEthicalParams(),
			},
		},
	}
}

// LoadConfig overlays a YAML file on the defaults and validates the result
func LoadConfig(fname string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.Open(fname)
	if err != nil {
		return cfg, errors.Wrap(err, "Can't open config")
	}
	defer file.Close()
	err = yaml.NewDecoder(file).Decode(&cfg)
	if err != nil && err != io.EOF {
		return cfg, errors.Wrap(err, "Can't parse config")
	}
	if err = cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "Bad config")
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	sim := cfg.Simulation
	switch {
	case sim.Cadence == 0:
		return errors.New("Cadence is not set")
	case sim.FirstHour < 0 || sim.FirstHour >= HoursPerDay:
		return fmt.Errorf("First hour should be in [0, 23], got %d", sim.FirstHour)
	case sim.TotalHours < 1 || sim.TotalHours > HoursPerDay:
		return fmt.Errorf("Total hours should be in [1, 24], got %d", sim.TotalHours)
	case sim.Seeds < 1:
		return fmt.Errorf("Number of seeds should be positive, got %d", sim.Seeds)
	case sim.Deltan < 1:
		return fmt.Errorf("Deltan should be positive, got %d", sim.Deltan)
	case sim.MaxParallelSeeds < 1:
		return fmt.Errorf("Max parallel seeds should be positive, got %d", sim.MaxParallelSeeds)
	case sim.Step <= 0 || sim.JamDensity <= 0:
		return fmt.Errorf("Step and jam density should be positive, got %v and %v", sim.Step, sim.JamDensity)
	}
	if _, err := cfg.DemandSources(); err != nil {
		return err
	}
	return cfg.Model.Validate()
}

func (cfg *Config) Hours() []int {
	return DayHours(cfg.Simulation.FirstHour, cfg.Simulation.TotalHours)
}

func (cfg *Config) SeedList() []int {
	seeds := make([]int, cfg.Simulation.Seeds)
	for i := range seeds {
		seeds[i] = i
	}
	return seeds
}

func (cfg *Config) DemandSources() ([]DemandSource, error) {
	if len(cfg.Demand.Sources) == 0 {
		return nil, errors.New("Demand needs at least one source")
	}
	sources := make([]DemandSource, 0, len(cfg.Demand.Sources))
	for _, source := range cfg.Demand.Sources {
		weights, err := WeightsByName(source.Weights)
		if err != nil {
			return nil, errors.Wrapf(err, "Source '%s'", source.Path)
		}
		sources = append(sources, DemandSource{Path: source.Path, Weights: weights})
	}
	return sources, nil
}

// Logger returns the entry every component logs through
func (cfg *Config) Logger() *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return log.NewEntry(logger)
}

// RunnerOptions translates the simulation and output sections
func (cfg *Config) RunnerOptions(logger *log.Entry) []func(*Runner) {
	sim := cfg.Simulation
	return []func(*Runner){
		WithHours(cfg.Hours()),
		WithSeeds(cfg.SeedList()),
		WithDeltan(sim.Deltan),
		WithCadence(sim.Cadence),
		WithMaxParallelSeeds(sim.MaxParallelSeeds),
		WithRunnerSeedingPolicy(sim.SeedingPolicy),
		WithOnlineSave(sim.OnlineSave),
		WithOutput(cfg.Output.Dir, cfg.Output.LinksPrefix, cfg.Output.VehiclesPrefix),
		WithWorldFactory(DefaultWorldFactory(WithStep(sim.Step), WithJamDensity(sim.JamDensity), WithEngineLogger(logger))),
		WithRunnerLogger(logger),
	}
}

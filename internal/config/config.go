// Package config loads server and training configuration from a YAML file,
// following the teacher's kind/def envelope so a single config file can
// carry differently-shaped payloads behind a discriminator.
//
// Grounded on reinforcement.FromYaml/OuterConfig/TrainingConfig
// (reinforcement/learning.go): viper reads the file and unmarshals the
// outer kind/def envelope via mapstructure, then gopkg.in/yaml.v3
// re-marshals/unmarshals the def payload into the concrete typed struct,
// exactly as the teacher does it.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/miry41/lamarl-playground/internal/agent"
)

// OuterConfig is the kind/def envelope every config file is wrapped in.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// ServerConfig holds the HTTP server's bind address and CORS allowances.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	FrontendURL        string `yaml:"frontendUrl"`
	FrontendURLPreview string `yaml:"frontendUrlPreview"`
}

// EnvironmentDefaults seeds a new episode's swarmenv.Config when a create
// request omits a field.
type EnvironmentDefaults struct {
	Shape       string  `yaml:"shape"`
	GridSize    int     `yaml:"gridSize"`
	NumRobots   int     `yaml:"numRobots"`
	RSense      float64 `yaml:"rSense"`
	RAvoid      float64 `yaml:"rAvoid"`
	NumNeighbor int     `yaml:"numNeighbor"`
	NumCells    int     `yaml:"numCells"`
	LCell       float64 `yaml:"lCell"`
}

// HyperparamDefaults overrides agent.DefaultHyperparams on a per-field
// basis; a zero value means "use the built-in default".
type HyperparamDefaults struct {
	BatchSize  int     `yaml:"batchSize"`
	Warmup     int     `yaml:"warmup"`
	LRActor    float64 `yaml:"lrActor"`
	LRCritic   float64 `yaml:"lrCritic"`
	Gamma      float64 `yaml:"gamma"`
	Tau        float64 `yaml:"tau"`
	Sigma      float64 `yaml:"sigma"`
	PriorBeta  float64 `yaml:"priorBeta"`
	AlphaPrior float64 `yaml:"alphaPrior"`
}

// LLMConfig names the model the LLM adapter defaults to when a /llm/generate
// request omits one.
type LLMConfig struct {
	DefaultModel       string  `yaml:"defaultModel"`
	DefaultTemperature float64 `yaml:"defaultTemperature"`
}

// TrainingDefaults bounds the training loop when a /train request omits a
// field.
type TrainingDefaults struct {
	NumEpisodes int `yaml:"numEpisodes"`
	EpisodeLen  int `yaml:"episodeLen"`
	// BufferCapacity is loaded but not read by the server: every episode's
	// replay buffers are sized by episode.BufferCapacity.
	BufferCapacity int `yaml:"bufferCapacity"`
}

// Config is the fully-typed application configuration, the def payload of
// an OuterConfig with kind "lamarl".
type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Environment EnvironmentDefaults `yaml:"environment"`
	Hyperparams HyperparamDefaults  `yaml:"hyperparams"`
	LLM         LLMConfig           `yaml:"llm"`
	Training    TrainingDefaults    `yaml:"training"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Environment: EnvironmentDefaults{
			Shape:       "circle",
			GridSize:    32,
			NumRobots:   12,
			RSense:      1.5,
			RAvoid:      0.3,
			NumNeighbor: 4,
			NumCells:    6,
			LCell:       1.0,
		},
		LLM: LLMConfig{
			DefaultModel:       "offline-template",
			DefaultTemperature: 0.7,
		},
		Training: TrainingDefaults{
			NumEpisodes:    200,
			EpisodeLen:     500,
			BufferCapacity: 100_000,
		},
	}
}

// FromYaml reads path, unwraps its kind/def envelope, and returns the typed
// Config. The def payload is unmarshaled on top of Default(), so fields
// absent from the file keep their Default() value; hyperparameters left at
// zero are resolved later by ResolveHyperparams.
func FromYaml(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(filepath.Base(path))
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	outer := &OuterConfig{}
	if err := vp.Unmarshal(outer); err != nil {
		return nil, fmt.Errorf("config: unmarshaling envelope: %w", err)
	}

	spec, err := yaml.Marshal(outer.Def)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshaling def: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(spec, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling def: %w", err)
	}
	return cfg, nil
}

// ResolveHyperparams builds an agent.Hyperparams for obsDim, starting from
// agent.DefaultHyperparams and overriding any field the config file set to
// a non-zero value.
func (c *Config) ResolveHyperparams(obsDim int) agent.Hyperparams {
	hp := agent.DefaultHyperparams(obsDim)
	d := c.Hyperparams

	if d.BatchSize != 0 {
		hp.BatchSize = d.BatchSize
	}
	if d.Warmup != 0 {
		hp.Warmup = d.Warmup
	}
	if d.LRActor != 0 {
		hp.LRActor = d.LRActor
	}
	if d.LRCritic != 0 {
		hp.LRCritic = d.LRCritic
	}
	if d.Gamma != 0 {
		hp.Gamma = d.Gamma
	}
	if d.Tau != 0 {
		hp.Tau = d.Tau
	}
	if d.Sigma != 0 {
		hp.Sigma = d.Sigma
	}
	if d.PriorBeta != 0 {
		hp.PriorBeta = d.PriorBeta
	}
	if d.AlphaPrior != 0 {
		hp.AlphaPrior = d.AlphaPrior
	}
	return hp
}

// Package params holds the reconstruction parameters, their defaults and
// their YAML representation.
package params

import (
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ErrInvalidParams is returned when parameters fail validation.
var ErrInvalidParams = errors.New("invalid parameters")

// Partition kinds.
const (
	PartitionRandom    = "random"
	PartitionGrid      = "grid"
	PartitionBlueNoise = "blue_noise"
)

// Params holds every tunable of the model and the solver.
type Params struct {
	// Geometry
	DeltaDetChannel  float64 `mapstructure:"delta_det_channel" validate:"gt=0"`
	DeltaDetRow      float64 `mapstructure:"delta_det_row" validate:"gt=0"`
	DetChannelOffset float64 `mapstructure:"det_channel_offset"`
	DeltaVoxel       float64 `mapstructure:"delta_voxel" validate:"gt=0"`
	// Empty means the default for the sinogram
	ReconShape []int `mapstructure:"recon_shape" validate:"omitempty,len=3,dive,gt=0"`

	// Noise and prior model
	Sharpness float64 `mapstructure:"sharpness"`
	SNRdB     float64 `mapstructure:"snr_db"`
	P         float64 `mapstructure:"p" validate:"gte=1,lte=2"`
	Q         float64 `mapstructure:"q" validate:"gte=1,ltefield=P"`
	T         float64 `mapstructure:"t" validate:"gt=0"`
	// Zero selects the automatic value
	SigmaY    float64 `mapstructure:"sigma_y" validate:"gte=0"`
	SigmaX    float64 `mapstructure:"sigma_x" validate:"gte=0"`
	SigmaProx float64 `mapstructure:"sigma_prox" validate:"gte=0"`

	// Solver
	PositivityFlag         bool    `mapstructure:"positivity_flag"`
	Granularity            []int   `mapstructure:"granularity" validate:"required,min=1,dive,gt=0"`
	PartitionSequence      []int   `mapstructure:"partition_sequence" validate:"required,min=1,dive,gte=0"`
	PartitionKind          string  `mapstructure:"partition_kind" validate:"oneof=random grid blue_noise"`
	MaxIterations          int     `mapstructure:"max_iterations" validate:"gt=0"`
	StopThresholdChangePct float64 `mapstructure:"stop_threshold_change_pct" validate:"gte=0"`
	Workers                int     `mapstructure:"workers" validate:"gte=0"`
	Verbose                int     `mapstructure:"verbose" validate:"gte=0,lte=3"`
	Seed                   uint64  `mapstructure:"seed"`
}

var validate = validator.New()

// Default returns the default parameters.
func Default() Params {
	return Params{
		DeltaDetChannel:        1,
		DeltaDetRow:            1,
		DeltaVoxel:             1,
		Sharpness:              1,
		SNRdB:                  30,
		P:                      2,
		Q:                      1.2,
		T:                      1,
		Granularity:            []int{1, 8, 64, 256},
		PartitionSequence:      []int{0, 1, 2, 3, 1, 2, 3, 2, 3, 3, 0, 1, 2, 3, 1, 2, 3, 2, 3, 3},
		PartitionKind:          PartitionRandom,
		MaxIterations:          15,
		StopThresholdChangePct: 0.2,
		Workers:                runtime.GOMAXPROCS(0),
		Verbose:                1,
		Seed:                   1,
	}
}

// Validate checks every field and the cross field constraints.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(ErrInvalidParams, err.Error())
	}
	for index, s := range p.PartitionSequence {
		if s >= len(p.Granularity) {
			return errors.Wrapf(ErrInvalidParams, "partition_sequence[%v] = %v but there are only %v granularities", index, s, len(p.Granularity))
		}
	}
	return nil
}

// Map returns the parameters keyed by their YAML names.
func (p Params) Map() map[string]interface{} {
	return map[string]interface{}{
		"delta_det_channel":         p.DeltaDetChannel,
		"delta_det_row":             p.DeltaDetRow,
		"det_channel_offset":        p.DetChannelOffset,
		"delta_voxel":               p.DeltaVoxel,
		"recon_shape":               p.ReconShape,
		"sharpness":                 p.Sharpness,
		"snr_db":                    p.SNRdB,
		"p":                         p.P,
		"q":                         p.Q,
		"t":                         p.T,
		"sigma_y":                   p.SigmaY,
		"sigma_x":                   p.SigmaX,
		"sigma_prox":                p.SigmaProx,
		"positivity_flag":           p.PositivityFlag,
		"granularity":               p.Granularity,
		"partition_sequence":        p.PartitionSequence,
		"partition_kind":            p.PartitionKind,
		"max_iterations":            p.MaxIterations,
		"stop_threshold_change_pct": p.StopThresholdChangePct,
		"workers":                   p.Workers,
		"verbose":                   p.Verbose,
		"seed":                      p.Seed,
	}
}

// Fields returns the parameters as log fields.
func (p Params) Fields() log.Fields {
	return log.Fields(p.Map())
}

// LogLevel maps Verbose onto a logrus level.
func (p Params) LogLevel() log.Level {
	switch {
	case p.Verbose <= 0:
		return log.WarnLevel
	case p.Verbose == 1:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// newViper returns a viper instance seeded with p. Environment variables
// prefixed with MBIR_ override any key.
func (p Params) newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MBIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range p.Map() {
		v.SetDefault(key, value)
	}
	return v
}

func decode(v *viper.Viper) (Params, error) {
	var res Params
	if err := v.Unmarshal(&res); err != nil {
		return Params{}, errors.Wrap(err, "decoding parameters")
	}
	if len(res.ReconShape) == 0 {
		res.ReconShape = nil
	}
	if err := res.Validate(); err != nil {
		return Params{}, err
	}
	return res, nil
}

// With returns a copy of p with the named values replaced. Unknown names
// are rejected.
func (p Params) With(values map[string]interface{}) (Params, error) {
	known := p.Map()
	v := p.newViper()
	for key, value := range values {
		if _, ok := known[key]; !ok {
			return Params{}, errors.Wrapf(ErrInvalidParams, "unknown parameter %q", key)
		}
		v.Set(key, value)
	}
	return decode(v)
}

// Load reads parameters from a YAML file. Missing keys keep their defaults.
func Load(path string) (Params, error) {
	v := Default().newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Params{}, errors.Wrapf(err, "reading parameters from %v", path)
	}
	return decode(v)
}

// Save writes the parameters to a YAML file.
func (p Params) Save(path string) error {
	v := viper.New()
	for key, value := range p.Map() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.Wrapf(err, "writing parameters to %v", path)
	}
	return nil
}

package config

import (
	// stdlib
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// internal
	"github.com/Robogera/handflow/pkg/enums"

	// external
	"github.com/pelletier/go-toml/v2"
)

var (
	ERR_INVALID_CONFIG = errors.New("Invalid config")
)

// Config file structure

type ConfigFile struct {
	Pipeline   PipelineConfig
	Frame      FrameConfig
	Cascade    CascadeConfig
	Detector   DetectorsConfig
	Flow       FlowConfig
	Window     WindowConfig
	Background BackgroundConfig
	Kalman     KalmanConfig
	Input      []InputConfig
	Webserver  WebserverConfig
	MQTT       MQTTConfig `toml:"mqtt"`
	Recorder   RecorderConfig
	Logging    LoggingConfig
}

type PipelineConfig struct {
	Variant string
	Pairing string
	Mirror  bool
}

type FrameConfig struct {
	Width  uint
	Height uint
}

type CascadeConfig struct {
	FacePath string `toml:"face_path"`
	HandPath string `toml:"hand_path"`
}

type DetectorsConfig struct {
	Hand DetectorConfig
	Face DetectorConfig
}

type DetectorConfig struct {
	ScaleFactor  float64 `toml:"scale_factor"`
	MinNeighbors uint    `toml:"min_neighbors"`
	// [width, height], zero max_size is unbounded
	MinSize [2]uint `toml:"min_size"`
	MaxSize [2]uint `toml:"max_size"`
}

type FlowConfig struct {
	MinDist     float64 `toml:"min_dist"`
	MaxDist     float64 `toml:"max_dist"`
	MaxCorners  uint    `toml:"max_corners"`
	Quality     float64
	MinDistance float64 `toml:"min_distance"`
	Aggregate   string
}

type WindowConfig struct {
	Width          uint
	Height         uint
	DirectionScale float64 `toml:"direction_scale"`
}

type BackgroundConfig struct {
	Frames    uint
	Threshold float32
	Blur      uint
}

type KalmanConfig struct {
	PSigma float64 `toml:"p_sigma"`
	QSigma float64 `toml:"q_sigma"`
	RSigma float64 `toml:"r_sigma"`
	Noise  bool
	Seed   uint64
}

type InputConfig struct {
	Name string
	Type string
	Path string
	// Webcam device index
	Device int
}

type WebserverConfig struct {
	Enabled            bool
	Port               uint
	ReadTimeoutSec     uint `toml:"read_timeout_sec"`
	WriteTimeoutSec    uint `toml:"write_timeout_sec"`
	ShutdownTimeoutSec uint `toml:"shutdown_timeout_sec"`
}

type MQTTConfig struct {
	Enabled           bool
	Address           string
	ClientID          string `toml:"client_id"`
	Topic             string
	ConnectTimeoutSec uint `toml:"connect_timeout_sec"`
}

type RecorderConfig struct {
	Enabled   bool
	Path      string
	MaxFrames uint `toml:"max_frames"`
}

type LoggingConfig struct {
	Level         string
	StatPeriodSec uint `toml:"stat_period_sec"`
	StatWindow    uint `toml:"stat_window"`
}

func Default() *ConfigFile {
	return &ConfigFile{
		Pipeline: PipelineConfig{
			Variant: enums.VariantFull.Value,
			Pairing: enums.PairingSliding.Value,
			Mirror:  false,
		},
		Frame: FrameConfig{Width: 320, Height: 240},
		Cascade: CascadeConfig{
			FacePath: "../cascades/haarcascade_frontalface_alt.xml",
			HandPath: "../cascades/hand_front.xml",
		},
		Detector: DetectorsConfig{
			Hand: DetectorConfig{ScaleFactor: 1.1, MinNeighbors: 60, MinSize: [2]uint{25, 35}},
			Face: DetectorConfig{ScaleFactor: 1.1, MinNeighbors: 2, MinSize: [2]uint{30, 30}},
		},
		Flow: FlowConfig{
			MinDist:     5,
			MaxDist:     50,
			MaxCorners:  100,
			Quality:     0.01,
			MinDistance: 0.01,
			Aggregate:   enums.AggregateMean.Value,
		},
		Window:     WindowConfig{Width: 100, Height: 180, DirectionScale: 1},
		Background: BackgroundConfig{Frames: 20, Threshold: 20, Blur: 15},
		Kalman:     KalmanConfig{PSigma: 0.1, QSigma: 1e-4, RSigma: 0.1, Noise: true, Seed: 1},
		Input: []InputConfig{
			{Name: "webcam", Type: enums.InputWebcam.Value, Device: 0},
		},
		Webserver: WebserverConfig{
			Enabled:            true,
			Port:               8080,
			ReadTimeoutSec:     5,
			WriteTimeoutSec:    0,
			ShutdownTimeoutSec: 5,
		},
		MQTT: MQTTConfig{
			Enabled:           false,
			Address:           "127.0.0.1:1883",
			ClientID:          "handflow",
			Topic:             "handflow/direction",
			ConnectTimeoutSec: 5,
		},
		Recorder: RecorderConfig{Enabled: false, Path: "../recordings", MaxFrames: 1000},
		Logging:  LoggingConfig{Level: enums.LoggingLevelInfo.Value, StatPeriodSec: 5, StatWindow: 30},
	}
}

// Missing keys keep their defaults
func Unmarshal(file_path string) (*ConfigFile, error) {
	config_file := Default()
	// [[input]] tables append, the default input only
	// applies when the file has none
	default_inputs := config_file.Input
	config_file.Input = nil
	data, err := os.ReadFile(file_path)
	if err != nil {
		return nil,
			fmt.Errorf("Unable to read %s error: %w", file_path, err)
	}
	err = toml.Unmarshal(data, config_file)
	if err != nil {
		return nil,
			fmt.Errorf("Unable to unmarshal %s error: %w", file_path, err)
	}
	if len(config_file.Input) == 0 {
		config_file.Input = default_inputs
	}
	if err := config_file.Validate(); err != nil {
		return nil,
			fmt.Errorf("Invalid config %s error: %w", file_path, err)
	}
	return config_file, nil
}

// Writes the defaults to file_path
func CreateDefault(file_path string) error {
	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("Unable to marshal defaults error: %w", err)
	}
	if err := os.WriteFile(file_path, data, 0o644); err != nil {
		return fmt.Errorf("Unable to write %s error: %w", file_path, err)
	}
	return nil
}

func (c *ConfigFile) Validate() error {
	errs := make([]error, 0)
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ERR_INVALID_CONFIG)...))
	}

	if enums.Variants.Parse(c.Pipeline.Variant) == nil {
		invalid("unknown variant %q", c.Pipeline.Variant)
	}
	if enums.Pairings.Parse(c.Pipeline.Pairing) == nil {
		invalid("unknown pairing %q", c.Pipeline.Pairing)
	}
	if c.Frame.Width == 0 || c.Frame.Height == 0 {
		invalid("frame must be non-empty, got %dx%d", c.Frame.Width, c.Frame.Height)
	}
	for name, d := range map[string]DetectorConfig{"hand": c.Detector.Hand, "face": c.Detector.Face} {
		if d.ScaleFactor <= 1 {
			invalid("%s detector scale_factor must be > 1, got %f", name, d.ScaleFactor)
		}
	}
	if c.Flow.MinDist < 0 || c.Flow.MaxDist <= c.Flow.MinDist {
		invalid("flow needs 0 <= min_dist < max_dist, got %f and %f", c.Flow.MinDist, c.Flow.MaxDist)
	}
	if enums.Aggregates.Parse(c.Flow.Aggregate) == nil {
		invalid("unknown flow aggregate %q", c.Flow.Aggregate)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		invalid("window must be non-empty, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Background.Frames == 0 {
		invalid("background frames must be positive")
	}
	if c.Kalman.RSigma <= 0 {
		invalid("kalman r_sigma must be positive, got %f", c.Kalman.RSigma)
	}
	if c.Kalman.PSigma < 0 || c.Kalman.QSigma < 0 {
		invalid("kalman sigmas can't be negative")
	}
	if len(c.Input) == 0 {
		invalid("no inputs")
	}
	names := make(map[string]struct{}, len(c.Input))
	for i, in := range c.Input {
		input_type := enums.InputTypes.Parse(in.Type)
		switch {
		case input_type == nil:
			invalid("input %d has unknown type %q", i, in.Type)
		case *input_type != enums.InputWebcam && in.Path == "":
			invalid("input %d (%s) needs a path", i, in.Type)
		}
		if _, ok := names[in.Name]; ok {
			invalid("duplicate input name %q", in.Name)
		}
		names[in.Name] = struct{}{}
	}
	if enums.LoggingLevels.Parse(c.Logging.Level) == nil {
		invalid("unknown logging level %q", c.Logging.Level)
	}
	if c.MQTT.Enabled && (c.MQTT.Address == "" || c.MQTT.Topic == "") {
		invalid("mqtt needs address and topic")
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		invalid("recorder needs a path")
	}
	return errors.Join(errs...)
}

// Makes cascade, input and recorder paths absolute relative
// to the executable's directory
func (c *ConfigFile) ResolvePaths(exe_dir string) {
	c.Cascade.FacePath = resolve(exe_dir, c.Cascade.FacePath)
	c.Cascade.HandPath = resolve(exe_dir, c.Cascade.HandPath)
	c.Recorder.Path = resolve(exe_dir, c.Recorder.Path)
	for i := range c.Input {
		switch t := enums.InputTypes.Parse(c.Input[i].Type); {
		case t == nil:
		case *t == enums.InputFile, *t == enums.InputSequence:
			c.Input[i].Path = resolve(exe_dir, c.Input[i].Path)
		}
	}
}

func ExecutableDir() (string, error) {
	exe_path, err := os.Executable()
	if err != nil {
		return "",
			fmt.Errorf("Can't find executable's location. Error: %w", err)
	}
	return filepath.Dir(exe_path), nil
}

func resolve(exe_dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(exe_dir, path)
}

// Package config loads facegate settings: embedded defaults, an optional YAML
// file, then FACEGATE_* environment variables.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/sequencer"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Threshold float64       `yaml:"threshold"`
	Tick      string        `yaml:"tick"`
	Cues      bool          `yaml:"cues"`
	Camera    CameraConfig  `yaml:"camera"`
	Worker    WorkerConfig  `yaml:"worker"`
	Preview   PreviewConfig `yaml:"preview"`
	Stages    []StageConfig `yaml:"stages"`
}

type CameraConfig struct {
	Device       string `yaml:"device"`
	FPS          int    `yaml:"fps"`
	FrameTimeout string `yaml:"frame_timeout"`
}

type WorkerConfig struct {
	Python             string  `yaml:"python"`
	Script             string  `yaml:"script"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	ReadTimeout        string  `yaml:"read_timeout"`
}

type PreviewConfig struct {
	Path   string `yaml:"path"` // empty disables the preview file
	Width  int    `yaml:"width"`
	Border int    `yaml:"border"`
}

type StageConfig struct {
	Pose     string `yaml:"pose"`
	Prompt   string `yaml:"prompt"`
	Delay    string `yaml:"delay"`
	Attempts int    `yaml:"attempts"`
}

// Defaults returns the embedded configuration.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load layers the optional YAML file at path and the environment over the
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Threshold = getEnvFloat("FACEGATE_THRESHOLD", c.Threshold)
	c.Tick = getEnv("FACEGATE_TICK", c.Tick)
	c.Cues = getEnvBool("FACEGATE_CUES", c.Cues)
	c.Camera.Device = getEnv("FACEGATE_CAMERA_DEVICE", c.Camera.Device)
	c.Camera.FPS = getEnvInt("FACEGATE_CAMERA_FPS", c.Camera.FPS)
	c.Worker.Python = getEnv("FACEGATE_PYTHON", c.Worker.Python)
	c.Worker.Script = getEnv("FACEGATE_WORKER_SCRIPT", c.Worker.Script)
	c.Worker.DetectionThreshold = getEnvFloat("FACEGATE_DETECTION_THRESHOLD", c.Worker.DetectionThreshold)
	c.Preview.Path = getEnv("FACEGATE_PREVIEW", c.Preview.Path)
}

// Validate checks ranges and that every duration parses.
func (c *Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", c.Threshold)
	}
	if c.Worker.DetectionThreshold <= 0 || c.Worker.DetectionThreshold > 1.0 {
		return fmt.Errorf("worker.detection_threshold must be in (0, 1], got %v", c.Worker.DetectionThreshold)
	}
	if c.Camera.FPS < 1 {
		return fmt.Errorf("camera.fps must be >= 1, got %d", c.Camera.FPS)
	}
	if c.Camera.Device == "" {
		return fmt.Errorf("camera.device must not be empty")
	}
	if c.Preview.Width < 16 {
		return fmt.Errorf("preview.width must be >= 16, got %d", c.Preview.Width)
	}
	for name, v := range map[string]string{
		"tick":                 c.Tick,
		"camera.frame_timeout": c.Camera.FrameTimeout,
		"worker.read_timeout":  c.Worker.ReadTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q (use '33ms', '2s'): %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := c.Plan(); err != nil {
		return err
	}
	return nil
}

// TickInterval is the preview/render period.
func (c *Config) TickInterval() time.Duration { return mustDuration(c.Tick) }

// FrameTimeout bounds a single camera read.
func (c *Config) FrameTimeout() time.Duration { return mustDuration(c.Camera.FrameTimeout) }

// WorkerReadTimeout bounds a single landmark request.
func (c *Config) WorkerReadTimeout() time.Duration { return mustDuration(c.Worker.ReadTimeout) }

// Plan converts the stage list into a validated registration plan.
func (c *Config) Plan() (sequencer.Plan, error) {
	plan := make(sequencer.Plan, 0, len(c.Stages))
	for i, s := range c.Stages {
		pose, err := landmark.ParsePose(s.Pose)
		if err != nil {
			return nil, fmt.Errorf("stages[%d]: %w", i, err)
		}
		delay, err := time.ParseDuration(s.Delay)
		if err != nil {
			return nil, fmt.Errorf("stages[%d] (%s): invalid delay %q: %w", i, pose, s.Delay, err)
		}
		plan = append(plan, sequencer.Stage{
			Pose:     pose,
			Prompt:   s.Prompt,
			Delay:    delay,
			Attempts: s.Attempts,
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("stages: %w", err)
	}
	return plan, nil
}

// mustDuration is only called on values Validate has already parsed.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := strings.ToLower(os.Getenv(key)); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

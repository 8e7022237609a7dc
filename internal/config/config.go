// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
	"github.com/relabs-tech/vr_assess/internal/reach"
	"github.com/relabs-tech/vr_assess/internal/sequencer"
)

// Pose sources.
const (
	PoseSourceSim  = "sim"
	PoseSourceMock = "mock"
	PoseSourceMQTT = "mqtt"
)

// Config holds all application configuration values. A *Config is built once
// by the entry point and passed down explicitly.
type Config struct {
	// MQTT
	MQTTEnabled         bool
	MQTTBroker          string
	MQTTClientIDAssess  string
	MQTTClientIDWeb     string
	MQTTClientIDConsole string

	// Topics
	TopicEvents   string
	TopicProgress string
	TopicPose     string

	// Session
	DataRoot     string
	Participant  string
	BatteryTasks []string
	PoseSource   string
	PoseStale    time.Duration

	// Timing
	SampleRateHz     float64
	FrameRateHz      float64
	MaxFixedSteps    int
	ProgressInterval time.Duration
	TransitionHold   time.Duration
	// OpenEndedLimit ends open-ended timed tasks after this long; 0 waits
	// for the operator.
	OpenEndedLimit time.Duration

	// Reach task trial structure
	FirstRecordedTrial   int
	ReachesPerArm        int
	PracticeVisibleBelow int
	MinCalibrationReach  float64
	ResetCooldown        time.Duration
	EvaluationDelay      time.Duration
	ConfirmAtHome        bool
	StrictSequencing     bool
	RNGSeed              uint64

	// Reach task geometry
	HitMode            reach.HitMode
	AnchorMode         reach.AnchorMode
	InclusiveBounds    bool
	HitRadius          float64
	MinExtensionRatio  float64
	MinDirectionCosine float64
	ReturnRadius       float64
	ReachMultiplier    float64
	ReachOffset        float64
	JitterX            float64
	JitterY            float64
	ShoulderDrop       float64
	ShoulderLateral    float64

	// Handedness: empty StartHand means detect by proximity to the start balls.
	StartHand         pose.Handedness
	LeftBall          orientation.Vec3
	RightBall         orientation.Vec3
	HandednessRadius  float64
	HandednessTimeout time.Duration

	// Web Server
	WebServerPort int
	MetricsAddr   string
	WebStaticDir  string

	// Logging
	LogLevel  string
	LogFormat string
}

// Default returns the configuration the battery runs with when no file
// overrides a key.
func Default() *Config {
	return &Config{
		MQTTEnabled:         false,
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDAssess:  "vrassess-runner",
		MQTTClientIDWeb:     "vrassess-web-subscriber",
		MQTTClientIDConsole: "vrassess-console-subscriber",

		TopicEvents:   "vrassess/events",
		TopicProgress: "vrassess/progress",
		TopicPose:     "vrassess/pose",

		DataRoot:     "data",
		Participant:  "",
		BatteryTasks: []string{"HeadStability", "TestofNystagmus", "TestofSkew"},
		PoseSource:   PoseSourceSim,
		PoseStale:    200 * time.Millisecond,

		SampleRateHz:     50,
		FrameRateHz:      72,
		MaxFixedSteps:    5,
		ProgressInterval: 500 * time.Millisecond,
		TransitionHold:   3 * time.Second,
		OpenEndedLimit:   60 * time.Second,

		FirstRecordedTrial:   11,
		ReachesPerArm:        25,
		PracticeVisibleBelow: 6,
		MinCalibrationReach:  0.1,
		ResetCooldown:        2 * time.Second,
		EvaluationDelay:      10 * time.Millisecond,

		HitMode:            reach.DistanceExtensionAndDirection,
		AnchorMode:         reach.ShoulderReach,
		InclusiveBounds:    true,
		HitRadius:          0.1,
		MinExtensionRatio:  0.9,
		MinDirectionCosine: 0.7,
		ReturnRadius:       0.15,
		ReachMultiplier:    0.95,
		ReachOffset:        0,
		JitterX:            0.2,
		JitterY:            0.1,
		ShoulderDrop:       0.25,
		ShoulderLateral:    0.18,

		LeftBall:          orientation.Vec3{X: -0.3, Y: 1.1, Z: 0.35},
		RightBall:         orientation.Vec3{X: 0.3, Y: 1.1, Z: 0.35},
		HandednessRadius:  0.2,
		HandednessTimeout: 30 * time.Second,

		WebServerPort: 8080,
		MetricsAddr:   ":9102",
		WebStaticDir:  "web",

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads a KEY=VALUE configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.Set(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultPath is the file the binaries read from the working directory when
// no path is given.
const DefaultPath = "vr_assess.conf"

// LoadDefaultFile loads DefaultPath if it exists, else returns Default.
func LoadDefaultFile() (*Config, error) {
	if _, err := os.Stat(DefaultPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("stat %s: %w", DefaultPath, err)
	}
	return Load(DefaultPath)
}

// LoadOrDefault loads configPath, or returns Default when the path is empty.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return Default(), nil
	}
	return Load(configPath)
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// parseMillis reads a duration given in milliseconds.
func parseMillis(key, value string) (time.Duration, error) {
	n, err := parseInt(key, value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parseVec(key, value string) (orientation.Vec3, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return orientation.Vec3{}, fmt.Errorf("invalid %s %q: want x,y,z", key, value)
	}
	var c [3]float64
	for i, p := range parts {
		f, err := parseFloat(key, strings.TrimSpace(p))
		if err != nil {
			return orientation.Vec3{}, err
		}
		c[i] = f
	}
	return orientation.Vec3{X: c[0], Y: c[1], Z: c[2]}, nil
}

// Set sets a config value based on the key.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_ENABLED":
		c.MQTTEnabled, err = parseBool(key, value)
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_ASSESS":
		c.MQTTClientIDAssess = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_EVENTS":
		c.TopicEvents = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_POSE":
		c.TopicPose = value

	// Session
	case "DATA_ROOT":
		c.DataRoot = value
	case "PARTICIPANT_ID":
		c.Participant = value
	case "BATTERY_TASKS":
		c.BatteryTasks = nil
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.BatteryTasks = append(c.BatteryTasks, t)
			}
		}
	case "POSE_SOURCE":
		switch value {
		case PoseSourceSim, PoseSourceMock, PoseSourceMQTT:
			c.PoseSource = value
		default:
			return fmt.Errorf("POSE_SOURCE must be sim, mock or mqtt, got %q", value)
		}
	case "POSE_STALE_MS":
		c.PoseStale, err = parseMillis(key, value)

	// Timing
	case "SAMPLE_RATE_HZ":
		c.SampleRateHz, err = parseFloat(key, value)
	case "FRAME_RATE_HZ":
		c.FrameRateHz, err = parseFloat(key, value)
	case "MAX_FIXED_STEPS":
		c.MaxFixedSteps, err = parseInt(key, value)
	case "PROGRESS_INTERVAL_MS":
		c.ProgressInterval, err = parseMillis(key, value)
	case "TRANSITION_HOLD_MS":
		c.TransitionHold, err = parseMillis(key, value)
	case "OPEN_ENDED_LIMIT_MS":
		c.OpenEndedLimit, err = parseMillis(key, value)

	// Reach task trial structure
	case "FIRST_RECORDED_TRIAL":
		c.FirstRecordedTrial, err = parseInt(key, value)
	case "REACHES_PER_ARM":
		c.ReachesPerArm, err = parseInt(key, value)
	case "PRACTICE_VISIBLE_BELOW":
		c.PracticeVisibleBelow, err = parseInt(key, value)
	case "MIN_CALIBRATION_REACH":
		c.MinCalibrationReach, err = parseFloat(key, value)
	case "RESET_COOLDOWN_MS":
		c.ResetCooldown, err = parseMillis(key, value)
	case "EVALUATION_DELAY_MS":
		c.EvaluationDelay, err = parseMillis(key, value)
	case "CONFIRM_AT_HOME":
		c.ConfirmAtHome, err = parseBool(key, value)
	case "STRICT_SEQUENCING":
		c.StrictSequencing, err = parseBool(key, value)
	case "RNG_SEED":
		c.RNGSeed, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RNG_SEED %q: %w", value, err)
		}

	// Reach task geometry
	case "HIT_MODE":
		c.HitMode, err = reach.ParseHitMode(value)
	case "ANCHOR_MODE":
		c.AnchorMode, err = reach.ParseAnchorMode(value)
	case "INCLUSIVE_BOUNDS":
		c.InclusiveBounds, err = parseBool(key, value)
	case "HIT_RADIUS":
		c.HitRadius, err = parseFloat(key, value)
	case "MIN_EXTENSION_RATIO":
		c.MinExtensionRatio, err = parseFloat(key, value)
	case "MIN_DIRECTION_COSINE":
		c.MinDirectionCosine, err = parseFloat(key, value)
	case "RETURN_RADIUS":
		c.ReturnRadius, err = parseFloat(key, value)
	case "REACH_MULTIPLIER":
		c.ReachMultiplier, err = parseFloat(key, value)
	case "REACH_OFFSET":
		c.ReachOffset, err = parseFloat(key, value)
	case "JITTER_X":
		c.JitterX, err = parseFloat(key, value)
	case "JITTER_Y":
		c.JitterY, err = parseFloat(key, value)
	case "SHOULDER_DROP":
		c.ShoulderDrop, err = parseFloat(key, value)
	case "SHOULDER_LATERAL":
		c.ShoulderLateral, err = parseFloat(key, value)

	// Handedness
	case "START_HAND":
		switch h := pose.Handedness(value); {
		case value == "" || strings.EqualFold(value, "auto"):
			c.StartHand = ""
		case h.Valid():
			c.StartHand = h
		default:
			return fmt.Errorf("START_HAND must be Left, Right or auto, got %q", value)
		}
	case "LEFT_BALL":
		c.LeftBall, err = parseVec(key, value)
	case "RIGHT_BALL":
		c.RightBall, err = parseVec(key, value)
	case "HANDEDNESS_RADIUS":
		c.HandednessRadius, err = parseFloat(key, value)
	case "HANDEDNESS_TIMEOUT_MS":
		c.HandednessTimeout, err = parseMillis(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks that the values are usable together.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTTEnabled && c.MQTTBroker == "" {
		errs = append(errs, errors.New("MQTT_BROKER is required when MQTT_ENABLED"))
	}
	if c.PoseSource == PoseSourceMQTT && c.TopicPose == "" {
		errs = append(errs, errors.New("TOPIC_POSE is required for POSE_SOURCE=mqtt"))
	}
	if c.SampleRateHz <= 0 {
		errs = append(errs, errors.New("SAMPLE_RATE_HZ must be positive"))
	}
	if c.FrameRateHz <= 0 {
		errs = append(errs, errors.New("FRAME_RATE_HZ must be positive"))
	}
	if c.FirstRecordedTrial < 2 {
		errs = append(errs, errors.New("FIRST_RECORDED_TRIAL must be at least 2"))
	}
	if c.ReachesPerArm < 1 {
		errs = append(errs, errors.New("REACHES_PER_ARM must be at least 1"))
	}
	if c.HitRadius <= 0 || c.ReturnRadius <= 0 {
		errs = append(errs, errors.New("HIT_RADIUS and RETURN_RADIUS must be positive"))
	}
	if c.MinDirectionCosine < -1 || c.MinDirectionCosine > 1 {
		errs = append(errs, fmt.Errorf("MIN_DIRECTION_COSINE must be in [-1,1], got %v", c.MinDirectionCosine))
	}
	if c.ReachMultiplier <= 0 {
		errs = append(errs, errors.New("REACH_MULTIPLIER must be positive"))
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		errs = append(errs, fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort))
	}
	return errors.Join(errs...)
}

// SequencerConfig is the trial structure for the reach task.
func (c *Config) SequencerConfig() sequencer.Config {
	return sequencer.Config{
		FirstRecordedTrial:   c.FirstRecordedTrial,
		ReachesPerArm:        c.ReachesPerArm,
		PracticeVisibleBelow: c.PracticeVisibleBelow,
		MinCalibrationReach:  c.MinCalibrationReach,
		ResetCooldown:        c.ResetCooldown,
		EvaluationDelay:      c.EvaluationDelay,
		ConfirmAtHome:        c.ConfirmAtHome,
		Strict:               c.StrictSequencing,
	}
}

func (c *Config) Geometry() reach.Geometry {
	return reach.Geometry{ShoulderDrop: c.ShoulderDrop, ShoulderLateral: c.ShoulderLateral}
}

func (c *Config) SpawnConfig() reach.SpawnConfig {
	sc := reach.DefaultSpawnConfig()
	sc.Anchor = c.AnchorMode
	sc.Multiplier = c.ReachMultiplier
	sc.Offset = c.ReachOffset
	sc.JitterX = c.JitterX
	sc.JitterY = c.JitterY
	return sc
}

func (c *Config) DetectorConfig() reach.DetectorConfig {
	return reach.DetectorConfig{
		Mode:               c.HitMode,
		HitRadius:          c.HitRadius,
		MinExtensionRatio:  c.MinExtensionRatio,
		MinDirectionCosine: c.MinDirectionCosine,
		ReturnRadius:       c.ReturnRadius,
		Inclusive:          c.InclusiveBounds,
	}
}

func (c *Config) HandednessDetector() reach.HandednessDetector {
	return reach.HandednessDetector{LeftBall: c.LeftBall, RightBall: c.RightBall, Radius: c.HandednessRadius}
}

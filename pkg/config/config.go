// Package config provides configuration management for SecureAttend.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all SecureAttend configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness_detection"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Emotion     EmotionConfig     `yaml:"emotion"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Features    FeatureConfig     `yaml:"features"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Index  int `yaml:"index"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	FaceTolerance float64 `yaml:"face_tolerance"`
	ModelPath     string  `yaml:"model_path"`
}

// LivenessConfig holds anti-spoofing settings.
type LivenessConfig struct {
	Threshold               float64 `yaml:"liveness_threshold"`
	BlinkThreshold          float64 `yaml:"blink_threshold"`
	MinBlinks               int     `yaml:"min_blinks"`
	TextureThreshold        float64 `yaml:"texture_threshold"`
	ColorDiversityThreshold float64 `yaml:"color_diversity_threshold"`
	FrequencyThreshold      float64 `yaml:"frequency_threshold"`
}

// TrackingConfig holds temporal smoothing and stability settings.
type TrackingConfig struct {
	ProcessEveryNFrames int     `yaml:"process_every_n_frames"`
	DetectionThreshold  int     `yaml:"detection_threshold"`
	DetectionCooldown   int     `yaml:"detection_cooldown"`
	DisplayDuration     int     `yaml:"display_duration"`
	LivenessWindow      int     `yaml:"liveness_window"`
	SmoothedThreshold   float64 `yaml:"smoothed_threshold"`
	JustMarkedFrames    int     `yaml:"just_marked_frames"`
	Location            string  `yaml:"location"`
}

// EmotionConfig holds engagement monitoring settings.
type EmotionConfig struct {
	HistorySize int `yaml:"emotion_history_size"`
}

// LedgerConfig holds the attendance ledger settings.
type LedgerConfig struct {
	File             string `yaml:"file"`
	MiningDifficulty int    `yaml:"mining_difficulty"`
}

// FeatureConfig gates optional subsystems.
type FeatureConfig struct {
	AntiSpoofing bool `yaml:"enable_antispoofing"`
	Ledger       bool `yaml:"enable_blockchain"`
	Emotion      bool `yaml:"enable_emotion"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	DatabaseFile      string `yaml:"database_file"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	AnonymizeExports  bool   `yaml:"anonymize_exports"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/secureattend")
	return &Config{
		Camera: CameraConfig{
			Index:  0,
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Recognition: RecognitionConfig{
			FaceTolerance: 0.6,
			ModelPath:     filepath.Join(dataDir, "models"),
		},
		Liveness: LivenessConfig{
			Threshold:               0.85,
			BlinkThreshold:          0.21,
			MinBlinks:               2,
			TextureThreshold:        25.0,
			ColorDiversityThreshold: 15.0,
			FrequencyThreshold:      800.0,
		},
		Tracking: TrackingConfig{
			ProcessEveryNFrames: 2,
			DetectionThreshold:  5,
			DetectionCooldown:   30,
			DisplayDuration:     45,
			LivenessWindow:      10,
			SmoothedThreshold:   0.7,
			JustMarkedFrames:    90,
			Location:            "Main Campus",
		},
		Emotion: EmotionConfig{
			HistorySize: 30,
		},
		Ledger: LedgerConfig{
			File:             filepath.Join(dataDir, "ledger.json"),
			MiningDifficulty: 2,
		},
		Features: FeatureConfig{
			AntiSpoofing: true,
			Ledger:       true,
			Emotion:      true,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			DatabaseFile:      filepath.Join(dataDir, "attendance.db"),
			EncryptionEnabled: true,
			AnonymizeExports:  false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "secureattend.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/secureattend/secureattend.yaml"); err == nil {
		return Load("/etc/secureattend/secureattend.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/secureattend/secureattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Recognition.FaceTolerance < 0.1 || c.Recognition.FaceTolerance > 1.0 {
		return fmt.Errorf("face_tolerance must be between 0.1 and 1.0, got %f", c.Recognition.FaceTolerance)
	}

	if c.Liveness.Threshold < 0 || c.Liveness.Threshold > 1 {
		return fmt.Errorf("liveness_threshold must be between 0.0 and 1.0, got %f", c.Liveness.Threshold)
	}
	if c.Liveness.MinBlinks < 0 {
		return fmt.Errorf("min_blinks must be non-negative, got %d", c.Liveness.MinBlinks)
	}

	if c.Tracking.ProcessEveryNFrames <= 0 {
		return fmt.Errorf("process_every_n_frames must be positive, got %d", c.Tracking.ProcessEveryNFrames)
	}
	if c.Tracking.DetectionThreshold <= 0 {
		return fmt.Errorf("detection_threshold must be positive, got %d", c.Tracking.DetectionThreshold)
	}
	if c.Tracking.LivenessWindow <= 0 {
		return fmt.Errorf("liveness_window must be positive, got %d", c.Tracking.LivenessWindow)
	}
	if c.Tracking.SmoothedThreshold < 0 || c.Tracking.SmoothedThreshold > 1 {
		return fmt.Errorf("smoothed_threshold must be between 0.0 and 1.0, got %f", c.Tracking.SmoothedThreshold)
	}

	if c.Ledger.MiningDifficulty < 0 {
		return fmt.Errorf("mining_difficulty must be non-negative, got %d", c.Ledger.MiningDifficulty)
	}

	if c.Emotion.HistorySize <= 0 {
		return fmt.Errorf("emotion_history_size must be positive, got %d", c.Emotion.HistorySize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Ledger.File = ExpandPath(c.Ledger.File)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.DatabaseFile = ExpandPath(c.Storage.DatabaseFile)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	usersDir := filepath.Join(c.Storage.DataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	ledgerDir := filepath.Dir(c.Ledger.File)
	if err := os.MkdirAll(ledgerDir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}

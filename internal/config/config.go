package config

import (
	"fmt"
	"os"
	"strconv"

	"gradescan/internal/logger"
)

type Config struct {
	// Storage Configuration
	StorageRoot    string
	CollectionRoot string

	// Google Cloud Configuration
	GoogleCloudProject string

	// CardReferencePath points at the JSON card/set reference data the
	// matching engine searches.
	CardReferencePath string

	// OCR Configuration
	OCRLanguageHints      []string
	OCRMaxCallsPerMinute  int
	OCRMaxAttempts        int
	OCRInitialBackoffSecs int

	// Pipeline Configuration
	BatchWorkerLimit int
	StitchBatchSize  int

	// Label Detection Configuration
	Detection DetectionConfig

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// DetectionConfig carries the tunable constants of the HSV label detector.
// The fallback fractions are empirically tuned to the PSA label layout and
// should be re-verified against sample images for other grading services.
type DetectionConfig struct {
	// ScanFraction is the fraction of image height scanned from the top.
	ScanFraction float64

	// Hue ranges, in degrees on the 0-360 color wheel. Label red wraps
	// around zero, so it is covered by two disjoint bands.
	HueLowMax  float64
	HueHighMin float64

	// Saturation and value band, each in [0,1].
	SaturationMin float64
	ValueMin      float64

	// MinLabelPixels is the minimum number of red-classified pixels
	// required before a detection is accepted.
	MinLabelPixels int

	// PaddingPixels expands the detected bounding box on every side.
	PaddingPixels int

	// Fallback rectangle as fractions of image width/height, used when
	// detection fails.
	FallbackXFraction      float64
	FallbackYFraction      float64
	FallbackWidthFraction  float64
	FallbackHeightFraction float64
}

func Load() (*Config, error) {
	config := &Config{
		StorageRoot:           getEnv("STORAGE_ROOT", "./storage"),
		CollectionRoot:        getEnv("COLLECTION_ROOT", "./collection"),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		CardReferencePath:     getEnv("CARD_REFERENCE_PATH", ""),
		OCRLanguageHints:      []string{getEnv("OCR_LANGUAGE_HINT", "en")},
		OCRMaxCallsPerMinute:  getEnvInt("OCR_MAX_CALLS_PER_MINUTE", 60),
		OCRMaxAttempts:        getEnvInt("OCR_MAX_ATTEMPTS", 3),
		OCRInitialBackoffSecs: getEnvInt("OCR_INITIAL_BACKOFF_SECONDS", 1),
		BatchWorkerLimit:      getEnvInt("BATCH_WORKER_LIMIT", 3),
		StitchBatchSize:       getEnvInt("STITCH_BATCH_SIZE", 10),
		Detection:             DefaultDetection(),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// DefaultDetection returns the detector tuning used for PSA-style red labels.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		ScanFraction:           getEnvFloat("DETECT_SCAN_FRACTION", 0.20),
		HueLowMax:              getEnvFloat("DETECT_HUE_LOW_MAX", 40.0),
		HueHighMin:             getEnvFloat("DETECT_HUE_HIGH_MIN", 320.0),
		SaturationMin:          getEnvFloat("DETECT_SATURATION_MIN", 0.35),
		ValueMin:               getEnvFloat("DETECT_VALUE_MIN", 0.25),
		MinLabelPixels:         getEnvInt("DETECT_MIN_LABEL_PIXELS", 100),
		PaddingPixels:          getEnvInt("DETECT_PADDING_PIXELS", 10),
		FallbackXFraction:      getEnvFloat("DETECT_FALLBACK_X_FRACTION", 0.05),
		FallbackYFraction:      getEnvFloat("DETECT_FALLBACK_Y_FRACTION", 0.02),
		FallbackWidthFraction:  getEnvFloat("DETECT_FALLBACK_WIDTH_FRACTION", 0.90),
		FallbackHeightFraction: getEnvFloat("DETECT_FALLBACK_HEIGHT_FRACTION", 0.15),
	}
}

func (c *Config) validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if c.CollectionRoot == "" {
		return fmt.Errorf("COLLECTION_ROOT is required")
	}
	if c.OCRMaxCallsPerMinute <= 0 {
		return fmt.Errorf("OCR_MAX_CALLS_PER_MINUTE must be positive")
	}
	if c.OCRMaxAttempts <= 0 {
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be positive")
	}
	if c.BatchWorkerLimit <= 0 {
		return fmt.Errorf("BATCH_WORKER_LIMIT must be positive")
	}
	if c.StitchBatchSize <= 0 {
		return fmt.Errorf("STITCH_BATCH_SIZE must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

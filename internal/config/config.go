package config

import (
	"os"
	"strconv"

	"narpstat/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Paths    PathConfig
	Analysis AnalysisConfig
}

// DatabaseConfig holds database connection settings. URL may be empty, in
// which case runs are kept in the in-memory store.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// PathConfig holds file system paths
type PathConfig struct {
	DataDir string
	OutDir  string
}

// AnalysisConfig holds statistical procedure settings
type AnalysisConfig struct {
	VoxelMM    float64
	Seed       int64
	Replicates int
	QuadPoints int
	Workers    int
	CILevel    float64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port:    getEnvOrDefault("PORT", "8080"),
			GinMode: getEnvOrDefault("GIN_MODE", "release"),
		},
		Paths: PathConfig{
			DataDir: getEnvOrDefault("NARPSTAT_DATA_DIR", "./data"),
			OutDir:  getEnvOrDefault("NARPSTAT_OUT_DIR", "./out"),
		},
		Analysis: AnalysisConfig{
			VoxelMM:    getEnvFloatOrDefault("NARPSTAT_VOXEL_MM", 2.0),
			Seed:       int64(getEnvIntOrDefault("NARPSTAT_SEED", 42)),
			Replicates: getEnvIntOrDefault("NARPSTAT_REPLICATES", 1000),
			QuadPoints: getEnvIntOrDefault("NARPSTAT_QUAD_POINTS", 10),
			Workers:    getEnvIntOrDefault("NARPSTAT_WORKERS", 4),
			CILevel:    getEnvFloatOrDefault("NARPSTAT_CI_LEVEL", 0.95),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Analysis.VoxelMM <= 0 {
		return errors.ConfigInvalid("NARPSTAT_VOXEL_MM must be positive")
	}
	if config.Analysis.Replicates < 1 {
		return errors.ConfigInvalid("NARPSTAT_REPLICATES must be at least 1")
	}
	if config.Analysis.QuadPoints < 1 {
		return errors.ConfigInvalid("NARPSTAT_QUAD_POINTS must be at least 1")
	}
	if config.Analysis.Workers < 1 {
		return errors.ConfigInvalid("NARPSTAT_WORKERS must be at least 1")
	}
	if config.Analysis.CILevel <= 0 || config.Analysis.CILevel >= 1 {
		return errors.ConfigInvalid("NARPSTAT_CI_LEVEL must be in (0, 1)")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/verdant-game/verdant/pkg/log"
)

// Config holds the server configuration values.
type Config struct {
	DatabaseURL    string        // Connection string for the persistent store
	CORSOrigin     string        // Allowed origin for browser clients
	JWTSecret      string        // Secret key for JWT signing
	JWTIssuer      string        // Issuer claim for JWTs
	JWTExpiry      time.Duration // Lifetime of issued tokens
	RateLimitRPS   float64       // Sustained requests per second per IP
	RateLimitBurst int           // Burst allowance per IP
	AuthRateRPS    float64       // Sustained rate for auth endpoints per IP
	AuthRateBurst  int           // Burst allowance for auth endpoints per IP
}

// Load reads the configuration from the environment, loading a .env
// file first if one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug(".env file not loaded: %v", err)
	}

	secret := os.Getenv("VERDANT_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("VERDANT_JWT_SECRET environment variable must be set")
	}

	expiry, err := getEnvAsDuration("VERDANT_JWT_EXPIRY", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	rps, err := getEnvAsFloat("VERDANT_RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, err
	}

	burst, err := getEnvAsInt("VERDANT_RATE_LIMIT_BURST", 30)
	if err != nil {
		return nil, err
	}

	authRPS, err := getEnvAsFloat("VERDANT_AUTH_RATE_LIMIT_RPS", 0.5)
	if err != nil {
		return nil, err
	}

	authBurst, err := getEnvAsInt("VERDANT_AUTH_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:    getEnvWithDefault("VERDANT_DATABASE_URL", "sqlite://verdant.db"),
		CORSOrigin:     getEnvWithDefault("VERDANT_CORS_ORIGIN", "http://localhost:3000"),
		JWTSecret:      secret,
		JWTIssuer:      getEnvWithDefault("VERDANT_JWT_ISSUER", "verdant"),
		JWTExpiry:      expiry,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		AuthRateRPS:    authRPS,
		AuthRateBurst:  authBurst,
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %v", key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a number: %v", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration: %v", key, err)
	}
	return value, nil
}

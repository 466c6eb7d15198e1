package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	MainBackendURL        string
	UserDataBackendURL    string
	SessionDriver         string
	SessionDir            string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OTPTTLSeconds         int
}

func Load() Config {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	otpTTL, err := strconv.Atoi(getEnv("OTP_TTL_SECONDS", "300"))
	if err != nil || otpTTL < 1 {
		otpTTL = 300
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		MainBackendURL:        strings.TrimSpace(os.Getenv("MAIN_BACKEND_URL")),
		UserDataBackendURL:    strings.TrimSpace(os.Getenv("USER_DATA_BACKEND_URL")),
		SessionDriver:         getEnv("SESSION_DRIVER", "file"),
		SessionDir:            getEnv("SESSION_DIR", ".storefront-session"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		OTPTTLSeconds:         otpTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

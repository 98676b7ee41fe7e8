package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Match settings
	DefaultMoveTimeoutSecs  int
	DepositPollSecs         int
	DepositTimeoutMinutes   int
	IdleMatchTimeoutMinutes int
	WaitingTimeoutMinutes   int
	CompletedRetentionMins  int
	CleanupIntervalSecs     int
	QueueTicketTTLSecs      int
	WSTokenTTLSecs          int
	SessionTTLHours         int
	ChatHistoryLimit        int

	// Settlement (on-chain escrow)
	ChainRPCURL      string
	EscrowAddress    string
	OperatorKey      string
	ChainID          int64
	GameContractIDs  string
	DisputeWindowMin int

	// Security
	JWTSecret         string
	SessionTimeoutMin int
	RateLimitRPS      int
	RateLimitBurst    int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/dorkfun?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Match settings
		DefaultMoveTimeoutSecs:  getEnvInt("DEFAULT_MOVE_TIMEOUT_SECONDS", 30),
		DepositPollSecs:         getEnvInt("DEPOSIT_POLL_SECONDS", 5),
		DepositTimeoutMinutes:   getEnvInt("DEPOSIT_TIMEOUT_MINUTES", 5),
		IdleMatchTimeoutMinutes: getEnvInt("IDLE_MATCH_TIMEOUT_MINUTES", 30),
		WaitingTimeoutMinutes:   getEnvInt("WAITING_TIMEOUT_MINUTES", 15),
		CompletedRetentionMins:  getEnvInt("COMPLETED_RETENTION_MINUTES", 10),
		CleanupIntervalSecs:     getEnvInt("CLEANUP_INTERVAL_SECONDS", 60),
		QueueTicketTTLSecs:      getEnvInt("QUEUE_TICKET_TTL_SECONDS", 180),
		WSTokenTTLSecs:          getEnvInt("WS_TOKEN_TTL_SECONDS", 300),
		SessionTTLHours:         getEnvInt("SESSION_TTL_HOURS", 24),
		ChatHistoryLimit:        getEnvInt("CHAT_HISTORY_LIMIT", 50),

		// Settlement
		ChainRPCURL:      getEnv("CHAIN_RPC_URL", ""),
		EscrowAddress:    getEnv("ESCROW_CONTRACT_ADDRESS", ""),
		OperatorKey:      getEnv("OPERATOR_PRIVATE_KEY", ""),
		ChainID:          int64(getEnvInt("CHAIN_ID", 8453)),
		GameContractIDs:  getEnv("GAME_CONTRACT_IDS", ""),
		DisputeWindowMin: getEnvInt("DISPUTE_WINDOW_MINUTES", 10),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTimeoutMin: getEnvInt("SESSION_TIMEOUT_MINUTES", 720),
		RateLimitRPS:      getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

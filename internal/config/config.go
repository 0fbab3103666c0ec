package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	MongoURI    string
	DBName      string
	Environment string
	AppId       string

	CORSAllowOrigins string

	// Messaging gateway (WhatsApp Cloud API)
	WhatsAppToken  string
	PhoneNumberID  string
	WhatsAppAPIURL string

	// Scheduler loop
	TickSchedule      string
	DeferredSchedule  string
	AnalyticsSchedule string
	PruneSchedule     string
	LogRetentionDays  int

	DispatchConcurrency    int
	ScheduleCatchupMinutes int
	Timezone               string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "go-automation"),
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-automation"),

		CORSAllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),

		WhatsAppToken:  getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:  getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppAPIURL: getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v18.0"),

		TickSchedule:      getEnv("TICK_SCHEDULE", "@every 1m"),
		DeferredSchedule:  getEnv("DEFERRED_SCHEDULE", "@every 10s"),
		AnalyticsSchedule: getEnv("ANALYTICS_SCHEDULE", "@hourly"),
		PruneSchedule:     getEnv("PRUNE_SCHEDULE", "@weekly"),
		LogRetentionDays:  getEnvInt("LOG_RETENTION_DAYS", 30),

		DispatchConcurrency:    getEnvInt("DISPATCH_CONCURRENCY", 8),
		ScheduleCatchupMinutes: getEnvInt("SCHEDULE_CATCHUP_MINUTES", 60),
		Timezone:               getEnv("TIMEZONE", "UTC"),
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort    string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaRetryPartitions   string
	KafkaReplicationFactor string
	EventDrivenEnabled     string

	TicketIntervalMinutes string
	MaxActiveTickets      string
	RightsIntervalMinutes string
	MaxRights             string

	DropIntervalMinutes string
	DropDurationMinutes string
	TicketsPerDrop      string
	MaxActiveDrops      string
	DropSweepEnabled    string
}

func Load() *Config {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "odinow"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "allocation-service"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "allocation-consumers"),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "allocation-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaRetryPartitions:   getEnv("KAFKA_RETRY_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "true"),

		TicketIntervalMinutes: getEnv("TICKET_INTERVAL_MINUTES", "30"),
		MaxActiveTickets:      getEnv("MAX_ACTIVE_TICKETS", "5"),
		RightsIntervalMinutes: getEnv("RIGHTS_INTERVAL_MINUTES", "15"),
		MaxRights:             getEnv("MAX_RIGHTS", "5"),

		DropIntervalMinutes: getEnv("DROP_INTERVAL_MINUTES", "30"),
		DropDurationMinutes: getEnv("DROP_DURATION_MINUTES", "30"),
		TicketsPerDrop:      getEnv("TICKETS_PER_DROP", "1"),
		MaxActiveDrops:      getEnv("MAX_ACTIVE_DROPS", "5"),
		DropSweepEnabled:    getEnv("DROP_SWEEP_ENABLED", "true"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) RetryPartitions() int {
	return parseInt(c.KafkaRetryPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func (c *Config) TicketInterval() time.Duration {
	return minutes(c.TicketIntervalMinutes, 30)
}

func (c *Config) TicketMax() int {
	return parseInt(c.MaxActiveTickets, 5)
}

func (c *Config) RightsInterval() time.Duration {
	return minutes(c.RightsIntervalMinutes, 15)
}

func (c *Config) RightsMax() int {
	return parseInt(c.MaxRights, 5)
}

func (c *Config) DropInterval() time.Duration {
	return minutes(c.DropIntervalMinutes, 30)
}

func (c *Config) DropDuration() time.Duration {
	return minutes(c.DropDurationMinutes, 30)
}

func (c *Config) DropTickets() int {
	return parseInt(c.TicketsPerDrop, 1)
}

func (c *Config) DropMaxActive() int {
	return parseInt(c.MaxActiveDrops, 5)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func minutes(value string, fallback int) time.Duration {
	return time.Duration(parseInt(value, fallback)) * time.Minute
}

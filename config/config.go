package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	RacePulse RacePulseConfig `yaml:"racepulse"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	ParticipantUpdatedTopicName string `yaml:"participant_updated_topic_name"`
	RaceEventsTopicName         string `yaml:"race_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RacePulseConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	KafkaConsumerGroup  string `yaml:"kafka_consumer_group"`
	RaceStateTTLSeconds int    `yaml:"race_state_ttl_seconds"`

	MinParticipants       int `yaml:"min_participants"`
	StartCountdownSeconds int `yaml:"start_countdown_seconds"`
	FinishGraceSeconds    int `yaml:"finish_grace_seconds"`

	ThrottleSweepSeconds   int `yaml:"throttle_sweep_seconds"`
	ThrottleMaxIdleSeconds int `yaml:"throttle_max_idle_seconds"`

	RouteCacheTTLSeconds      int `yaml:"route_cache_ttl_seconds"`
	RoutingRateLimitPerMinute int `yaml:"routing_rate_limit_per_minute"`

	WorkerHTTPAddr       string `yaml:"worker_http_addr"`
	WorkerRefreshSeconds int    `yaml:"worker_refresh_seconds"`
	WorkerSnapshotBuffer int    `yaml:"worker_snapshot_buffer"`

	RoutingProviderBaseURL string `yaml:"routing_provider_base_url"`
	RoutingProviderAPIKey  string `yaml:"routing_provider_api_key"`

	PushProviderBaseURL string `yaml:"push_provider_base_url"`
	PushProviderAPIKey  string `yaml:"push_provider_api_key"`
	PushBatchSize       int    `yaml:"push_batch_size"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

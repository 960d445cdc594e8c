package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FleetFoot/RacePulse/config"
	"github.com/FleetFoot/RacePulse/internal/broker/kafka"
	"github.com/FleetFoot/RacePulse/internal/cache/rediscache"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing"
	routingfake "github.com/FleetFoot/RacePulse/internal/integrations/routing/fake"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing/osrmhttp"
	"github.com/FleetFoot/RacePulse/internal/services/races"
	"github.com/FleetFoot/RacePulse/internal/services/routes"
	"github.com/FleetFoot/RacePulse/internal/storage/pgrace"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	httpAddr := cfg.RacePulse.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.RacePulse.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "race-api"
	}
	topic := cfg.Kafka.RaceEventsTopicName
	if topic == "" {
		topic = "race.events"
	}
	raceTTL := time.Duration(cfg.RacePulse.RaceStateTTLSeconds) * time.Second
	if raceTTL <= 0 {
		raceTTL = 10 * time.Minute
	}
	routeTTL := time.Duration(cfg.RacePulse.RouteCacheTTLSeconds) * time.Second
	if routeTTL <= 0 {
		routeTTL = 24 * time.Hour
	}
	countdown := time.Duration(cfg.RacePulse.StartCountdownSeconds) * time.Second

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgrace.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	var routingClient routing.Client
	if cfg.RacePulse.RoutingProviderBaseURL != "" {
		routingClient = osrmhttp.New(cfg.RacePulse.RoutingProviderBaseURL, cfg.RacePulse.RoutingProviderAPIKey)
	} else {
		routingClient = routingfake.New()
	}

	routeSvc := routes.New(routingClient, rc, routeTTL)
	if cfg.RacePulse.RoutingRateLimitPerMinute > 0 {
		routeSvc = routeSvc.WithRateLimiter(
			rediscache.NewRateLimiter(redisAddr),
			int64(cfg.RacePulse.RoutingRateLimitPerMinute))
	}

	svc := races.New(st, rc, routeSvc, raceTTL, countdown, cfg.RacePulse.MinParticipants)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runRaceAPI(ctx, raceAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   os.Getenv("swaggerPath"),
		topic:         topic,
		consumerGroup: consumerGroup,
	}, svc, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}

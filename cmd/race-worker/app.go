package main

import (
	"context"
	"fmt"
	"time"

	"github.com/FleetFoot/RacePulse/config"
	"github.com/FleetFoot/RacePulse/internal/broker/kafka"
	"github.com/FleetFoot/RacePulse/internal/integrations/push"
	pushfake "github.com/FleetFoot/RacePulse/internal/integrations/push/fake"
	"github.com/FleetFoot/RacePulse/internal/integrations/push/fcmhttp"
	"github.com/FleetFoot/RacePulse/internal/lifecycle"
	"github.com/FleetFoot/RacePulse/internal/notify"
	"github.com/FleetFoot/RacePulse/internal/services/supervisor"
	"github.com/FleetFoot/RacePulse/internal/storage/pgrace"
)

type snapshotConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage    func(cfg *config.Config) (repo supervisor.Repository, closeFn func(), err error)
	newProducer   func(cfg *config.Config) supervisor.Publisher
	newPushClient func(cfg *config.Config) push.Client
	newConsumer   func(cfg *config.Config, topic, group string) snapshotConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (supervisor.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgrace.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) supervisor.Publisher {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newPushClient: func(cfg *config.Config) push.Client {
			// Without a configured provider the worker still runs, with
			// deliveries recorded in memory.
			if cfg.RacePulse.PushProviderBaseURL != "" {
				return fcmhttp.New(cfg.RacePulse.PushProviderBaseURL, cfg.RacePulse.PushProviderAPIKey)
			}
			return pushfake.New()
		},
		newConsumer: func(cfg *config.Config, topic, group string) snapshotConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

// RunRaceWorker wires the supervisor and consumes the participant topic
// until the context is cancelled. The supervisor it builds is handed to
// onReady so the HTTP surface can expose its stats.
func RunRaceWorker(ctx context.Context, cfg *config.Config, f workerFactories, onReady func(*supervisor.Supervisor)) error {
	topic := cfg.Kafka.ParticipantUpdatedTopicName
	if topic == "" {
		topic = "participant.updated"
	}
	eventsTopic := cfg.Kafka.RaceEventsTopicName
	if eventsTopic == "" {
		eventsTopic = "race.events"
	}
	group := cfg.RacePulse.KafkaConsumerGroup
	if group == "" {
		group = "race-worker"
	}

	settings := lifecycle.Settings{
		Countdown:       time.Duration(cfg.RacePulse.StartCountdownSeconds) * time.Second,
		GraceWindow:     time.Duration(cfg.RacePulse.FinishGraceSeconds) * time.Second,
		MinParticipants: cfg.RacePulse.MinParticipants,
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)

	throttle := notify.NewThrottle(
		time.Duration(cfg.RacePulse.ThrottleSweepSeconds)*time.Second,
		time.Duration(cfg.RacePulse.ThrottleMaxIdleSeconds)*time.Second)
	go func() { _ = throttle.Run(ctx) }()

	notifier := notify.NewNotifier(throttle, f.newPushClient(cfg)).
		WithBatchSize(cfg.RacePulse.PushBatchSize)

	sup := supervisor.New(repo, producer, notifier, eventsTopic, settings).
		WithRefreshInterval(time.Duration(cfg.RacePulse.WorkerRefreshSeconds) * time.Second).
		WithSnapshotBuffer(cfg.RacePulse.WorkerSnapshotBuffer)
	if onReady != nil {
		onReady(sup)
	}
	go sup.Run(ctx)

	consumer := f.newConsumer(cfg, topic, group)
	defer func() { _ = consumer.Close() }()

	return consumer.Consume(ctx, sup.HandleSnapshot)
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/FleetFoot/RacePulse/internal/broker/messages"
	"github.com/FleetFoot/RacePulse/internal/services/races"
)

type raceAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// runRaceAPI serves the HTTP surface and consumes the race events topic in
// the background, feeding the persisted event feed.
func runRaceAPI(ctx context.Context, opts raceAPIOpts, svc *races.Service, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := consumer.Consume(ctx, func(_ []byte, value []byte) error {
			var m messages.RaceEventMessage
			if err := json.Unmarshal(value, &m); err != nil {
				slog.Warn("malformed race event", "error", err)
				return nil
			}
			return svc.ApplyEventMessage(ctx, m)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("kafka consumer stopped", "error", err)
		}
	}()

	srv := &http.Server{Handler: newRouter(svc, opts.swaggerPath)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

package main

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/FleetFoot/RacePulse/config"
	"github.com/FleetFoot/RacePulse/internal/lifecycle"
	"github.com/FleetFoot/RacePulse/internal/services/supervisor"
	"github.com/stretchr/testify/require"
)

func startWorkerHTTP(t *testing.T, opts workerHTTPOpts) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addrCh := make(chan string, 1)
	opts.httpAddr = "127.0.0.1:0"
	opts.onListen = func(httpAddr string) { addrCh <- httpAddr }

	go func() { _ = runWorkerHTTPServer(ctx, opts) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
		return ""
	}
}

func TestWorkerHTTP_StatsAndConfig(t *testing.T) {
	sup := supervisor.New(emptyRepo{}, noopProducer{}, nil, "race.events", lifecycle.Settings{})
	cfg := &config.Config{
		RacePulse: config.RacePulseConfig{MinParticipants: 3, StartCountdownSeconds: 10},
	}

	base := startWorkerHTTP(t, workerHTTPOpts{supervisor: sup, cfg: cfg})

	resp, err := http.Get(base + "/stats")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(b), `"runners":0`)

	resp, err = http.Get(base + "/config")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(b), `"minParticipants":3`)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-cluster-gateway/gateway"
	"github.com/jrsteele09/go-cluster-gateway/internal/config"
	"github.com/jrsteele09/go-cluster-gateway/metrics"
	"github.com/jrsteele09/go-cluster-gateway/server"
	"github.com/jrsteele09/go-cluster-gateway/sessions"
	"github.com/jrsteele09/go-cluster-gateway/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(config.GetEnv("CONFIG_FILE", ""))
	if err != nil {
		return err
	}
	setupLogging(c)
	if err := c.Validate(); err != nil {
		return err
	}
	displayAppname(c.GetAppName())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	store, closeStore, err := refreshStore(c)
	if err != nil {
		return err
	}
	defer closeStore()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	client := &http.Client{Transport: transport}

	cookies := sessions.NewCookieManager(c.GetCookieSecure())
	coordinator := refresh.NewCoordinator(c.GetAPIBase(), cookies,
		refresh.WithHTTPClient(client),
		refresh.WithAccessTokenTTL(c.GetAccessTokenTTL()),
		refresh.WithTimeout(c.GetRefreshTimeout()),
		refresh.WithStore(store, c.GetRefreshResultTTL()),
		refresh.WithRecorder(recorder),
	)
	gw, err := gateway.New(c.GetAPIBase(), cookies, coordinator,
		gateway.WithHTTPClient(client),
		gateway.WithTimeout(c.GetUpstreamTimeout()),
		gateway.WithMaxBodyBytes(c.GetMaxBodyBytes()),
		gateway.WithAccessTokenTTL(c.GetAccessTokenTTL()),
		gateway.WithRefreshWithoutAccessToken(c.GetRefreshWithoutAccessToken()),
		gateway.WithRecorder(recorder),
	)
	if err != nil {
		return err
	}

	handler := server.New(c, gw, metrics.Handler(reg))
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", c.GetAppName()).Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}

// refreshStore returns the store that shares refresh results between replicas.
// Without REDIS_URL refreshes are only coalesced within this process.
func refreshStore(c config.Config) (refresh.Store, func(), error) {
	redisURL := c.GetRedisURL()
	if redisURL == "" {
		return refresh.NopStore{}, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := refresh.Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh store: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("refresh store ping: %w", err)
	}
	log.Info().Msg("sharing refresh results through redis")

	return refresh.NewRedisStore(client), func() {
		if err := client.Close(); err != nil {
			log.Err(err).Msg("failed to close redis client")
		}
	}, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

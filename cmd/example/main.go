// Command example wires one Logger, the default HTTP transport, and a
// Dispatcher built with dispatch.New together and runs until a shutdown signal
// arrives, the same env-var-driven bootstrap shape as the teacher's
// cmd/agent/main.go, retargeted from a file-tailing daemon to the error
// reporting dispatch engine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flarelog/goclient/internal/config"
	"github.com/flarelog/goclient/internal/dispatch"
	"github.com/flarelog/goclient/internal/events"
	"github.com/flarelog/goclient/internal/logger"
	"github.com/flarelog/goclient/internal/transport/httptransport"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCfg := getConfig()

	tr := httptransport.New(appCfg.Endpoint, appCfg.AccessToken, appCfg.RequestTimeout)
	d := dispatch.New(
		dispatch.WithTransport(tr),
		dispatch.WithPolicy(dispatch.Policy{
			PollInterval:        250 * time.Millisecond,
			RetryBudget:         3,
			BackoffBase:         time.Second,
			BackoffMultiplier:   2,
			BackoffCap:          time.Minute,
			HaltTickOn429:       true,
			MaxDeliveryAttempts: appCfg.MaxDeliveryAttempts,
		}),
	)

	d.EventBus().Subscribe(events.ObserverFunc(logEvent))

	l := logger.New(d, config.Config{
		AccessToken:         appCfg.AccessToken,
		Environment:         appCfg.Environment,
		MaxReportsPerMinute: appCfg.MaxReportsPerMinute,
		ScrubFields:         appCfg.ScrubFields,
		MaxQueueDepth:       appCfg.MaxQueueDepth,
	}, true)

	log.Printf("dispatch engine started: endpoint=%s env=%s max_reports_per_minute=%d",
		appCfg.Endpoint, appCfg.Environment, appCfg.MaxReportsPerMinute)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Println("received shutdown signal")
		cancel()
	}()

	_ = l // the singleton logger is kept alive for the process lifetime

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		log.Printf("dispatcher did not stop cleanly: %v", err)
	}
	log.Println("shutting down...")
}

func logEvent(e events.InternalEvent) {
	switch e.Kind {
	case events.Communication:
		log.Printf("communication: token=%s error_code=%d", e.AccessToken, e.ErrorCode)
	case events.CommunicationError:
		log.Printf("communication error: token=%s remaining_retries=%d err=%v", e.AccessToken, e.RemainingRetries, e.Err)
	case events.ApiError:
		log.Printf("api error: token=%s error_code=%d", e.AccessToken, e.ErrorCode)
	case events.QueueOverflow:
		log.Printf("queue overflow: token=%s", e.AccessToken)
	case events.DeadLetter:
		log.Printf("dead letter: token=%s err=%v", e.AccessToken, e.Err)
	case events.Fault:
		log.Printf("dispatcher fault: %v", e.Err)
	}
}

// ------------------------------------ config loading -----------------------------------------------------

type appConfig struct {
	Endpoint            string
	AccessToken         string
	Environment         string
	MaxReportsPerMinute int
	MaxQueueDepth       int
	MaxDeliveryAttempts int
	ScrubFields         []string
	RequestTimeout      time.Duration
}

func getConfig() appConfig {
	return appConfig{
		Endpoint:            getEnv("REPORTING_ENDPOINT", "https://ingest.example.com"),
		AccessToken:         getEnv("ACCESS_TOKEN", ""),
		Environment:         getEnv("ENVIRONMENT", "production"),
		MaxReportsPerMinute: getEnvAsInt("MAX_REPORTS_PER_MINUTE", 60),
		MaxQueueDepth:       getEnvAsInt("MAX_QUEUE_DEPTH", 1000),
		MaxDeliveryAttempts: getEnvAsInt("MAX_DELIVERY_ATTEMPTS", 0),
		ScrubFields:         getEnvAsList("SCRUB_FIELDS", []string{"password", "authorization"}),
		RequestTimeout:      getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

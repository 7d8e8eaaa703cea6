package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flightline/reconcile/internal/httpapi"
	"github.com/flightline/reconcile/internal/reconcile"
)

func main() {
	addr := os.Getenv("RECON_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	stateBackend, pendingQueue, err := buildStorageBackendsFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage backends: %v", err)
	}

	feed := httpapi.NewFeedHub()
	monitor := reconcile.NewFanoutMonitor(reconcile.NewLogMonitor(), feed)

	store := reconcile.NewStoreWithOptions(reconcile.StoreOptions{
		StateBackend:       stateBackend,
		PendingQueue:       pendingQueue,
		Monitor:            monitor,
		MaxPendingAttempts: intEnv("RECON_MAX_PENDING_ATTEMPTS", 0),
		PendingRetryDelay:  durationEnv("RECON_PENDING_RETRY_DELAY", 0),
		ResolverRecency:    durationEnv("RECON_RESOLVER_RECENCY", 0),
		PendingWorkers:     intEnv("RECON_PENDING_WORKERS", 0),
	})
	defer store.Close()

	secrets, err := buildSecretsFromEnv()
	if err != nil {
		log.Fatalf("failed to load secret files: %v", err)
	}

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:        os.Getenv("RECON_JWT_SECRET"),
		SourceHMACSecret: os.Getenv("RECON_SOURCE_HMAC_SECRET"),
		Secrets:          secrets,
		SourceMaxSkew:    durationEnv("RECON_SOURCE_MAX_SKEW", 5*time.Minute),
		RateLimitMax:     intEnv("RECON_RATE_LIMIT_MAX", 0),
		RateLimitWindow:  durationEnv("RECON_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:     int64Env("RECON_MAX_BODY_BYTES", 0),
		Feed:             feed,
	})

	log.Printf("reconcile listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func buildStorageBackendsFromEnv() (reconcile.StateBackend, reconcile.EventQueue, error) {
	profileStateDSN, profileQueueDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}

	stateDSN := strings.TrimSpace(os.Getenv("RECON_STATE_BACKEND_DSN"))
	if stateDSN == "" {
		stateDSN = profileStateDSN
	}
	queueDSN := strings.TrimSpace(os.Getenv("RECON_PENDING_QUEUE_DSN"))
	if queueDSN == "" {
		queueDSN = profileQueueDSN
	}

	var stateBackend reconcile.StateBackend
	if stateDSN != "" {
		stateBackend, err = reconcile.BuildStateBackendFromDSN(stateDSN)
		if err != nil {
			return nil, nil, err
		}
	}
	var pendingQueue reconcile.EventQueue
	if queueDSN != "" {
		pendingQueue, err = reconcile.BuildEventQueueFromDSN(queueDSN, intEnv("RECON_PENDING_QUEUE_SIZE", 0))
		if err != nil {
			return nil, nil, err
		}
	}
	return stateBackend, pendingQueue, nil
}

func storageProfileDefaultsFromEnv() (stateBackendDSN, pendingQueueDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("RECON_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("RECON_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".reconcile"
	}
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("RECON_PRODUCTION_DSN"))
		if productionDSN == "" {
			productionDSN = strings.TrimSpace(os.Getenv("RECON_POSTGRES_DSN"))
		}
		if productionDSN == "" {
			return "", "", fmt.Errorf("RECON_PRODUCTION_DSN or RECON_POSTGRES_DSN is required when RECON_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, productionDSN, nil
	case "durable-local", "local-durable":
		return "sqlite://" + filepath.Join(dataDir, "state.db"),
			"file://" + filepath.Join(dataDir, "pending-queue.json"),
			nil
	default:
		return "", "", fmt.Errorf("unsupported RECON_BACKEND_PROFILE: %s", profile)
	}
}

func buildSecretsFromEnv() (*httpapi.SecretStore, error) {
	sourcePath := strings.TrimSpace(os.Getenv("RECON_SOURCE_HMAC_SECRET_FILE"))
	bearerPath := strings.TrimSpace(os.Getenv("RECON_JWT_SECRET_FILE"))
	if sourcePath == "" && bearerPath == "" {
		return nil, nil
	}
	secrets, err := httpapi.LoadSecretFiles(sourcePath, bearerPath)
	if err != nil {
		return nil, err
	}
	if err := secrets.Watch(context.Background()); err != nil {
		return nil, err
	}
	return secrets, nil
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/fileinsights/uploads/internal/api"
	"github.com/fileinsights/uploads/internal/config"
	"github.com/fileinsights/uploads/internal/metadata"
	"github.com/fileinsights/uploads/internal/notify"
	"github.com/fileinsights/uploads/internal/storage"
	"github.com/fileinsights/uploads/internal/upload"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Load AWS configuration
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	gateway := storage.NewS3Gateway(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.PresignTTL, logger)

	var store upload.MetadataStore
	switch cfg.MetadataBackend {
	case "memory":
		store = metadata.NewMemoryStore()
	default:
		store = metadata.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.UploadsTable)
	}

	var notifier upload.Notifier
	if cfg.QueueURL != "" {
		notifier = notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	manager := upload.NewManager(gateway, store, notifier, cfg.Limits, logger)
	router := api.NewRouter(api.NewHandlers(manager, logger), logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Serve until interrupted, then drain in-flight requests.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "bucket", cfg.Bucket, "metadata_backend", cfg.MetadataBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
	}
}

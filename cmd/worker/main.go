package main

import (
	"context"
	"log"
	"mlops-backend/cmd"
	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/storage"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL        string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL        string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL      string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region           string `env:"AWS_REGION" envDefault:"us-east-1"`
	DataBucketName     string `env:"DATA_BUCKET_NAME" envDefault:"mlops-data"`
	MonitorTickSeconds int    `env:"MONITOR_TICK_SECONDS" envDefault:"30"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create S3 client: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.DataBucketName); err != nil {
		log.Fatalf("Worker: Failed to create bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to create RabbitMQ receiver: %v", err)
	}
	defer receiver.Close()

	processor := core.NewTaskProcessor(db, store, publisher, receiver, cfg.DataBucketName)
	go processor.Start()

	scheduler := core.NewMonitorScheduler(db, publisher, time.Duration(cfg.MonitorTickSeconds)*time.Second)
	go scheduler.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping workers...")

	scheduler.Stop()
	processor.Stop()

	log.Println("Worker process stopped.")
}

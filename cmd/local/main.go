package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mlops-backend/cmd"
	"mlops-backend/internal/api"
	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/quota"
	"mlops-backend/internal/serving"
	"mlops-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root               string `env:"ROOT" envDefault:"./mlops-local"`
	Port               int    `env:"PORT" envDefault:"3001"`
	WarehouseURL       string `env:"WAREHOUSE_URL"`
	MaxDatasetBytes    int64  `env:"MAX_DATASET_BYTES" envDefault:"0"`
	MonitorTickSeconds int    `env:"MONITOR_TICK_SECONDS" envDefault:"30"`
}

const dataBucket = "mlops-data"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "mlops.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue requeues work that was still pending when the process last
// stopped, since the in-memory queue does not survive restarts.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	queue := messaging.NewInMemoryQueue()

	// Models stuck in TRAINING were interrupted mid-run; requeueing them lets
	// the trainer resume from their last checkpoint.
	var models []database.Model
	if err := db.Where("status IN ?", []string{database.ModelQueued, database.ModelTraining}).Find(&models).Error; err != nil {
		log.Fatalf("Failed to fetch queued models from database: %v", err)
	}
	for _, model := range models {
		if err := queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: model.Id}); err != nil {
			log.Fatalf("Failed to publish training task: %v", err)
		}
	}

	var jobs []database.ProcessingJob
	if err := db.Where("status = ?", database.JobQueued).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch queued processing jobs from database: %v", err)
	}
	for _, job := range jobs {
		if err := queue.PublishProcessDataTask(context.Background(), messaging.ProcessDataPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to publish processing task: %v", err)
		}
	}

	var runs []database.PipelineRun
	if err := db.Where("status = ?", database.JobQueued).Find(&runs).Error; err != nil {
		log.Fatalf("Failed to fetch queued pipeline runs from database: %v", err)
	}
	for _, run := range runs {
		if err := queue.PublishPipelineRunTask(context.Background(), messaging.PipelineRunPayload{RunId: run.Id}); err != nil {
			log.Fatalf("Failed to publish pipeline run task: %v", err)
		}
	}

	return queue
}

func createServer(service *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	if err := store.CreateBucket(context.Background(), dataBucket); err != nil {
		log.Fatalf("Failed to create bucket: %v", err)
	}

	queue := createQueue(db)

	warehouseConn := cmd.ConnectWarehouse(context.Background(), cfg.WarehouseURL)
	if warehouseConn != nil {
		defer warehouseConn.Close()
	}

	processor := core.NewTaskProcessor(db, store, queue, queue, dataBucket)
	go processor.Start()

	scheduler := core.NewMonitorScheduler(db, queue, time.Duration(cfg.MonitorTickSeconds)*time.Second)
	go scheduler.Start()

	service := api.NewBackendService(
		db, store, dataBucket, queue,
		serving.NewManager(db, store, dataBucket),
		quota.NewVerifier(db, cfg.MaxDatasetBytes),
		warehouseConn,
	)
	server := createServer(service, cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		scheduler.Stop()
		processor.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("backend listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}

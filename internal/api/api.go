package api

import (
	"net/http"

	"mlops-backend/internal/messaging"
	"mlops-backend/internal/quota"
	"mlops-backend/internal/serving"
	"mlops-backend/internal/storage"
	"mlops-backend/internal/warehouse"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	bucket    string
	publisher messaging.Publisher
	serving   *serving.Manager
	quota     *quota.Verifier

	// warehouse is nil when no warehouse connection is configured; the
	// warehouse endpoints then return 503.
	warehouse *warehouse.Conn
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, bucket string, publisher messaging.Publisher, servingManager *serving.Manager, quotaVerifier *quota.Verifier, warehouseConn *warehouse.Conn) *BackendService {
	return &BackendService{
		db:        db,
		storage:   store,
		bucket:    bucket,
		publisher: publisher,
		serving:   servingManager,
		quota:     quotaVerifier,
		warehouse: warehouseConn,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Post("/{dataset_id}/upload", RestHandler(s.UploadDataset))
		r.Get("/{dataset_id}", RestHandler(s.GetDataset))
		r.Get("/{dataset_id}/summary", RestHandler(s.GetDatasetSummary))
		r.Delete("/{dataset_id}", RestHandler(s.DeleteDataset))
	})

	r.Route("/processing", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateProcessingJob))
		r.Get("/{job_id}", RestHandler(s.GetProcessingJob))
	})

	r.Route("/models", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTrainingJob))
		r.Get("/", RestHandler(s.ListModels))
		r.Get("/{model_id}", RestHandler(s.GetModel))
		r.Delete("/{model_id}", RestHandler(s.DeleteModel))
	})

	r.Route("/tuning", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateTuningJob))
		r.Get("/{tuning_job_id}", RestHandler(s.GetTuningJob))
	})

	r.Route("/pipelines", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreatePipeline))
		r.Get("/", RestHandler(s.ListPipelines))
		r.Get("/{pipeline_id}", RestHandler(s.GetPipeline))
		r.Post("/{pipeline_id}/runs", RestHandler(s.StartPipelineRun))
		r.Get("/{pipeline_id}/runs/{run_id}", RestHandler(s.GetPipelineRun))
	})

	r.Route("/endpoints", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateEndpoint))
		r.Get("/", RestHandler(s.ListEndpoints))
		r.Get("/{endpoint_id}", RestHandler(s.GetEndpoint))
		r.Put("/{endpoint_id}/weights", RestHandler(s.UpdateEndpointWeights))
		r.Post("/{endpoint_id}/invoke", RestHandler(s.Invoke))
		r.Delete("/{endpoint_id}", RestHandler(s.DeleteEndpoint))
	})

	r.Route("/monitors", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateMonitor))
		r.Get("/{monitor_id}", RestHandler(s.GetMonitor))
		r.Post("/{monitor_id}/stop", RestHandler(s.StopMonitor))
	})

	r.Route("/warehouse", func(r chi.Router) {
		r.Post("/query", RestHandler(s.WarehouseQuery))
		r.Post("/update", RestHandler(s.WarehouseUpdate))
		r.Post("/import", RestHandler(s.WarehouseImport))
	})
}

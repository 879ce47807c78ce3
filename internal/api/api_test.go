package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	backend "mlops-backend/internal/api"
	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/quota"
	"mlops-backend/internal/serving"
	"mlops-backend/internal/storage"
	"mlops-backend/pkg/api"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBucket = "test-bucket"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type testEnv struct {
	db     *gorm.DB
	store  storage.ObjectStore
	router chi.Router
}

func setupService(t *testing.T, maxBytes int64, create ...any) testEnv {
	db := createDB(t, create...)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), testBucket))

	service := backend.NewBackendService(
		db, store, testBucket, messaging.NewInMemoryQueue(),
		serving.NewManager(db, store, testBucket),
		quota.NewVerifier(db, maxBytes),
		nil,
	)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return testEnv{db: db, store: store, router: router}
}

func doJson(t *testing.T, router chi.Router, method, path string, request, response any) int {
	var body []byte
	if request != nil {
		var err error
		body, err = json.Marshal(request)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if response != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	}
	return rec.Code
}

const sampleCsv = "x,y\n1,3\n2,5\n3,7\n4,9\n5,11\n6,13\n7,15\n8,17\n9,19\n10,21\n"

func uploadDataset(t *testing.T, env testEnv, csv string) uuid.UUID {
	var created api.CreateDatasetResponse
	code := doJson(t, env.router, http.MethodPost, "/datasets", api.CreateDatasetRequest{
		Name:           "trips",
		TargetColumn:   "y",
		FeatureColumns: []string{"x"},
	}, &created)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodPost, "/datasets/"+created.DatasetId.String()+"/upload", bytes.NewReader([]byte(csv)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	return created.DatasetId
}

func TestDatasetLifecycle(t *testing.T) {
	env := setupService(t, 0)

	datasetId := uploadDataset(t, env, sampleCsv)

	var ds api.Dataset
	code := doJson(t, env.router, http.MethodGet, "/datasets/"+datasetId.String(), nil, &ds)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "trips", ds.Name)
	assert.Equal(t, database.JobCompleted, ds.Status)
	assert.Equal(t, int64(10), ds.RowCount)
	assert.Equal(t, []string{"x"}, ds.FeatureColumns)

	var summary []api.ColumnSummary
	code = doJson(t, env.router, http.MethodGet, "/datasets/"+datasetId.String()+"/summary", nil, &summary)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, summary, 2)
	assert.Equal(t, "x", summary[0].Name)
	assert.InDelta(t, 5.5, summary[0].Mean, 1e-9)
	assert.Equal(t, 10, summary[0].Count)

	// A second upload must be rejected.
	req := httptest.NewRequest(http.MethodPost, "/datasets/"+datasetId.String()+"/upload", bytes.NewReader([]byte(sampleCsv)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	code = doJson(t, env.router, http.MethodDelete, "/datasets/"+datasetId.String(), nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code = doJson(t, env.router, http.MethodGet, "/datasets/"+datasetId.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadDatasetQuota(t *testing.T) {
	env := setupService(t, 10)

	var created api.CreateDatasetResponse
	code := doJson(t, env.router, http.MethodPost, "/datasets", api.CreateDatasetRequest{
		Name:           "trips",
		TargetColumn:   "y",
		FeatureColumns: []string{"x"},
	}, &created)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodPost, "/datasets/"+created.DatasetId.String()+"/upload", bytes.NewReader([]byte(sampleCsv)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadDatasetSchemaMismatch(t *testing.T) {
	env := setupService(t, 0)

	var created api.CreateDatasetResponse
	code := doJson(t, env.router, http.MethodPost, "/datasets", api.CreateDatasetRequest{
		Name:           "trips",
		TargetColumn:   "fare",
		FeatureColumns: []string{"distance"},
	}, &created)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodPost, "/datasets/"+created.DatasetId.String()+"/upload", bytes.NewReader([]byte(sampleCsv)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTrainingJob(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)

	var submitted api.TrainSubmitResponse
	code := doJson(t, env.router, http.MethodPost, "/models", api.TrainRequest{
		Name:      "fare-model",
		DatasetId: datasetId,
	}, &submitted)
	require.Equal(t, http.StatusOK, code)

	var model api.Model
	code = doJson(t, env.router, http.MethodGet, "/models/"+submitted.ModelId.String(), nil, &model)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fare-model", model.Name)
	assert.Equal(t, core.AlgorithmLinear, model.Algorithm)
	assert.Equal(t, database.ModelQueued, model.Status)
}

func TestSubmitTrainingJobInvalidRequests(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)

	code := doJson(t, env.router, http.MethodPost, "/models", api.TrainRequest{
		Name:      "fare-model",
		DatasetId: uuid.New(),
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = doJson(t, env.router, http.MethodPost, "/models", api.TrainRequest{
		Name:      "bad name!",
		DatasetId: datasetId,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code = doJson(t, env.router, http.MethodPost, "/models", api.TrainRequest{
		Name:            "fare-model",
		DatasetId:       datasetId,
		Hyperparameters: json.RawMessage(`{"learning_rate": -1}`),
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestListModels(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	env := setupService(t, 0,
		&database.Model{Id: id1, Name: "model1", Algorithm: core.AlgorithmLinear, Status: database.ModelTrained, CreationTime: time.Now()},
		&database.Model{Id: id2, Name: "model2", Algorithm: core.AlgorithmRidge, Status: database.ModelTraining, CreationTime: time.Now()},
	)

	var models []api.Model
	code := doJson(t, env.router, http.MethodGet, "/models", nil, &models)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, models, 2)

	models = nil
	code = doJson(t, env.router, http.MethodGet, "/models?status="+database.ModelTrained, nil, &models)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, models, 1)
	assert.Equal(t, id1, models[0].Id)
}

func TestDeleteModelOnEndpoint(t *testing.T) {
	modelId, endpointId := uuid.New(), uuid.New()
	env := setupService(t, 0,
		&database.Model{Id: modelId, Name: "model1", Algorithm: core.AlgorithmLinear, Status: database.ModelTrained},
		&database.Endpoint{
			Id: endpointId, Name: "serving", Status: database.EndpointInService, Mode: database.EndpointModeSingle,
			Variants: []database.EndpointVariant{{VariantName: "main", ModelId: modelId, Weight: 1}},
		},
	)

	code := doJson(t, env.router, http.MethodDelete, "/models/"+modelId.String(), nil, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateTuningJob(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)

	var created api.CreateTuningJobResponse
	code := doJson(t, env.router, http.MethodPost, "/tuning", api.CreateTuningJobRequest{
		Name:        "fare-tuning",
		DatasetId:   datasetId,
		Objective:   "validation:rmse",
		Goal:        "minimize",
		Strategy:    "grid",
		MaxTrials:   4,
		SearchSpace: json.RawMessage(`{"learning_rate": {"values": [0.01, 0.1]}, "epochs": {"values": [50, 100]}}`),
	}, &created)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, created.NumTrials)

	var job api.TuningJob
	code = doJson(t, env.router, http.MethodGet, "/tuning/"+created.TuningJobId.String(), nil, &job)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.JobRunning, job.Status)
	assert.Len(t, job.Trials, 4)
	for _, trial := range job.Trials {
		assert.Equal(t, database.ModelQueued, trial.Status)
	}
}

func TestCreateTuningJobBadSearchSpace(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)

	code := doJson(t, env.router, http.MethodPost, "/tuning", api.CreateTuningJobRequest{
		Name:        "fare-tuning",
		DatasetId:   datasetId,
		Objective:   "validation:rmse",
		Goal:        "minimize",
		Strategy:    "grid",
		MaxTrials:   2,
		SearchSpace: json.RawMessage(`{"learning_rate": {"min": 0.01, "max": 0.1}}`),
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// A tuning job must run at least one trial.
	code = doJson(t, env.router, http.MethodPost, "/tuning", api.CreateTuningJobRequest{
		Name:        "fare-tuning",
		DatasetId:   datasetId,
		Objective:   "validation:rmse",
		Goal:        "minimize",
		Strategy:    "grid",
		SearchSpace: json.RawMessage(`{"learning_rate": {"values": [0.01, 0.1]}}`),
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

const samplePipeline = `name: nightly
steps:
  - name: prepare
    type: process
    with:
      dataset_id: "%s"
  - name: train
    type: train
    depends_on: [prepare]
    with:
      dataset_id: "%s"
      name: nightly-model
`

func TestPipelineLifecycle(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)

	definition := fmt.Sprintf(samplePipeline, datasetId, datasetId)

	var created api.CreatePipelineResponse
	code := doJson(t, env.router, http.MethodPost, "/pipelines", api.CreatePipelineRequest{Definition: definition}, &created)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "nightly", created.Name)

	var pipeline api.Pipeline
	code = doJson(t, env.router, http.MethodGet, "/pipelines/"+created.PipelineId.String(), nil, &pipeline)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, pipeline.Definition, "nightly-model")

	var started api.StartPipelineRunResponse
	code = doJson(t, env.router, http.MethodPost, "/pipelines/"+created.PipelineId.String()+"/runs", nil, &started)
	require.Equal(t, http.StatusOK, code)

	var run api.PipelineRun
	code = doJson(t, env.router, http.MethodGet, "/pipelines/"+created.PipelineId.String()+"/runs/"+started.RunId.String(), nil, &run)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.JobQueued, run.Status)
}

func TestCreatePipelineInvalidDefinition(t *testing.T) {
	env := setupService(t, 0)

	for _, definition := range []string{
		"",
		"name: p\nsteps: []",
		"name: p\nsteps:\n  - name: a\n    type: train\n    depends_on: [missing]",
		"name: p\nsteps:\n  - name: a\n    type: bogus",
	} {
		code := doJson(t, env.router, http.MethodPost, "/pipelines", api.CreatePipelineRequest{Definition: definition}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, code, "definition %q", definition)
	}
}

func createTrainedModel(t *testing.T, env testEnv, weight float64, bias float64) uuid.UUID {
	modelId := uuid.New()

	artifact := core.Artifact{
		Algorithm:      core.AlgorithmLinear,
		Weights:        []float64{weight},
		Bias:           bias,
		FeatureColumns: []string{"x"},
		TargetColumn:   "y",
	}
	data, err := artifact.Bytes()
	require.NoError(t, err)
	require.NoError(t, env.store.PutObject(context.Background(), testBucket, core.ModelArtifactKey(modelId), bytes.NewReader(data)))

	require.NoError(t, env.db.Create(&database.Model{
		Id: modelId, Name: "served", Algorithm: core.AlgorithmLinear, Status: database.ModelTrained,
		ArtifactPath: core.ModelArtifactKey(modelId), CreationTime: time.Now(),
	}).Error)

	return modelId
}

func TestEndpointLifecycle(t *testing.T) {
	env := setupService(t, 0)
	modelId := createTrainedModel(t, env, 2.0, 1.0)

	var created api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:     "serving",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}, &created)
	require.Equal(t, http.StatusOK, code)

	var endpoint api.Endpoint
	code = doJson(t, env.router, http.MethodGet, "/endpoints/"+created.EndpointId.String(), nil, &endpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.EndpointInService, endpoint.Status)
	assert.Equal(t, database.EndpointModeSingle, endpoint.Mode)
	require.Len(t, endpoint.Variants, 1)

	var invoked api.InvokeResponse
	code = doJson(t, env.router, http.MethodPost, "/endpoints/"+created.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features: map[string]float64{"x": 3},
	}, &invoked)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 7.0, invoked.Prediction, 1e-9)
	assert.Equal(t, "main", invoked.Variant)
	assert.Equal(t, modelId, invoked.ModelId)

	code = doJson(t, env.router, http.MethodPut, "/endpoints/"+created.EndpointId.String()+"/weights", api.UpdateEndpointWeightsRequest{
		Weights: map[string]float64{"main": 3},
	}, &endpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 3.0, endpoint.Variants[0].Weight, 1e-9)

	code = doJson(t, env.router, http.MethodDelete, "/endpoints/"+created.EndpointId.String(), nil, nil)
	assert.Equal(t, http.StatusOK, code)

	// A deleted endpoint is gone as far as invocations are concerned.
	code = doJson(t, env.router, http.MethodPost, "/endpoints/"+created.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features: map[string]float64{"x": 3},
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateEndpointUntrainedModel(t *testing.T) {
	modelId := uuid.New()
	env := setupService(t, 0,
		&database.Model{Id: modelId, Name: "pending", Algorithm: core.AlgorithmLinear, Status: database.ModelTraining},
	)

	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:     "serving",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateEndpointDuplicateName(t *testing.T) {
	env := setupService(t, 0)
	modelId := createTrainedModel(t, env, 2.0, 1.0)

	request := api.CreateEndpointRequest{
		Name:     "serving",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}

	var created api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", request, &created)
	require.Equal(t, http.StatusOK, code)

	code = doJson(t, env.router, http.MethodPost, "/endpoints", request, nil)
	assert.Equal(t, http.StatusConflict, code)

	// Deleting the endpoint frees the name.
	code = doJson(t, env.router, http.MethodDelete, "/endpoints/"+created.EndpointId.String(), nil, nil)
	require.Equal(t, http.StatusOK, code)

	code = doJson(t, env.router, http.MethodPost, "/endpoints", request, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUpdateEndpointWeightsUnknownVariant(t *testing.T) {
	env := setupService(t, 0)
	modelId := createTrainedModel(t, env, 2.0, 1.0)

	var created api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:     "serving",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}, &created)
	require.Equal(t, http.StatusOK, code)

	code = doJson(t, env.router, http.MethodPut, "/endpoints/"+created.EndpointId.String()+"/weights", api.UpdateEndpointWeightsRequest{
		Weights: map[string]float64{"other": 1},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestMultiModelEndpoint(t *testing.T) {
	env := setupService(t, 0)
	model1 := createTrainedModel(t, env, 2.0, 1.0)
	model2 := createTrainedModel(t, env, 5.0, 0.0)

	var created api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name: "fleet",
		Mode: database.EndpointModeMultiModel,
	}, &created)
	require.Equal(t, http.StatusOK, code)

	var invoked api.InvokeResponse
	code = doJson(t, env.router, http.MethodPost, "/endpoints/"+created.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features:      map[string]float64{"x": 2},
		TargetModelId: &model1,
	}, &invoked)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 5.0, invoked.Prediction, 1e-9)

	code = doJson(t, env.router, http.MethodPost, "/endpoints/"+created.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features:      map[string]float64{"x": 2},
		TargetModelId: &model2,
	}, &invoked)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 10.0, invoked.Prediction, 1e-9)

	// A multi-model invoke without a target is rejected.
	code = doJson(t, env.router, http.MethodPost, "/endpoints/"+created.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features: map[string]float64{"x": 2},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMonitorLifecycle(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)
	modelId := createTrainedModel(t, env, 2.0, 1.0)

	var endpoint api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:           "serving",
		CaptureEnabled: true,
		Variants:       []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}, &endpoint)
	require.Equal(t, http.StatusOK, code)

	var created api.CreateMonitorResponse
	code = doJson(t, env.router, http.MethodPost, "/monitors", api.CreateMonitorRequest{
		EndpointId: endpoint.EndpointId,
		DatasetId:  datasetId,
		AlertRule:  "drift > 3 AND samples >= 10",
	}, &created)
	require.Equal(t, http.StatusOK, code)

	var monitor api.Monitor
	code = doJson(t, env.router, http.MethodGet, "/monitors/"+created.MonitorId.String(), nil, &monitor)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.MonitorActive, monitor.Status)
	assert.Equal(t, endpoint.EndpointId, monitor.EndpointId)
	assert.Equal(t, 3600, monitor.IntervalSeconds)

	code = doJson(t, env.router, http.MethodPost, "/monitors/"+created.MonitorId.String()+"/stop", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code = doJson(t, env.router, http.MethodGet, "/monitors/"+created.MonitorId.String(), nil, &monitor)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.MonitorStopped, monitor.Status)
}

func TestCreateMonitorValidation(t *testing.T) {
	env := setupService(t, 0)
	datasetId := uploadDataset(t, env, sampleCsv)
	modelId := createTrainedModel(t, env, 2.0, 1.0)

	var endpoint api.CreateEndpointResponse
	code := doJson(t, env.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:     "no-capture",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: modelId, Weight: 1}},
	}, &endpoint)
	require.Equal(t, http.StatusOK, code)

	// Monitoring requires data capture on the endpoint.
	code = doJson(t, env.router, http.MethodPost, "/monitors", api.CreateMonitorRequest{
		EndpointId: endpoint.EndpointId,
		DatasetId:  datasetId,
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = doJson(t, env.router, http.MethodPost, "/monitors", api.CreateMonitorRequest{
		EndpointId: endpoint.EndpointId,
		DatasetId:  datasetId,
		AlertRule:  "drift >",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestDeleteEndpointStopsMonitors(t *testing.T) {
	endpointId, monitorId := uuid.New(), uuid.New()
	env := setupService(t, 0,
		&database.Endpoint{Id: endpointId, Name: "serving", Status: database.EndpointInService, Mode: database.EndpointModeSingle, CaptureEnabled: true},
		&database.MonitorSchedule{
			Id: monitorId, EndpointId: endpointId, IntervalSeconds: 60,
			Baseline: datatypes.JSON(`{"x": {"mean": 5.5, "std": 3}}`), Status: database.MonitorActive,
		},
	)

	code := doJson(t, env.router, http.MethodDelete, "/endpoints/"+endpointId.String(), nil, nil)
	require.Equal(t, http.StatusOK, code)

	var monitor api.Monitor
	code = doJson(t, env.router, http.MethodGet, "/monitors/"+monitorId.String(), nil, &monitor)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, database.MonitorStopped, monitor.Status)
}

func TestWarehouseUnconfigured(t *testing.T) {
	env := setupService(t, 0)

	code := doJson(t, env.router, http.MethodPost, "/warehouse/query", api.WarehouseQueryRequest{Query: "SELECT 1"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

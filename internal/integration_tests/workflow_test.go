package integrationtests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createDataset(t *testing.T, e env, rows int) api.CreateDatasetResponse {
	var created api.CreateDatasetResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/datasets", api.CreateDatasetRequest{
		Name:           "trips",
		TargetColumn:   "y",
		FeatureColumns: []string{"x"},
	}, &created))
	require.NoError(t, uploadCsv(e.router, "/datasets/"+created.DatasetId.String()+"/upload", tripsCsv(rows)))
	return created
}

func TestTrainingAndServingWorkflow(t *testing.T) {
	e := setupBackend(t)
	ds := createDataset(t, e, 60)

	var submitted api.TrainSubmitResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/models", api.TrainRequest{
		Name:            "fare-model",
		DatasetId:       ds.DatasetId,
		Hyperparameters: json.RawMessage(`{"learning_rate": 0.001, "epochs": 500, "scaler": "standard"}`),
		Checkpointing:   true,
	}, &submitted))

	var model api.Model
	waitFor(t, 30*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet, "/models/"+submitted.ModelId.String(), nil, &model))
		return model.Status == database.ModelTrained || model.Status == database.ModelFailed
	})
	require.Equal(t, database.ModelTrained, model.Status)
	assert.Less(t, model.Metrics["rmse"], 1.0)
	assert.Greater(t, model.Metrics["r2"], 0.9)

	var endpoint api.CreateEndpointResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:     "serving",
		Variants: []api.EndpointVariant{{Name: "main", ModelId: model.Id, Weight: 1}},
	}, &endpoint))

	var invoked api.InvokeResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/endpoints/"+endpoint.EndpointId.String()+"/invoke", api.InvokeRequest{
		Features: map[string]float64{"x": 10},
	}, &invoked))
	assert.InDelta(t, 21.0, invoked.Prediction, 2.0)
	assert.Equal(t, "main", invoked.Variant)
}

func TestProcessingWorkflow(t *testing.T) {
	e := setupBackend(t)
	ds := createDataset(t, e, 60)

	var created api.CreateProcessingJobResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/processing", api.CreateProcessingJobRequest{
		DatasetId: ds.DatasetId,
		Scaler:    "minmax",
	}, &created))

	var job api.ProcessingJob
	waitFor(t, 30*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet, "/processing/"+created.JobId.String(), nil, &job))
		return job.Status == database.JobCompleted || job.Status == database.JobFailed
	})
	require.Equal(t, database.JobCompleted, job.Status, "errors: %v", job.Errors)
	require.NotEmpty(t, job.Tasks)
	for _, task := range job.Tasks {
		assert.Equal(t, database.JobCompleted, task.Status)
	}
}

func TestTuningWorkflow(t *testing.T) {
	e := setupBackend(t)
	ds := createDataset(t, e, 60)

	var created api.CreateTuningJobResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/tuning", api.CreateTuningJobRequest{
		Name:        "fare-tuning",
		DatasetId:   ds.DatasetId,
		Objective:   "validation:rmse",
		Goal:        "minimize",
		Strategy:    "grid",
		MaxTrials:   2,
		SearchSpace: json.RawMessage(`{"learning_rate": {"values": [0.00001, 0.001]}}`),
	}, &created))
	require.Equal(t, 2, created.NumTrials)

	var job api.TuningJob
	waitFor(t, 60*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet, "/tuning/"+created.TuningJobId.String(), nil, &job))
		return job.Status == database.JobCompleted || job.Status == database.JobFailed
	})
	require.Equal(t, database.JobCompleted, job.Status)
	require.NotNil(t, job.BestModelId)

	// The higher learning rate converges further on this data, so the best
	// trial must beat the other on the tuning objective.
	var best, other api.Model
	for _, trial := range job.Trials {
		if trial.Id == *job.BestModelId {
			best = trial
		} else {
			other = trial
		}
	}
	assert.LessOrEqual(t, best.Metrics["rmse"], other.Metrics["rmse"])
}

const pipelineDefinition = `name: nightly
steps:
  - name: prepare
    type: process
    with:
      dataset_id: "%s"
      scaler: standard
  - name: train
    type: train
    depends_on: [prepare]
    with:
      dataset_id: "%s"
      name: nightly-model
      hyperparameters:
        learning_rate: 0.001
        epochs: 500
        scaler: standard
  - name: check
    type: evaluate
    depends_on: [train]
    with:
      step: train
      metric: rmse
      max: 2.0
`

func TestPipelineWorkflow(t *testing.T) {
	e := setupBackend(t)
	ds := createDataset(t, e, 60)

	var created api.CreatePipelineResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/pipelines", api.CreatePipelineRequest{
		Definition: fmt.Sprintf(pipelineDefinition, ds.DatasetId, ds.DatasetId),
	}, &created))

	var started api.StartPipelineRunResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/pipelines/"+created.PipelineId.String()+"/runs", nil, &started))

	var run api.PipelineRun
	waitFor(t, 60*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet,
			"/pipelines/"+created.PipelineId.String()+"/runs/"+started.RunId.String(), nil, &run))
		return run.Status == database.JobCompleted || run.Status == database.JobFailed
	})
	require.Equal(t, database.JobCompleted, run.Status)
	require.Len(t, run.Steps, 3)
	for _, step := range run.Steps {
		assert.Equal(t, database.JobCompleted, step.Status, "step %s: %s", step.Name, step.Error)
	}
}

func TestMonitoringWorkflow(t *testing.T) {
	e := setupBackend(t)
	ds := createDataset(t, e, 60)

	var submitted api.TrainSubmitResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/models", api.TrainRequest{
		Name:            "fare-model",
		DatasetId:       ds.DatasetId,
		Hyperparameters: json.RawMessage(`{"learning_rate": 0.001, "epochs": 300, "scaler": "standard"}`),
	}, &submitted))

	var model api.Model
	waitFor(t, 30*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet, "/models/"+submitted.ModelId.String(), nil, &model))
		return model.Status == database.ModelTrained
	})

	var endpoint api.CreateEndpointResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/endpoints", api.CreateEndpointRequest{
		Name:           "serving",
		CaptureEnabled: true,
		Variants:       []api.EndpointVariant{{Name: "main", ModelId: model.Id, Weight: 1}},
	}, &endpoint))

	// All invocations sit far above the training distribution of x.
	for i := 0; i < 5; i++ {
		var invoked api.InvokeResponse
		require.NoError(t, httpRequest(e.router, http.MethodPost, "/endpoints/"+endpoint.EndpointId.String()+"/invoke", api.InvokeRequest{
			Features: map[string]float64{"x": 500},
		}, &invoked))
	}

	var created api.CreateMonitorResponse
	require.NoError(t, httpRequest(e.router, http.MethodPost, "/monitors", api.CreateMonitorRequest{
		EndpointId:      endpoint.EndpointId,
		DatasetId:       ds.DatasetId,
		IntervalSeconds: 60,
		AlertRule:       "drift > 3",
	}, &created))

	// Queue a run directly instead of waiting out the scheduler interval.
	scheduler := core.NewMonitorScheduler(e.db, e.queue, time.Minute)
	require.NoError(t, scheduler.Tick(context.Background()))

	var monitor api.Monitor
	waitFor(t, 30*time.Second, func() bool {
		require.NoError(t, httpRequest(e.router, http.MethodGet, "/monitors/"+created.MonitorId.String(), nil, &monitor))
		return len(monitor.Runs) > 0 &&
			(monitor.Runs[0].Status == database.JobCompleted || monitor.Runs[0].Status == database.JobFailed)
	})

	run := monitor.Runs[0]
	require.Equal(t, database.JobCompleted, run.Status)
	assert.Equal(t, int64(5), run.SampleCount)
	assert.Greater(t, run.DriftScores["x"], 3.0)
	assert.Equal(t, 1, run.Violations)
	require.NotNil(t, monitor.LastRunTime)
}

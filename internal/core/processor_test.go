package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"mlops-backend/internal/capture"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/monitor"
	"mlops-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testBucket = "test-bucket"

func setupProcessor(t *testing.T) (*TaskProcessor, *gorm.DB, storage.ObjectStore, *messaging.InMemoryQueue) {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), testBucket))

	queue := messaging.NewInMemoryQueue()

	return NewTaskProcessor(db, store, queue, queue, testBucket), db, store, queue
}

// createSplitDataset uploads train and test splits for y = 2x + 1 and
// registers the dataset.
func createSplitDataset(t *testing.T, db *gorm.DB, store storage.ObjectStore) uuid.UUID {
	var train, test strings.Builder
	train.WriteString("x,y\n")
	test.WriteString("x,y\n")
	for i := 0; i < 40; i++ {
		x := float64(i) / 10
		row := fmt.Sprintf("%g,%g\n", x, 2*x+1)
		if i%4 == 0 {
			test.WriteString(row)
		} else {
			train.WriteString(row)
		}
	}

	datasetId := uuid.New()
	ctx := context.Background()
	require.NoError(t, store.PutObject(ctx, testBucket, DatasetTrainKey(datasetId), strings.NewReader(train.String())))
	require.NoError(t, store.PutObject(ctx, testBucket, DatasetTestKey(datasetId), strings.NewReader(test.String())))

	require.NoError(t, db.Create(&database.Dataset{
		Id:             datasetId,
		Name:           "test-dataset",
		Bucket:         testBucket,
		TargetColumn:   "y",
		FeatureColumns: datatypes.JSON(`["x"]`),
		RowCount:       40,
		Status:         database.JobCompleted,
		CreationTime:   time.Now(),
	}).Error)

	return datasetId
}

func createModel(t *testing.T, db *gorm.DB, datasetId uuid.UUID, checkpointing bool) uuid.UUID {
	modelId := uuid.New()
	require.NoError(t, db.Create(&database.Model{
		Id:              modelId,
		DatasetId:       uuid.NullUUID{UUID: datasetId, Valid: true},
		Name:            "test-model",
		Algorithm:       AlgorithmLinear,
		Status:          database.ModelQueued,
		Hyperparameters: datatypes.JSON(`{"learning_rate": 0.1, "epochs": 500}`),
		Checkpointing:   checkpointing,
		CreationTime:    time.Now(),
	}).Error)
	return modelId
}

func TestProcessTrainTask(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)
	modelId := createModel(t, db, datasetId, false)

	require.NoError(t, proc.processTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", modelId).Error)
	assert.Equal(t, database.ModelTrained, model.Status)
	assert.Equal(t, ModelArtifactKey(modelId), model.ArtifactPath)
	assert.True(t, model.CompletionTime.Valid)

	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(model.Metrics, &metrics))
	assert.Less(t, metrics[MetricRMSE], 0.1)
	assert.Greater(t, metrics[MetricR2], 0.99)

	data, err := store.GetObject(context.Background(), testBucket, ModelArtifactKey(modelId))
	require.NoError(t, err)

	artifact, err := LoadArtifact(data)
	require.NoError(t, err)

	pred, err := artifact.Predict([]float64{1.0})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pred, 0.1)
}

func TestProcessTrainTaskFailure(t *testing.T) {
	proc, db, _, _ := setupProcessor(t)

	// Dataset record exists but its split objects were never uploaded.
	datasetId := uuid.New()
	require.NoError(t, db.Create(&database.Dataset{
		Id:             datasetId,
		Name:           "empty",
		TargetColumn:   "y",
		FeatureColumns: datatypes.JSON(`["x"]`),
		Status:         database.JobCompleted,
		CreationTime:   time.Now(),
	}).Error)
	modelId := createModel(t, db, datasetId, false)

	assert.Error(t, proc.processTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", modelId).Error)
	assert.Equal(t, database.ModelFailed, model.Status)

	var jobError database.JobError
	require.NoError(t, db.First(&jobError, "job_id = ?", modelId).Error)
	assert.NotEmpty(t, jobError.Error)
}

func TestTrainTaskResumesFromCheckpoint(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)
	modelId := createModel(t, db, datasetId, true)

	// A stale checkpoint from an interrupted run: training should pick it
	// up and remove it after finishing.
	cp := Checkpoint{Epoch: 400, Weights: []float64{1.9}, Bias: 0.9}
	data, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), testBucket, CheckpointKey(modelId), bytes.NewReader(data)))

	require.NoError(t, proc.processTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", modelId).Error)
	assert.Equal(t, database.ModelTrained, model.Status)

	_, err = store.GetObject(context.Background(), testBucket, CheckpointKey(modelId))
	assert.Error(t, err, "checkpoint should be deleted after training completes")
}

func TestTrainTaskRetrainsInterruptedModel(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)
	modelId := createModel(t, db, datasetId, true)

	// A model stuck in TRAINING after a crashed worker is requeued as-is.
	require.NoError(t, db.Model(&database.Model{Id: modelId}).
		Update("status", database.ModelTraining).Error)

	require.NoError(t, proc.processTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", modelId).Error)
	assert.Equal(t, database.ModelTrained, model.Status)
}

func drainQueue(t *testing.T, proc *TaskProcessor, queue *messaging.InMemoryQueue) {
	for {
		select {
		case task := <-queue.Tasks():
			proc.ProcessTask(task)
		default:
			return
		}
	}
}

func TestProcessingJob(t *testing.T) {
	proc, db, store, queue := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	jobId := uuid.New()
	require.NoError(t, db.Create(&database.ProcessingJob{
		Id:           jobId,
		DatasetId:    datasetId,
		Scaler:       "standard",
		Status:       database.JobQueued,
		CreationTime: time.Now(),
	}).Error)

	require.NoError(t, proc.processProcessDataTask(context.Background(), messaging.ProcessDataPayload{JobId: jobId}))
	drainQueue(t, proc, queue)

	var job database.ProcessingJob
	require.NoError(t, db.Preload("Tasks").First(&job, "id = ?", jobId).Error)
	assert.Equal(t, database.JobCompleted, job.Status)
	require.NotEmpty(t, job.Tasks)
	for _, task := range job.Tasks {
		assert.Equal(t, database.JobCompleted, task.Status)
	}

	// The fitted scaler and every processed shard must be in the store.
	_, err := store.GetObject(context.Background(), testBucket, ScalerKey(jobId))
	require.NoError(t, err)

	for _, task := range job.Tasks {
		data, err := store.GetObject(context.Background(), testBucket, ProcessedShardKey(jobId, task.TaskId))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("x,y\n")))
	}
}

func TestTuningJobSelectsBestTrial(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	tuningJobId := uuid.New()
	require.NoError(t, db.Create(&database.TuningJob{
		Id:           tuningJobId,
		Name:         "test-tuning",
		DatasetId:    datasetId,
		Algorithm:    AlgorithmLinear,
		Objective:    "validation:rmse",
		Goal:         "minimize",
		Strategy:     "grid",
		MaxTrials:    2,
		Status:       database.JobRunning,
		CreationTime: time.Now(),
	}).Error)

	// One good trial and one that barely trains.
	trials := map[uuid.UUID]string{
		uuid.New(): `{"learning_rate": 0.1, "epochs": 1000}`,
		uuid.New(): `{"learning_rate": 0.0001, "epochs": 1}`,
	}
	for trialId, hp := range trials {
		require.NoError(t, db.Create(&database.Model{
			Id:              trialId,
			DatasetId:       uuid.NullUUID{UUID: datasetId, Valid: true},
			TuningJobId:     uuid.NullUUID{UUID: tuningJobId, Valid: true},
			Name:            "trial",
			Algorithm:       AlgorithmLinear,
			Status:          database.ModelQueued,
			Hyperparameters: datatypes.JSON(hp),
			CreationTime:    time.Now(),
		}).Error)
	}

	for trialId := range trials {
		require.NoError(t, proc.processTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: trialId}))
	}

	var job database.TuningJob
	require.NoError(t, db.First(&job, "id = ?", tuningJobId).Error)
	assert.Equal(t, database.JobCompleted, job.Status)
	require.True(t, job.BestModelId.Valid)

	var best database.Model
	require.NoError(t, db.First(&best, "id = ?", job.BestModelId.UUID).Error)

	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(best.Metrics, &metrics))
	assert.Less(t, metrics[MetricRMSE], 0.1, "the well-tuned trial should win")
}

func createPipelineRun(t *testing.T, db *gorm.DB, def string) uuid.UUID {
	pipelineId := uuid.New()
	require.NoError(t, db.Create(&database.Pipeline{
		Id:           pipelineId,
		Name:         "test-pipeline",
		Definition:   datatypes.JSON(def),
		CreationTime: time.Now(),
	}).Error)

	runId := uuid.New()
	require.NoError(t, db.Create(&database.PipelineRun{
		Id:           runId,
		PipelineId:   pipelineId,
		Status:       database.JobQueued,
		CreationTime: time.Now(),
	}).Error)

	return runId
}

func TestPipelineRun(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	def := fmt.Sprintf(`{
		"name": "fare-model",
		"steps": [
			{"name": "preprocess", "type": "process", "with": {"dataset_id": "%s", "scaler": "standard"}},
			{"name": "train", "type": "train", "depends_on": ["preprocess"],
			 "with": {"dataset_id": "%s", "algorithm": "linear", "hyperparameters": {"learning_rate": 0.1, "epochs": 1000}}},
			{"name": "gate", "type": "evaluate", "depends_on": ["train"],
			 "with": {"step": "train", "metric": "rmse", "max": 0.5}}
		]
	}`, datasetId, datasetId)

	runId := createPipelineRun(t, db, def)

	require.NoError(t, proc.processPipelineRunTask(context.Background(), messaging.PipelineRunPayload{RunId: runId}))

	var run database.PipelineRun
	require.NoError(t, db.Preload("Steps").First(&run, "id = ?", runId).Error)
	assert.Equal(t, database.JobCompleted, run.Status)
	require.Len(t, run.Steps, 3)
	for _, step := range run.Steps {
		assert.Equal(t, database.JobCompleted, step.Status, "step %s", step.Name)
	}

	// The train step's model should be recorded in its output and trained.
	var trainStep database.StepRun
	require.NoError(t, db.First(&trainStep, "run_id = ? AND name = ?", runId, "train").Error)

	var output map[string]string
	require.NoError(t, json.Unmarshal(trainStep.Output, &output))
	modelId, err := uuid.Parse(output["model_id"])
	require.NoError(t, err)

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", modelId).Error)
	assert.Equal(t, database.ModelTrained, model.Status)
}

func TestPipelineRegisterAndDeploy(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	def := fmt.Sprintf(`{
		"name": "release",
		"steps": [
			{"name": "train", "type": "train",
			 "with": {"dataset_id": "%s", "hyperparameters": {"learning_rate": 0.1, "epochs": 1000}}},
			{"name": "publish", "type": "register", "depends_on": ["train"],
			 "with": {"step": "train", "name": "fare-v1"}},
			{"name": "rollout", "type": "deploy", "depends_on": ["publish"],
			 "with": {"step": "publish", "endpoint": "fare-live", "capture": true}}
		]
	}`, datasetId)

	runId := createPipelineRun(t, db, def)

	require.NoError(t, proc.processPipelineRunTask(context.Background(), messaging.PipelineRunPayload{RunId: runId}))

	var run database.PipelineRun
	require.NoError(t, db.Preload("Steps").First(&run, "id = ?", runId).Error)
	require.Equal(t, database.JobCompleted, run.Status)

	var deployStep database.StepRun
	require.NoError(t, db.First(&deployStep, "run_id = ? AND name = ?", runId, "rollout").Error)

	var output map[string]string
	require.NoError(t, json.Unmarshal(deployStep.Output, &output))
	endpointId, err := uuid.Parse(output["endpoint_id"])
	require.NoError(t, err)

	var endpoint database.Endpoint
	require.NoError(t, db.Preload("Variants").First(&endpoint, "id = ?", endpointId).Error)
	assert.Equal(t, database.EndpointInService, endpoint.Status)
	assert.True(t, endpoint.CaptureEnabled)
	require.Len(t, endpoint.Variants, 1)

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", endpoint.Variants[0].ModelId).Error)
	assert.Equal(t, "fare-v1", model.Name)
}

func TestPipelineRunFailureSkipsDownstream(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	def := fmt.Sprintf(`{
		"name": "gated",
		"steps": [
			{"name": "train", "type": "train",
			 "with": {"dataset_id": "%s", "hyperparameters": {"learning_rate": 0.0001, "epochs": 1}}},
			{"name": "gate", "type": "evaluate", "depends_on": ["train"],
			 "with": {"step": "train", "metric": "rmse", "max": 0.01}},
			{"name": "retrain", "type": "train", "depends_on": ["gate"],
			 "with": {"dataset_id": "%s"}}
		]
	}`, datasetId, datasetId)

	runId := createPipelineRun(t, db, def)

	require.NoError(t, proc.processPipelineRunTask(context.Background(), messaging.PipelineRunPayload{RunId: runId}))

	var run database.PipelineRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, database.JobFailed, run.Status)

	statuses := map[string]string{}
	var steps []database.StepRun
	require.NoError(t, db.Find(&steps, "run_id = ?", runId).Error)
	for _, step := range steps {
		statuses[step.Name] = step.Status
	}

	assert.Equal(t, database.JobCompleted, statuses["train"])
	assert.Equal(t, database.JobFailed, statuses["gate"])
	assert.Equal(t, database.JobSkipped, statuses["retrain"])

	var gate database.StepRun
	require.NoError(t, db.First(&gate, "run_id = ? AND name = ?", runId, "gate").Error)
	assert.Contains(t, gate.Error, "above the allowed maximum")
}

func TestPipelineRunFailureStopsIndependentSteps(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)
	datasetId := createSplitDataset(t, db, store)

	// "alpha" fails immediately; "beta" does not depend on it but must not
	// start once the run has a failure.
	def := fmt.Sprintf(`{
		"name": "parallel",
		"steps": [
			{"name": "alpha", "type": "evaluate", "with": {"metric": "rmse", "max": 1.0}},
			{"name": "beta", "type": "train",
			 "with": {"dataset_id": "%s", "hyperparameters": {"learning_rate": 0.1, "epochs": 10}}}
		]
	}`, datasetId)

	runId := createPipelineRun(t, db, def)

	require.NoError(t, proc.processPipelineRunTask(context.Background(), messaging.PipelineRunPayload{RunId: runId}))

	var run database.PipelineRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, database.JobFailed, run.Status)

	var alpha, beta database.StepRun
	require.NoError(t, db.First(&alpha, "run_id = ? AND name = ?", runId, "alpha").Error)
	require.NoError(t, db.First(&beta, "run_id = ? AND name = ?", runId, "beta").Error)
	assert.Equal(t, database.JobFailed, alpha.Status)
	assert.Equal(t, database.JobSkipped, beta.Status)
}

func TestMonitorRun(t *testing.T) {
	proc, db, store, _ := setupProcessor(t)

	endpointId := uuid.New()
	require.NoError(t, db.Create(&database.Endpoint{
		Id:           endpointId,
		Name:         "monitored",
		Status:       database.EndpointInService,
		Mode:         database.EndpointModeSingle,
		CreationTime: time.Now(),
	}).Error)

	baseline := monitor.Baseline{"x": {Mean: 1.0, Std: 1.0}}
	baselineJson, err := baseline.Bytes()
	require.NoError(t, err)

	scheduleId := uuid.New()
	require.NoError(t, db.Create(&database.MonitorSchedule{
		Id:              scheduleId,
		EndpointId:      endpointId,
		IntervalSeconds: 60,
		Baseline:        datatypes.JSON(baselineJson),
		AlertRule:       "drift > 2 AND samples > 2",
		Status:          database.MonitorActive,
		CreationTime:    time.Now(),
	}).Error)

	// Captured traffic with mean x = 5, four sigmas from the baseline.
	var captured bytes.Buffer
	for i := 0; i < 4; i++ {
		line, err := capture.EncodeRecord(capture.Record{
			Timestamp:  time.Now().UTC(),
			Variant:    "primary",
			Features:   map[string]float64{"x": 5.0},
			Prediction: 1.0,
		})
		require.NoError(t, err)
		captured.Write(line)
	}
	require.NoError(t, store.PutObject(context.Background(), testBucket,
		CaptureKey(endpointId, "primary"), bytes.NewReader(captured.Bytes())))

	runId := uuid.New()
	require.NoError(t, db.Create(&database.MonitorRun{
		Id:           runId,
		ScheduleId:   scheduleId,
		Status:       database.JobQueued,
		CreationTime: time.Now(),
	}).Error)

	require.NoError(t, proc.processMonitorRunTask(context.Background(), messaging.MonitorRunPayload{
		ScheduleId: scheduleId,
		RunId:      runId,
	}))

	var run database.MonitorRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, database.JobCompleted, run.Status)
	assert.Equal(t, int64(4), run.SampleCount)
	assert.Equal(t, 1, run.Violations)

	var scores map[string]float64
	require.NoError(t, json.Unmarshal(run.DriftScores, &scores))
	assert.InDelta(t, 4.0, scores["x"], 1e-9)

	var schedule database.MonitorSchedule
	require.NoError(t, db.First(&schedule, "id = ?", scheduleId).Error)
	assert.True(t, schedule.LastRunTime.Valid)
}

func TestMonitorRunNoTraffic(t *testing.T) {
	proc, db, _, _ := setupProcessor(t)

	baseline := monitor.Baseline{"x": {Mean: 1.0, Std: 1.0}}
	baselineJson, err := baseline.Bytes()
	require.NoError(t, err)

	scheduleId := uuid.New()
	require.NoError(t, db.Create(&database.MonitorSchedule{
		Id:              scheduleId,
		EndpointId:      uuid.New(),
		IntervalSeconds: 60,
		Baseline:        datatypes.JSON(baselineJson),
		Status:          database.MonitorActive,
		CreationTime:    time.Now(),
	}).Error)

	runId := uuid.New()
	require.NoError(t, db.Create(&database.MonitorRun{
		Id:           runId,
		ScheduleId:   scheduleId,
		Status:       database.JobQueued,
		CreationTime: time.Now(),
	}).Error)

	require.NoError(t, proc.processMonitorRunTask(context.Background(), messaging.MonitorRunPayload{
		ScheduleId: scheduleId,
		RunId:      runId,
	}))

	var run database.MonitorRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, database.JobSkipped, run.Status)
	assert.Equal(t, int64(0), run.SampleCount)

	var schedule database.MonitorSchedule
	require.NoError(t, db.First(&schedule, "id = ?", scheduleId).Error)
	assert.True(t, schedule.LastRunTime.Valid)
}

func TestMonitorSchedulerTick(t *testing.T) {
	_, db, _, queue := setupProcessor(t)

	baseline := monitor.Baseline{"x": {Mean: 0, Std: 1}}
	baselineJson, err := baseline.Bytes()
	require.NoError(t, err)

	scheduleId := uuid.New()
	require.NoError(t, db.Create(&database.MonitorSchedule{
		Id:              scheduleId,
		EndpointId:      uuid.New(),
		IntervalSeconds: 60,
		Baseline:        datatypes.JSON(baselineJson),
		Status:          database.MonitorActive,
		CreationTime:    time.Now(),
	}).Error)

	scheduler := NewMonitorScheduler(db, queue, time.Minute)
	require.NoError(t, scheduler.Tick(context.Background()))

	// A run was created and queued for the due schedule.
	var runs []database.MonitorRun
	require.NoError(t, db.Find(&runs, "schedule_id = ?", scheduleId).Error)
	require.Len(t, runs, 1)

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.MonitorQueue, task.Type())
	default:
		t.Fatal("expected a queued monitor task")
	}

	// A schedule that ran recently is not due.
	require.NoError(t, db.Model(&database.MonitorSchedule{Id: scheduleId}).
		Update("last_run_time", time.Now().UTC()).Error)
	require.NoError(t, scheduler.Tick(context.Background()))

	require.NoError(t, db.Find(&runs, "schedule_id = ?", scheduleId).Error)
	assert.Len(t, runs, 1)
}

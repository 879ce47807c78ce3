package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mlops-backend/internal/database"
	"mlops-backend/internal/dataset"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/tuning"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	modelId := payload.ModelId

	slog.Info("processing train task", "model_id", modelId)

	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		return fmt.Errorf("error getting model %s: %w", modelId, err)
	}

	if err := proc.trainModel(ctx, &model); err != nil {
		database.UpdateModelStatus(ctx, proc.db, modelId, database.ModelFailed) //nolint:errcheck
		database.SaveJobError(ctx, proc.db, modelId, err.Error())
		if model.TuningJobId.Valid {
			proc.finishTuningJob(ctx, model.TuningJobId.UUID)
		}
		return err
	}

	if model.TuningJobId.Valid {
		proc.finishTuningJob(ctx, model.TuningJobId.UUID)
	}

	return nil
}

// trainModel runs one training job end to end: load the splits, fit the
// scaler and weights, evaluate on the test split, and upload the artifact.
func (proc *TaskProcessor) trainModel(ctx context.Context, model *database.Model) error {
	if !model.DatasetId.Valid {
		return fmt.Errorf("model %s has no dataset", model.Id)
	}

	if err := database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelTraining); err != nil {
		return err
	}

	var ds database.Dataset
	if err := proc.db.WithContext(ctx).First(&ds, "id = ?", model.DatasetId.UUID).Error; err != nil {
		return fmt.Errorf("error getting dataset %s: %w", model.DatasetId.UUID, err)
	}

	featureColumns, err := ParseFeatureColumns(ds.FeatureColumns)
	if err != nil {
		return err
	}

	hp, err := ParseHyperparameters(model.Algorithm, model.Hyperparameters)
	if err != nil {
		return err
	}

	train, err := proc.loadTable(ctx, DatasetTrainKey(ds.Id))
	if err != nil {
		return err
	}
	test, err := proc.loadTable(ctx, DatasetTestKey(ds.Id))
	if err != nil {
		return err
	}

	trainX, trainY, err := train.Matrix(featureColumns, ds.TargetColumn)
	if err != nil {
		return err
	}
	testX, testY, err := test.Matrix(featureColumns, ds.TargetColumn)
	if err != nil {
		return err
	}

	var scalerParams []byte
	if hp.Scaler != "" {
		scaler, err := dataset.NewScaler(hp.Scaler)
		if err != nil {
			return err
		}
		if err := scaler.Fit(trainX); err != nil {
			return err
		}
		if err := scaler.Transform(trainX); err != nil {
			return err
		}
		if err := scaler.Transform(testX); err != nil {
			return err
		}
		if scalerParams, err = scaler.Params(); err != nil {
			return err
		}
	}

	trainer, err := NewTrainer(model.Algorithm, hp)
	if err != nil {
		return err
	}

	if model.Checkpointing {
		if cp, ok := proc.loadCheckpoint(ctx, model.Id); ok {
			slog.Info("resuming training from checkpoint", "model_id", model.Id, "epoch", cp.Epoch)
			trainer.Resume(cp)
		}
	}

	var onEpoch func(Checkpoint) error
	if model.Checkpointing {
		onEpoch = func(cp Checkpoint) error {
			if cp.Epoch%proc.checkpointEvery != 0 {
				return nil
			}
			return proc.saveCheckpoint(ctx, model.Id, cp)
		}
	}

	if err := trainer.Train(ctx, trainX, trainY, onEpoch); err != nil {
		return err
	}

	metrics, err := Evaluate(trainer.Predict(testX), testY)
	if err != nil {
		return err
	}
	metricsJson, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("error serializing metrics: %w", err)
	}

	artifact := trainer.Artifact(featureColumns, ds.TargetColumn, hp.Scaler, scalerParams)
	artifactData, err := artifact.Bytes()
	if err != nil {
		return err
	}

	artifactKey := ModelArtifactKey(model.Id)
	if err := proc.storage.PutObject(ctx, proc.bucket, artifactKey, bytes.NewReader(artifactData)); err != nil {
		return fmt.Errorf("error uploading model artifact: %w", err)
	}

	if model.Checkpointing {
		if err := proc.storage.DeleteObjects(ctx, proc.bucket, CheckpointKey(model.Id)); err != nil {
			slog.Warn("failed to delete checkpoint after training", "model_id", model.Id, "error", err)
		}
	}

	if err := proc.db.WithContext(ctx).Model(&database.Model{Id: model.Id}).Updates(map[string]any{
		"status":          database.ModelTrained,
		"metrics":         datatypes.JSON(metricsJson),
		"artifact_path":   artifactKey,
		"completion_time": time.Now().UTC(),
	}).Error; err != nil {
		return fmt.Errorf("error saving trained model: %w", err)
	}

	slog.Info("model training complete", "model_id", model.Id, "rmse", metrics[MetricRMSE])

	return nil
}

func (proc *TaskProcessor) loadCheckpoint(ctx context.Context, modelId uuid.UUID) (Checkpoint, bool) {
	data, err := proc.storage.GetObject(ctx, proc.bucket, CheckpointKey(modelId))
	if err != nil {
		return Checkpoint{}, false
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("ignoring unreadable checkpoint", "model_id", modelId, "error", err)
		return Checkpoint{}, false
	}

	return cp, true
}

func (proc *TaskProcessor) saveCheckpoint(ctx context.Context, modelId uuid.UUID, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("error serializing checkpoint: %w", err)
	}

	if err := proc.storage.PutObject(ctx, proc.bucket, CheckpointKey(modelId), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error uploading checkpoint: %w", err)
	}

	return nil
}

// finishTuningJob checks whether all trials of a tuning job have finished and
// if so records the best model and completes the job.
func (proc *TaskProcessor) finishTuningJob(ctx context.Context, tuningJobId uuid.UUID) {
	var job database.TuningJob
	if err := proc.db.WithContext(ctx).Preload("Trials").First(&job, "id = ?", tuningJobId).Error; err != nil {
		slog.Error("error getting tuning job", "tuning_job_id", tuningJobId, "error", err)
		return
	}

	if job.Status != database.JobRunning {
		return
	}

	for _, trial := range job.Trials {
		if trial.Status == database.ModelQueued || trial.Status == database.ModelTraining {
			return // still trials in flight
		}
	}

	objective, err := tuning.ParseObjective(job.Objective, job.Goal)
	if err != nil {
		slog.Error("tuning job has invalid objective", "tuning_job_id", tuningJobId, "error", err)
		database.UpdateTuningJobStatus(ctx, proc.db, tuningJobId, database.JobFailed) //nolint:errcheck
		return
	}

	var best uuid.NullUUID
	var bestValue float64
	for _, trial := range job.Trials {
		if trial.Status != database.ModelTrained {
			continue
		}

		var metrics map[string]float64
		if err := json.Unmarshal(trial.Metrics, &metrics); err != nil {
			slog.Error("trial has unreadable metrics", "model_id", trial.Id, "error", err)
			continue
		}
		value, ok := metrics[objective.Metric]
		if !ok {
			slog.Error("trial metrics missing objective", "model_id", trial.Id, "metric", objective.Metric)
			continue
		}

		if !best.Valid || objective.Better(value, bestValue) {
			best = uuid.NullUUID{UUID: trial.Id, Valid: true}
			bestValue = value
		}
	}

	if !best.Valid {
		slog.Error("tuning job finished with no successful trials", "tuning_job_id", tuningJobId)
		database.UpdateTuningJobStatus(ctx, proc.db, tuningJobId, database.JobFailed) //nolint:errcheck
		return
	}

	if err := proc.db.WithContext(ctx).Model(&database.TuningJob{Id: tuningJobId}).
		Update("best_model_id", best).Error; err != nil {
		slog.Error("error recording best model", "tuning_job_id", tuningJobId, "error", err)
		return
	}
	database.UpdateTuningJobStatus(ctx, proc.db, tuningJobId, database.JobCompleted) //nolint:errcheck

	slog.Info("tuning job complete", "tuning_job_id", tuningJobId, "best_model_id", best.UUID, "best_value", bestValue)
}

func (proc *TaskProcessor) loadTable(ctx context.Context, key string) (*dataset.Table, error) {
	data, err := proc.storage.GetObject(ctx, proc.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", key, err)
	}

	table, err := dataset.ReadTable(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", key, err)
	}

	return table, nil
}

func ParseFeatureColumns(data datatypes.JSON) ([]string, error) {
	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("error parsing feature columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset has no feature columns")
	}
	return columns, nil
}

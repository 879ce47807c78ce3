package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateModelStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == ModelTrained || status == ModelFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateProcessingJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ProcessingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating processing job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateProcessingTaskStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, taskId int, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ProcessingTask{JobId: jobId, TaskId: taskId}).Updates(updates).Error; err != nil {
		slog.Error("error updating processing task status", "job_id", jobId, "task_id", taskId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateTuningJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TuningJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating tuning job status", "tuning_job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdatePipelineRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating pipeline run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateStepRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, step string, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if status == JobCompleted || status == JobFailed || status == JobSkipped {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&StepRun{RunId: runId, Name: step}).Updates(updates).Error; err != nil {
		slog.Error("error updating step run status", "run_id", runId, "step", step, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateEndpointStatus(ctx context.Context, txn *gorm.DB, endpointId uuid.UUID, status string) error {
	if err := txn.WithContext(ctx).Model(&Endpoint{Id: endpointId}).Update("status", status).Error; err != nil {
		slog.Error("error updating endpoint status", "endpoint_id", endpointId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}

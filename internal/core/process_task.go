package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mlops-backend/internal/database"
	"mlops-backend/internal/dataset"
	"mlops-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const defaultChunkBytes = 4 * 1024 * 1024

// processProcessDataTask is the fit phase of a preprocessing job: fit the
// scaler on the full training split, shard the data, and fan the shards out
// as individual tasks.
func (proc *TaskProcessor) processProcessDataTask(ctx context.Context, payload messaging.ProcessDataPayload) error {
	jobId := payload.JobId

	slog.Info("processing data fit task", "job_id", jobId)

	taskIds, err := proc.startProcessingJob(ctx, jobId)
	if err != nil {
		database.UpdateProcessingJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		return err
	}

	for _, taskId := range taskIds {
		if err := proc.publisher.PublishProcessShardTask(ctx, messaging.ProcessShardPayload{JobId: jobId, TaskId: taskId}); err != nil {
			database.UpdateProcessingJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
			database.SaveJobError(ctx, proc.db, jobId, err.Error())
			return fmt.Errorf("error publishing shard task %d for job %s: %w", taskId, jobId, err)
		}
	}

	return nil
}

func (proc *TaskProcessor) startProcessingJob(ctx context.Context, jobId uuid.UUID) ([]int, error) {
	var job database.ProcessingJob
	if err := proc.db.WithContext(ctx).Preload("Dataset").First(&job, "id = ?", jobId).Error; err != nil {
		return nil, fmt.Errorf("error getting processing job %s: %w", jobId, err)
	}
	if job.Dataset == nil {
		return nil, fmt.Errorf("processing job %s has no dataset", jobId)
	}

	if err := database.UpdateProcessingJobStatus(ctx, proc.db, jobId, database.JobRunning); err != nil {
		return nil, err
	}

	featureColumns, err := ParseFeatureColumns(job.Dataset.FeatureColumns)
	if err != nil {
		return nil, err
	}

	train, err := proc.loadTable(ctx, DatasetTrainKey(job.Dataset.Id))
	if err != nil {
		return nil, err
	}

	features, err := train.FeatureMatrix(featureColumns)
	if err != nil {
		return nil, err
	}

	scaler, err := dataset.NewScaler(job.Scaler)
	if err != nil {
		return nil, err
	}
	if err := scaler.Fit(features); err != nil {
		return nil, err
	}
	params, err := scaler.Params()
	if err != nil {
		return nil, err
	}
	if err := proc.storage.PutObject(ctx, proc.bucket, ScalerKey(jobId), bytes.NewReader(params)); err != nil {
		return nil, fmt.Errorf("error uploading scaler params: %w", err)
	}

	chunkBytes := job.ChunkTargetBytes
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}

	var encoded bytes.Buffer
	if err := train.Write(&encoded); err != nil {
		return nil, err
	}
	numShards := int((int64(encoded.Len()) + chunkBytes - 1) / chunkBytes)
	if numShards < 1 {
		numShards = 1
	}

	shards := train.Shard(numShards)

	taskIds := make([]int, 0, len(shards))
	for i, shard := range shards {
		var buf bytes.Buffer
		if err := shard.Write(&buf); err != nil {
			return nil, err
		}

		key := ShardKey(jobId, i)
		if err := proc.storage.PutObject(ctx, proc.bucket, key, bytes.NewReader(buf.Bytes())); err != nil {
			return nil, fmt.Errorf("error uploading shard %d: %w", i, err)
		}

		sourceKeys, err := json.Marshal([]string{key})
		if err != nil {
			return nil, err
		}

		task := database.ProcessingTask{
			JobId:        jobId,
			TaskId:       i,
			Status:       database.JobQueued,
			CreationTime: time.Now().UTC(),
			SourceKeys:   datatypes.JSON(sourceKeys),
			TotalSize:    int64(buf.Len()),
		}
		if err := proc.db.WithContext(ctx).Create(&task).Error; err != nil {
			return nil, fmt.Errorf("error creating shard task %d: %w", i, err)
		}

		taskIds = append(taskIds, i)
	}

	slog.Info("processing job sharded", "job_id", jobId, "shards", len(shards))

	return taskIds, nil
}

// processProcessShardTask is the transform phase: apply the fitted scaler to
// one shard and write the processed shard back to the object store.
func (proc *TaskProcessor) processProcessShardTask(ctx context.Context, payload messaging.ProcessShardPayload) error {
	jobId := payload.JobId
	taskId := payload.TaskId

	slog.Info("processing shard task", "job_id", jobId, "task_id", taskId)

	if err := proc.transformShard(ctx, jobId, taskId); err != nil {
		database.UpdateProcessingTaskStatus(ctx, proc.db, jobId, taskId, database.JobFailed) //nolint:errcheck
		database.UpdateProcessingJobStatus(ctx, proc.db, jobId, database.JobFailed)          //nolint:errcheck
		database.SaveJobError(ctx, proc.db, jobId, fmt.Sprintf("shard %d: %s", taskId, err.Error()))
		return err
	}

	if err := database.UpdateProcessingTaskStatus(ctx, proc.db, jobId, taskId, database.JobCompleted); err != nil {
		return err
	}

	return proc.finishProcessingJob(ctx, jobId)
}

func (proc *TaskProcessor) transformShard(ctx context.Context, jobId uuid.UUID, taskId int) error {
	var task database.ProcessingTask
	if err := proc.db.WithContext(ctx).Preload("Job").Preload("Job.Dataset").
		First(&task, "job_id = ? AND task_id = ?", jobId, taskId).Error; err != nil {
		return fmt.Errorf("error getting shard task: %w", err)
	}
	if task.Job == nil || task.Job.Dataset == nil {
		return fmt.Errorf("shard task %d of job %s has no dataset", taskId, jobId)
	}

	if err := database.UpdateProcessingTaskStatus(ctx, proc.db, jobId, taskId, database.JobRunning); err != nil {
		return err
	}

	featureColumns, err := ParseFeatureColumns(task.Job.Dataset.FeatureColumns)
	if err != nil {
		return err
	}

	params, err := proc.storage.GetObject(ctx, proc.bucket, ScalerKey(jobId))
	if err != nil {
		return fmt.Errorf("error fetching scaler params: %w", err)
	}
	scaler, err := dataset.LoadScaler(task.Job.Scaler, params)
	if err != nil {
		return err
	}

	shard, err := proc.loadTable(ctx, ShardKey(jobId, taskId))
	if err != nil {
		return err
	}

	features, err := shard.FeatureMatrix(featureColumns)
	if err != nil {
		return err
	}
	if err := scaler.Transform(features); err != nil {
		return err
	}

	// Write the scaled values back into the feature columns, leaving the
	// remaining columns untouched.
	colIdx := make([]int, len(featureColumns))
	for i, col := range featureColumns {
		for j, name := range shard.Columns {
			if name == col {
				colIdx[i] = j
				break
			}
		}
	}
	for r, row := range shard.Rows {
		for i, j := range colIdx {
			row[j] = strconv.FormatFloat(features[r][i], 'g', -1, 64)
		}
	}

	var buf bytes.Buffer
	if err := shard.Write(&buf); err != nil {
		return err
	}
	if err := proc.storage.PutObject(ctx, proc.bucket, ProcessedShardKey(jobId, taskId), bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("error uploading processed shard: %w", err)
	}

	return nil
}

func (proc *TaskProcessor) finishProcessingJob(ctx context.Context, jobId uuid.UUID) error {
	var remaining int64
	if err := proc.db.WithContext(ctx).
		Model(&database.ProcessingTask{}).
		Where("job_id = ? AND status NOT IN ?", jobId, []string{database.JobCompleted, database.JobFailed}).
		Count(&remaining).Error; err != nil {
		return fmt.Errorf("error counting remaining shard tasks: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	var failed int64
	if err := proc.db.WithContext(ctx).
		Model(&database.ProcessingTask{}).
		Where("job_id = ? AND status = ?", jobId, database.JobFailed).
		Count(&failed).Error; err != nil {
		return fmt.Errorf("error counting failed shard tasks: %w", err)
	}

	status := database.JobCompleted
	if failed > 0 {
		status = database.JobFailed
	}

	return database.UpdateProcessingJobStatus(ctx, proc.db, jobId, status)
}

// runProcessingJobSync runs a full preprocessing job inline, used by
// pipeline steps which execute synchronously.
func (proc *TaskProcessor) runProcessingJobSync(ctx context.Context, jobId uuid.UUID) error {
	taskIds, err := proc.startProcessingJob(ctx, jobId)
	if err != nil {
		database.UpdateProcessingJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		return err
	}

	for _, taskId := range taskIds {
		if err := proc.processProcessShardTask(ctx, messaging.ProcessShardPayload{JobId: jobId, TaskId: taskId}); err != nil {
			return err
		}
	}

	return nil
}

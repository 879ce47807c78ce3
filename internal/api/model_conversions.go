package api

import (
	"database/sql"
	"encoding/json"
	"time"

	"mlops-backend/internal/database"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
)

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func nullableUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	return &id.UUID
}

func toApiDataset(ds database.Dataset) api.Dataset {
	var featureColumns []string
	json.Unmarshal(ds.FeatureColumns, &featureColumns) //nolint:errcheck

	return api.Dataset{
		Id:             ds.Id,
		Name:           ds.Name,
		TargetColumn:   ds.TargetColumn,
		FeatureColumns: featureColumns,
		RowCount:       ds.RowCount,
		SizeBytes:      ds.SizeBytes,
		SplitFraction:  ds.SplitFraction,
		SplitSeed:      ds.SplitSeed,
		Status:         ds.Status,
		CreationTime:   ds.CreationTime,
	}
}

func toApiProcessingJob(job database.ProcessingJob) api.ProcessingJob {
	res := api.ProcessingJob{
		Id:             job.Id,
		DatasetId:      job.DatasetId,
		Scaler:         job.Scaler,
		Status:         job.Status,
		CreationTime:   job.CreationTime,
		CompletionTime: nullableTime(job.CompletionTime),
	}

	for _, task := range job.Tasks {
		res.Tasks = append(res.Tasks, api.ProcessingTask{
			TaskId:         task.TaskId,
			Status:         task.Status,
			TotalSize:      task.TotalSize,
			StartTime:      nullableTime(task.StartTime),
			CompletionTime: nullableTime(task.CompletionTime),
		})
	}

	for _, jobError := range job.Errors {
		res.Errors = append(res.Errors, jobError.Error)
	}

	return res
}

func toApiModel(model database.Model) api.Model {
	var metrics map[string]float64
	if len(model.Metrics) > 0 {
		json.Unmarshal(model.Metrics, &metrics) //nolint:errcheck
	}

	return api.Model{
		Id:              model.Id,
		Name:            model.Name,
		DatasetId:       nullableUUID(model.DatasetId),
		TuningJobId:     nullableUUID(model.TuningJobId),
		Algorithm:       model.Algorithm,
		Status:          model.Status,
		Hyperparameters: json.RawMessage(model.Hyperparameters),
		Metrics:         metrics,
		Checkpointing:   model.Checkpointing,
		CreationTime:    model.CreationTime,
		CompletionTime:  nullableTime(model.CompletionTime),
	}
}

func toApiTuningJob(job database.TuningJob) api.TuningJob {
	res := api.TuningJob{
		Id:             job.Id,
		Name:           job.Name,
		DatasetId:      job.DatasetId,
		Algorithm:      job.Algorithm,
		Objective:      job.Objective,
		Goal:           job.Goal,
		Strategy:       job.Strategy,
		Parallelism:    job.Parallelism,
		Status:         job.Status,
		BestModelId:    nullableUUID(job.BestModelId),
		CreationTime:   job.CreationTime,
		CompletionTime: nullableTime(job.CompletionTime),
	}

	for _, trial := range job.Trials {
		res.Trials = append(res.Trials, toApiModel(trial))
	}

	return res
}

func toApiPipelineRun(run database.PipelineRun) api.PipelineRun {
	res := api.PipelineRun{
		Id:             run.Id,
		PipelineId:     run.PipelineId,
		Status:         run.Status,
		CreationTime:   run.CreationTime,
		CompletionTime: nullableTime(run.CompletionTime),
	}

	for _, step := range run.Steps {
		var output map[string]string
		if len(step.Output) > 0 {
			json.Unmarshal(step.Output, &output) //nolint:errcheck
		}
		res.Steps = append(res.Steps, api.StepRun{
			Name:           step.Name,
			Status:         step.Status,
			Output:         output,
			Error:          step.Error,
			StartTime:      nullableTime(step.StartTime),
			CompletionTime: nullableTime(step.CompletionTime),
		})
	}

	return res
}

func toApiEndpoint(endpoint database.Endpoint) api.Endpoint {
	res := api.Endpoint{
		Id:             endpoint.Id,
		Name:           endpoint.Name,
		Status:         endpoint.Status,
		Mode:           endpoint.Mode,
		CaptureEnabled: endpoint.CaptureEnabled,
		CapturePercent: endpoint.CapturePercent,
		CreationTime:   endpoint.CreationTime,
	}

	for _, variant := range endpoint.Variants {
		res.Variants = append(res.Variants, api.EndpointVariant{
			Name:            variant.VariantName,
			ModelId:         variant.ModelId,
			Weight:          variant.Weight,
			InvocationCount: variant.InvocationCount,
		})
	}

	return res
}

func toApiMonitor(schedule database.MonitorSchedule) api.Monitor {
	res := api.Monitor{
		Id:              schedule.Id,
		EndpointId:      schedule.EndpointId,
		IntervalSeconds: schedule.IntervalSeconds,
		AlertRule:       schedule.AlertRule,
		Status:          schedule.Status,
		LastRunTime:     nullableTime(schedule.LastRunTime),
		CreationTime:    schedule.CreationTime,
	}

	for _, run := range schedule.Runs {
		var scores map[string]float64
		if len(run.DriftScores) > 0 {
			json.Unmarshal(run.DriftScores, &scores) //nolint:errcheck
		}
		res.Runs = append(res.Runs, api.MonitorRun{
			Id:             run.Id,
			Status:         run.Status,
			SampleCount:    run.SampleCount,
			DriftScores:    scores,
			Violations:     run.Violations,
			CreationTime:   run.CreationTime,
			CompletionTime: nullableTime(run.CompletionTime),
		})
	}

	return res
}

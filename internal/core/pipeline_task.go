package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/pipeline"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func (proc *TaskProcessor) processPipelineRunTask(ctx context.Context, payload messaging.PipelineRunPayload) error {
	runId := payload.RunId

	slog.Info("processing pipeline run", "run_id", runId)

	var run database.PipelineRun
	if err := proc.db.WithContext(ctx).Preload("Pipeline").First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error getting pipeline run %s: %w", runId, err)
	}
	if run.Pipeline == nil {
		return fmt.Errorf("pipeline run %s has no pipeline", runId)
	}

	var def pipeline.Definition
	if err := json.Unmarshal(run.Pipeline.Definition, &def); err != nil {
		database.UpdatePipelineRunStatus(ctx, proc.db, runId, database.JobFailed) //nolint:errcheck
		return fmt.Errorf("error parsing pipeline definition: %w", err)
	}

	order, err := def.TopoOrder()
	if err != nil {
		database.UpdatePipelineRunStatus(ctx, proc.db, runId, database.JobFailed) //nolint:errcheck
		return err
	}

	if err := database.UpdatePipelineRunStatus(ctx, proc.db, runId, database.JobRunning); err != nil {
		return err
	}

	for _, step := range order {
		stepRun := database.StepRun{RunId: runId, Name: step.Name, Status: database.JobQueued}
		if err := proc.db.WithContext(ctx).Create(&stepRun).Error; err != nil {
			database.UpdatePipelineRunStatus(ctx, proc.db, runId, database.JobFailed) //nolint:errcheck
			return fmt.Errorf("error creating step run %q: %w", step.Name, err)
		}
	}

	outputs := make(map[string]map[string]string)
	anyFailed := false

	for _, step := range order {
		// The first failure aborts the run, every step that has not started
		// yet is skipped whether it depends on the failed step or not.
		if anyFailed {
			slog.Info("skipping pipeline step", "run_id", runId, "step", step.Name)
			database.UpdateStepRunStatus(ctx, proc.db, runId, step.Name, database.JobSkipped) //nolint:errcheck
			continue
		}

		if err := database.UpdateStepRunStatus(ctx, proc.db, runId, step.Name, database.JobRunning); err != nil {
			return err
		}

		output, err := proc.runPipelineStep(ctx, step, outputs)
		if err != nil {
			slog.Error("pipeline step failed", "run_id", runId, "step", step.Name, "error", err)
			anyFailed = true
			proc.db.WithContext(ctx).Model(&database.StepRun{RunId: runId, Name: step.Name}).
				Update("error", err.Error()) //nolint:errcheck
			database.UpdateStepRunStatus(ctx, proc.db, runId, step.Name, database.JobFailed) //nolint:errcheck
			continue
		}

		outputs[step.Name] = output

		outputJson, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("error serializing step output: %w", err)
		}
		if err := proc.db.WithContext(ctx).Model(&database.StepRun{RunId: runId, Name: step.Name}).
			Update("output", datatypes.JSON(outputJson)).Error; err != nil {
			return fmt.Errorf("error saving step output: %w", err)
		}
		database.UpdateStepRunStatus(ctx, proc.db, runId, step.Name, database.JobCompleted) //nolint:errcheck
	}

	status := database.JobCompleted
	if anyFailed {
		status = database.JobFailed
	}

	return database.UpdatePipelineRunStatus(ctx, proc.db, runId, status)
}

func (proc *TaskProcessor) runPipelineStep(ctx context.Context, step pipeline.Step, outputs map[string]map[string]string) (map[string]string, error) {
	switch step.Type {
	case pipeline.StepProcess:
		return proc.runProcessStep(ctx, step)
	case pipeline.StepTrain:
		return proc.runTrainStep(ctx, step)
	case pipeline.StepEvaluate:
		return proc.runEvaluateStep(ctx, step, outputs)
	case pipeline.StepRegister:
		return proc.runRegisterStep(ctx, step, outputs)
	case pipeline.StepDeploy:
		return proc.runDeployStep(ctx, step, outputs)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (proc *TaskProcessor) runProcessStep(ctx context.Context, step pipeline.Step) (map[string]string, error) {
	datasetId, err := uuidOption(step.With, "dataset_id")
	if err != nil {
		return nil, err
	}

	scaler := stringOption(step.With, "scaler", "standard")

	job := database.ProcessingJob{
		Id:           uuid.New(),
		DatasetId:    datasetId,
		Scaler:       scaler,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
	if err := proc.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("error creating processing job: %w", err)
	}

	if err := proc.runProcessingJobSync(ctx, job.Id); err != nil {
		return nil, err
	}

	return map[string]string{"job_id": job.Id.String()}, nil
}

func (proc *TaskProcessor) runTrainStep(ctx context.Context, step pipeline.Step) (map[string]string, error) {
	datasetId, err := uuidOption(step.With, "dataset_id")
	if err != nil {
		return nil, err
	}

	algorithm := stringOption(step.With, "algorithm", AlgorithmLinear)

	var hyperparameters datatypes.JSON
	if raw, ok := step.With["hyperparameters"]; ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("error serializing hyperparameters: %w", err)
		}
		hyperparameters = datatypes.JSON(data)
	}

	model := database.Model{
		Id:              uuid.New(),
		DatasetId:       uuid.NullUUID{UUID: datasetId, Valid: true},
		Name:            stringOption(step.With, "name", step.Name),
		Algorithm:       algorithm,
		Status:          database.ModelQueued,
		Hyperparameters: hyperparameters,
		Checkpointing:   boolOption(step.With, "checkpointing"),
		CreationTime:    time.Now().UTC(),
	}
	if err := proc.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("error creating model: %w", err)
	}

	if err := proc.trainModel(ctx, &model); err != nil {
		database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelFailed) //nolint:errcheck
		database.SaveJobError(ctx, proc.db, model.Id, err.Error())
		return nil, err
	}

	return map[string]string{"model_id": model.Id.String()}, nil
}

// runEvaluateStep gates a pipeline on the metrics of a model trained by an
// upstream step: the step fails when the metric falls outside the bounds.
func (proc *TaskProcessor) runEvaluateStep(ctx context.Context, step pipeline.Step, outputs map[string]map[string]string) (map[string]string, error) {
	modelId, err := upstreamModelId(step, outputs)
	if err != nil {
		return nil, err
	}

	metric := stringOption(step.With, "metric", MetricRMSE)

	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		return nil, fmt.Errorf("error getting model %s: %w", modelId, err)
	}

	var metrics map[string]float64
	if err := json.Unmarshal(model.Metrics, &metrics); err != nil {
		return nil, fmt.Errorf("model %s has unreadable metrics: %w", modelId, err)
	}
	value, ok := metrics[metric]
	if !ok {
		return nil, fmt.Errorf("model %s has no metric %q", modelId, metric)
	}

	if max, ok, err := floatOption(step.With, "max"); err != nil {
		return nil, err
	} else if ok && value > max {
		return nil, fmt.Errorf("metric %s is %g, above the allowed maximum %g", metric, value, max)
	}
	if min, ok, err := floatOption(step.With, "min"); err != nil {
		return nil, err
	} else if ok && value < min {
		return nil, fmt.Errorf("metric %s is %g, below the allowed minimum %g", metric, value, min)
	}

	return map[string]string{"model_id": modelId.String(), "value": fmt.Sprintf("%g", value)}, nil
}

// runRegisterStep renames a model trained by an upstream step, which is how a
// pipeline publishes the model under a stable name.
func (proc *TaskProcessor) runRegisterStep(ctx context.Context, step pipeline.Step, outputs map[string]map[string]string) (map[string]string, error) {
	modelId, err := upstreamModelId(step, outputs)
	if err != nil {
		return nil, err
	}

	name := stringOption(step.With, "name", "")
	if name == "" {
		return nil, fmt.Errorf("register step %q needs a name", step.Name)
	}

	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		return nil, fmt.Errorf("error getting model %s: %w", modelId, err)
	}
	if model.Status != database.ModelTrained {
		return nil, fmt.Errorf("model %s is not trained", modelId)
	}

	if err := proc.db.WithContext(ctx).Model(&database.Model{Id: modelId}).
		Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("error registering model %s: %w", modelId, err)
	}

	return map[string]string{"model_id": modelId.String(), "name": name}, nil
}

func (proc *TaskProcessor) runDeployStep(ctx context.Context, step pipeline.Step, outputs map[string]map[string]string) (map[string]string, error) {
	modelId, err := upstreamModelId(step, outputs)
	if err != nil {
		return nil, err
	}

	endpointName := stringOption(step.With, "endpoint", "")
	if endpointName == "" {
		return nil, fmt.Errorf("deploy step %q needs an endpoint name", step.Name)
	}

	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		return nil, fmt.Errorf("error getting model %s: %w", modelId, err)
	}
	if model.Status != database.ModelTrained {
		return nil, fmt.Errorf("model %s is not trained", modelId)
	}

	var nameCount int64
	if err := proc.db.WithContext(ctx).Model(&database.Endpoint{}).
		Where("name = ? AND status != ?", endpointName, database.EndpointDeleted).
		Count(&nameCount).Error; err != nil {
		return nil, fmt.Errorf("error checking endpoint name: %w", err)
	}
	if nameCount > 0 {
		return nil, fmt.Errorf("an endpoint named %q already exists", endpointName)
	}

	endpoint := database.Endpoint{
		Id:             uuid.New(),
		Name:           endpointName,
		Status:         database.EndpointCreating,
		Mode:           database.EndpointModeSingle,
		CaptureEnabled: boolOption(step.With, "capture"),
		CapturePercent: 100,
		CreationTime:   time.Now().UTC(),
		Variants: []database.EndpointVariant{{
			VariantName: "primary",
			ModelId:     modelId,
			Weight:      1,
		}},
	}
	if err := proc.db.WithContext(ctx).Create(&endpoint).Error; err != nil {
		return nil, fmt.Errorf("error creating endpoint: %w", err)
	}
	if err := database.UpdateEndpointStatus(ctx, proc.db, endpoint.Id, database.EndpointInService); err != nil {
		return nil, err
	}

	return map[string]string{"endpoint_id": endpoint.Id.String(), "model_id": modelId.String()}, nil
}

// upstreamModelId resolves the model produced by the step named in the "step"
// option.
func upstreamModelId(step pipeline.Step, outputs map[string]map[string]string) (uuid.UUID, error) {
	source := stringOption(step.With, "step", "")
	if source == "" {
		return uuid.Nil, fmt.Errorf("step %q needs a source step", step.Name)
	}
	output, ok := outputs[source]
	if !ok {
		return uuid.Nil, fmt.Errorf("step %q references step %q which produced no output", step.Name, source)
	}
	modelIdStr, ok := output["model_id"]
	if !ok {
		return uuid.Nil, fmt.Errorf("step %q produced no model", source)
	}
	modelId, err := uuid.Parse(modelIdStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("step %q produced an invalid model id: %w", source, err)
	}
	return modelId, nil
}

func stringOption(with map[string]any, key, fallback string) string {
	if v, ok := with[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func boolOption(with map[string]any, key string) bool {
	if v, ok := with[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func floatOption(with map[string]any, key string) (float64, bool, error) {
	v, ok := with[key]
	if !ok {
		return 0, false, nil
	}
	switch x := v.(type) {
	case float64:
		return x, true, nil
	case int:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	default:
		return 0, false, fmt.Errorf("option %q is not a number", key)
	}
}

func uuidOption(with map[string]any, key string) (uuid.UUID, error) {
	s := stringOption(with, key, "")
	if s == "" {
		return uuid.Nil, fmt.Errorf("missing required option %q", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("option %q is not a valid id: %w", key, err)
	}
	return id, nil
}

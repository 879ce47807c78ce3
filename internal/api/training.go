package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/tuning"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *BackendService) getCompletedDataset(r *http.Request, datasetId uuid.UUID) (database.Dataset, error) {
	var ds database.Dataset
	if err := s.db.WithContext(r.Context()).First(&ds, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ds, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		return ds, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	if ds.Status != database.JobCompleted {
		return ds, CodedErrorf(http.StatusConflict, "dataset %s has no data", datasetId)
	}
	return ds, nil
}

func (s *BackendService) SubmitTrainingJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if _, err := s.getCompletedDataset(r, req.DatasetId); err != nil {
		return nil, err
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = core.AlgorithmLinear
	}
	if _, err := core.ParseHyperparameters(algorithm, req.Hyperparameters); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	ctx := r.Context()

	model := database.Model{
		Id:              uuid.New(),
		DatasetId:       uuid.NullUUID{UUID: req.DatasetId, Valid: true},
		Name:            req.Name,
		Algorithm:       algorithm,
		Status:          database.ModelQueued,
		Hyperparameters: datatypes.JSON(req.Hyperparameters),
		Checkpointing:   req.Checkpointing,
		CreationTime:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Error("error creating model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model entry")
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{ModelId: model.Id}); err != nil {
		slog.Error("error publishing training task", "model_id", model.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training job", "model_id", model.Id)

	return api.TrainSubmitResponse{Message: "Training job submitted", ModelId: model.Id}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListModelsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Name != "" {
		query = query.Where("name = ?", params.Name)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var models []database.Model
	if err := query.Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing models")
	}

	res := make([]api.Model, 0, len(models))
	for _, model := range models {
		res = append(res, toApiModel(model))
	}
	return res, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	var model database.Model
	if err := s.db.WithContext(r.Context()).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	return toApiModel(model), nil
}

func (s *BackendService) DeleteModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var inUse int64
	if err := s.db.WithContext(ctx).Model(&database.EndpointVariant{}).
		Where("model_id = ?", modelId).Count(&inUse).Error; err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error checking model usage")
	}
	if inUse > 0 {
		return nil, CodedErrorf(http.StatusConflict, "model %s is deployed on an endpoint", modelId)
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, core.ModelPrefix(modelId)); err != nil {
		slog.Error("error deleting model artifacts", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting model artifacts")
	}

	if err := s.db.WithContext(ctx).Delete(&database.Model{Id: modelId}).Error; err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting model record")
	}

	slog.Info("deleted model", "model_id", modelId)

	return nil, nil
}

// CreateTuningJob expands the search space into trial models and queues one
// training task per trial.
func (s *BackendService) CreateTuningJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateTuningJobRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if _, err := s.getCompletedDataset(r, req.DatasetId); err != nil {
		return nil, err
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = core.AlgorithmLinear
	}

	if _, err := tuning.ParseObjective(req.Objective, req.Goal); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	space, err := tuning.ParseSearchSpace(req.SearchSpace)
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	trials, err := tuning.Expand(req.Strategy, space, req.MaxTrials, req.Seed)
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	// Parallelism only caps concurrency across workers, trials are queued
	// up front either way.
	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	ctx := r.Context()

	job := database.TuningJob{
		Id:           uuid.New(),
		Name:         req.Name,
		DatasetId:    req.DatasetId,
		Algorithm:    algorithm,
		Objective:    req.Objective,
		Goal:         req.Goal,
		Strategy:     req.Strategy,
		MaxTrials:    req.MaxTrials,
		Parallelism:  parallelism,
		SearchSpace:  datatypes.JSON(req.SearchSpace),
		Status:       database.JobRunning,
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating tuning job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create tuning job")
	}

	for i, trial := range trials {
		hyperparameters, err := json.Marshal(trial)
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize trial hyperparameters")
		}

		model := database.Model{
			Id:              uuid.New(),
			DatasetId:       uuid.NullUUID{UUID: req.DatasetId, Valid: true},
			TuningJobId:     uuid.NullUUID{UUID: job.Id, Valid: true},
			Name:            req.Name + "-trial",
			Algorithm:       algorithm,
			Status:          database.ModelQueued,
			Hyperparameters: datatypes.JSON(hyperparameters),
			CreationTime:    time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
			slog.Error("error creating trial model", "tuning_job_id", job.Id, "trial", i, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to create trial")
		}

		if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{ModelId: model.Id}); err != nil {
			slog.Error("error publishing trial task", "model_id", model.Id, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue trial")
		}
	}

	slog.Info("submitted tuning job", "tuning_job_id", job.Id, "trials", len(trials))

	return api.CreateTuningJobResponse{TuningJobId: job.Id, NumTrials: len(trials)}, nil
}

func (s *BackendService) GetTuningJob(r *http.Request) (any, error) {
	tuningJobId, err := URLParamUUID(r, "tuning_job_id")
	if err != nil {
		return nil, err
	}

	var job database.TuningJob
	if err := s.db.WithContext(r.Context()).Preload("Trials").First(&job, "id = ?", tuningJobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "tuning job not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving tuning job")
	}

	return toApiTuningJob(job), nil
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/pipeline"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreatePipeline takes the definition as YAML, validates the DAG, and stores
// it.
func (s *BackendService) CreatePipeline(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreatePipelineRequest](r)
	if err != nil {
		return nil, err
	}

	def, err := pipeline.Parse([]byte(req.Definition))
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}
	if err := validateName(def.Name); err != nil {
		return nil, err
	}

	definition, err := json.Marshal(def)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize pipeline definition")
	}

	p := database.Pipeline{
		Id:           uuid.New(),
		Name:         def.Name,
		Definition:   datatypes.JSON(definition),
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(r.Context()).Create(&p).Error; err != nil {
		slog.Error("error creating pipeline", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create pipeline")
	}

	slog.Info("created pipeline", "pipeline_id", p.Id, "name", def.Name, "steps", len(def.Steps))

	return api.CreatePipelineResponse{PipelineId: p.Id, Name: def.Name}, nil
}

func (s *BackendService) ListPipelines(r *http.Request) (any, error) {
	var pipelines []database.Pipeline
	if err := s.db.WithContext(r.Context()).Order("creation_time DESC").Find(&pipelines).Error; err != nil {
		slog.Error("error listing pipelines", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing pipelines")
	}

	res := make([]api.Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		converted, err := toApiPipeline(p)
		if err != nil {
			return nil, CodedError(http.StatusInternalServerError, err)
		}
		res = append(res, converted)
	}
	return res, nil
}

func (s *BackendService) GetPipeline(r *http.Request) (any, error) {
	pipelineId, err := URLParamUUID(r, "pipeline_id")
	if err != nil {
		return nil, err
	}

	var p database.Pipeline
	if err := s.db.WithContext(r.Context()).First(&p, "id = ?", pipelineId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "pipeline not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline")
	}

	res, err := toApiPipeline(p)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return res, nil
}

func toApiPipeline(p database.Pipeline) (api.Pipeline, error) {
	var def pipeline.Definition
	if err := json.Unmarshal(p.Definition, &def); err != nil {
		return api.Pipeline{}, err
	}
	yamlDef, err := def.Marshal()
	if err != nil {
		return api.Pipeline{}, err
	}

	return api.Pipeline{
		Id:           p.Id,
		Name:         p.Name,
		Definition:   string(yamlDef),
		CreationTime: p.CreationTime,
	}, nil
}

func (s *BackendService) StartPipelineRun(r *http.Request) (any, error) {
	pipelineId, err := URLParamUUID(r, "pipeline_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var p database.Pipeline
	if err := s.db.WithContext(ctx).First(&p, "id = ?", pipelineId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "pipeline not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline")
	}

	run := database.PipelineRun{
		Id:           uuid.New(),
		PipelineId:   pipelineId,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating pipeline run", "pipeline_id", pipelineId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create pipeline run")
	}

	if err := s.publisher.PublishPipelineRunTask(ctx, messaging.PipelineRunPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing pipeline run", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue pipeline run")
	}

	slog.Info("started pipeline run", "pipeline_id", pipelineId, "run_id", run.Id)

	return api.StartPipelineRunResponse{RunId: run.Id}, nil
}

func (s *BackendService) GetPipelineRun(r *http.Request) (any, error) {
	pipelineId, err := URLParamUUID(r, "pipeline_id")
	if err != nil {
		return nil, err
	}
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	var run database.PipelineRun
	if err := s.db.WithContext(r.Context()).Preload("Steps").
		First(&run, "id = ? AND pipeline_id = ?", runId, pipelineId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "pipeline run not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline run")
	}

	return toApiPipelineRun(run), nil
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/dataset"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/quota"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultSplitFraction = 0.8
	defaultSplitSeed     = 42

	maxUploadBytes = 1 << 30
)

func (s *BackendService) CreateDataset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateDatasetRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if req.TargetColumn == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "target_column is required")
	}
	if len(req.FeatureColumns) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "feature_columns is required")
	}

	if req.SplitFraction == 0 {
		req.SplitFraction = defaultSplitFraction
	}
	if req.SplitFraction <= 0 || req.SplitFraction >= 1 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "split_fraction must be in (0, 1)")
	}
	if req.SplitSeed == 0 {
		req.SplitSeed = defaultSplitSeed
	}

	featureColumns, err := json.Marshal(req.FeatureColumns)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize feature columns")
	}

	ds := database.Dataset{
		Id:             uuid.New(),
		Name:           req.Name,
		Bucket:         s.bucket,
		Prefix:         "",
		TargetColumn:   req.TargetColumn,
		FeatureColumns: datatypes.JSON(featureColumns),
		SplitFraction:  req.SplitFraction,
		SplitSeed:      req.SplitSeed,
		Status:         database.JobQueued,
		CreationTime:   time.Now().UTC(),
	}
	ds.Prefix = core.DatasetPrefix(ds.Id)

	if err := s.db.WithContext(r.Context()).Create(&ds).Error; err != nil {
		slog.Error("error creating dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset entry")
	}

	slog.Info("created dataset", "dataset_id", ds.Id, "name", ds.Name)

	return api.CreateDatasetResponse{DatasetId: ds.Id}, nil
}

// UploadDataset takes the raw CSV as the request body, splits it into train
// and test objects, and marks the dataset ready.
func (s *BackendService) UploadDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var ds database.Dataset
	if err := s.db.WithContext(ctx).First(&ds, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	if ds.Status == database.JobCompleted {
		return nil, CodedErrorf(http.StatusConflict, "dataset %s already has data", datasetId)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "error reading upload body")
	}
	if len(data) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "upload body is empty")
	}

	if err := s.quota.Verify(ctx, int64(len(data))); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, CodedError(http.StatusForbidden, err)
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	table, err := dataset.ReadTable(bytes.NewReader(data))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid csv: %v", err)
	}

	featureColumns, err := core.ParseFeatureColumns(ds.FeatureColumns)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	if _, _, err := table.Matrix(featureColumns, ds.TargetColumn); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "csv does not match dataset schema: %v", err)
	}

	train, test, err := table.Split(ds.SplitFraction, ds.SplitSeed)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	if err := s.storage.PutObject(ctx, s.bucket, core.DatasetRawKey(datasetId), bytes.NewReader(data)); err != nil {
		slog.Error("error uploading raw dataset", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset")
	}

	for key, split := range map[string]*dataset.Table{
		core.DatasetTrainKey(datasetId): train,
		core.DatasetTestKey(datasetId):  test,
	} {
		var buf bytes.Buffer
		if err := split.Write(&buf); err != nil {
			return nil, CodedError(http.StatusInternalServerError, err)
		}
		if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(buf.Bytes())); err != nil {
			slog.Error("error uploading dataset split", "dataset_id", datasetId, "key", key, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset split")
		}
	}

	if err := s.db.WithContext(ctx).Model(&database.Dataset{Id: datasetId}).Updates(map[string]any{
		"row_count":  int64(table.NumRows()),
		"size_bytes": int64(len(data)),
		"status":     database.JobCompleted,
	}).Error; err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update dataset entry")
	}

	slog.Info("uploaded dataset", "dataset_id", datasetId, "rows", table.NumRows(), "bytes", len(data))

	return api.UploadDatasetResponse{
		DatasetId: datasetId,
		RowCount:  int64(table.NumRows()),
		SizeBytes: int64(len(data)),
		TrainRows: int64(train.NumRows()),
		TestRows:  int64(test.NumRows()),
	}, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListDatasetsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var datasets []database.Dataset
	if err := query.Find(&datasets).Error; err != nil {
		slog.Error("error listing datasets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing datasets")
	}

	res := make([]api.Dataset, 0, len(datasets))
	for _, ds := range datasets {
		res = append(res, toApiDataset(ds))
	}
	return res, nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	var ds database.Dataset
	if err := s.db.WithContext(r.Context()).First(&ds, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}

	return toApiDataset(ds), nil
}

func (s *BackendService) GetDatasetSummary(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var ds database.Dataset
	if err := s.db.WithContext(ctx).First(&ds, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	if ds.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusConflict, "dataset %s has no data", datasetId)
	}

	data, err := s.storage.GetObject(ctx, s.bucket, core.DatasetRawKey(datasetId))
	if err != nil {
		slog.Error("error fetching dataset", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error fetching dataset")
	}

	table, err := dataset.ReadTable(bytes.NewReader(data))
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	summaries := dataset.Summarize(table)
	res := make([]api.ColumnSummary, 0, len(summaries))
	for _, summary := range summaries {
		res = append(res, api.ColumnSummary(summary))
	}
	return res, nil
}

func (s *BackendService) DeleteDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if err := s.storage.DeleteObjects(ctx, s.bucket, core.DatasetPrefix(datasetId)); err != nil {
		slog.Error("error deleting dataset objects", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting dataset objects")
	}

	if err := s.db.WithContext(ctx).Delete(&database.Dataset{Id: datasetId}).Error; err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting dataset record")
	}

	slog.Info("deleted dataset", "dataset_id", datasetId)

	return nil, nil
}

func (s *BackendService) CreateProcessingJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateProcessingJobRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var ds database.Dataset
	if err := s.db.WithContext(ctx).First(&ds, "id = ?", req.DatasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	if ds.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusConflict, "dataset %s has no data", req.DatasetId)
	}

	scaler := req.Scaler
	if scaler == "" {
		scaler = dataset.StandardScalerType
	}
	if _, err := dataset.NewScaler(scaler); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	job := database.ProcessingJob{
		Id:               uuid.New(),
		DatasetId:        req.DatasetId,
		Scaler:           scaler,
		ChunkTargetBytes: req.ChunkTargetBytes,
		Status:           database.JobQueued,
		CreationTime:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating processing job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create processing job")
	}

	if err := s.publisher.PublishProcessDataTask(ctx, messaging.ProcessDataPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing processing task", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue processing job")
	}

	slog.Info("submitted processing job", "job_id", job.Id, "dataset_id", req.DatasetId)

	return api.CreateProcessingJobResponse{JobId: job.Id}, nil
}

func (s *BackendService) GetProcessingJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.ProcessingJob
	if err := s.db.WithContext(r.Context()).Preload("Tasks").Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "processing job not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving processing job")
	}

	return toApiProcessingJob(job), nil
}

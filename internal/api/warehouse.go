package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/dataset"
	"mlops-backend/internal/quota"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func (s *BackendService) WarehouseQuery(r *http.Request) (any, error) {
	if s.warehouse == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "no warehouse connection is configured")
	}

	req, err := ParseRequest[api.WarehouseQueryRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "query is required")
	}

	frame, err := s.warehouse.Query(r.Context(), req.Query)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "query failed: %v", err)
	}

	rows := make([][]any, 0, frame.NumRows())
	for i := 0; i < frame.NumRows(); i++ {
		row, err := frame.Row(i)
		if err != nil {
			return nil, CodedError(http.StatusInternalServerError, err)
		}
		rows = append(rows, row)
	}

	return api.WarehouseQueryResponse{Columns: frame.Columns(), Rows: rows}, nil
}

// WarehouseUpdate re-runs the query, applies the cell updates to the result
// frame, and writes the changed rows back to the warehouse table.
func (s *BackendService) WarehouseUpdate(r *http.Request) (any, error) {
	if s.warehouse == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "no warehouse connection is configured")
	}

	req, err := ParseRequest[api.WarehouseUpdateRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Query == "" || req.Table == "" || req.KeyColumn == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "query, table, and key_column are required")
	}
	if len(req.Updates) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no updates provided")
	}

	ctx := r.Context()

	frame, err := s.warehouse.Query(ctx, req.Query)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "query failed: %v", err)
	}

	for _, update := range req.Updates {
		if err := frame.Set(update.Row, update.Column, update.Value); err != nil {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
	}

	rowsUpdated := len(frame.DirtyRows())
	if err := s.warehouse.WriteBack(ctx, frame, req.Table, req.KeyColumn); err != nil {
		slog.Error("error writing back to warehouse", "table", req.Table, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "write back failed: %v", err)
	}

	slog.Info("wrote updates back to warehouse", "table", req.Table, "rows", rowsUpdated)

	return api.WarehouseUpdateResponse{RowsUpdated: rowsUpdated}, nil
}

// WarehouseImport materializes a query result as a ready-to-train dataset,
// splitting it into train and test objects like a CSV upload.
func (s *BackendService) WarehouseImport(r *http.Request) (any, error) {
	if s.warehouse == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "no warehouse connection is configured")
	}

	req, err := ParseRequest[api.WarehouseImportRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "query is required")
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

	ctx := r.Context()

	frame, err := s.warehouse.Query(ctx, req.Query)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "query failed: %v", err)
	}
	if frame.NumRows() == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "query returned no rows")
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := frame.WriteCSV(writer); err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	data := buf.Bytes()

	if err := s.quota.Verify(ctx, int64(len(data))); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, CodedError(http.StatusForbidden, err)
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	table, err := dataset.ReadTable(bytes.NewReader(data))
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	if _, _, err := table.Matrix(req.FeatureColumns, req.TargetColumn); err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "query result does not match dataset schema: %v", err)
	}

	train, test, err := table.Split(req.SplitFraction, req.SplitSeed)
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	featureColumns, err := json.Marshal(req.FeatureColumns)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize feature columns")
	}

	ds := database.Dataset{
		Id:             uuid.New(),
		Name:           req.Name,
		Bucket:         s.bucket,
		TargetColumn:   req.TargetColumn,
		FeatureColumns: datatypes.JSON(featureColumns),
		RowCount:       int64(table.NumRows()),
		SizeBytes:      int64(len(data)),
		SplitFraction:  req.SplitFraction,
		SplitSeed:      req.SplitSeed,
		Status:         database.JobCompleted,
		CreationTime:   time.Now().UTC(),
	}
	ds.Prefix = core.DatasetPrefix(ds.Id)

	if err := s.storage.PutObject(ctx, s.bucket, core.DatasetRawKey(ds.Id), bytes.NewReader(data)); err != nil {
		slog.Error("error storing imported dataset", "dataset_id", ds.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset")
	}

	for key, split := range map[string]*dataset.Table{
		core.DatasetTrainKey(ds.Id): train,
		core.DatasetTestKey(ds.Id):  test,
	} {
		var splitBuf bytes.Buffer
		if err := split.Write(&splitBuf); err != nil {
			return nil, CodedError(http.StatusInternalServerError, err)
		}
		if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(splitBuf.Bytes())); err != nil {
			slog.Error("error storing imported dataset split", "dataset_id", ds.Id, "key", key, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset split")
		}
	}

	if err := s.db.WithContext(ctx).Create(&ds).Error; err != nil {
		slog.Error("error creating imported dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset entry")
	}

	slog.Info("imported dataset from warehouse", "dataset_id", ds.Id, "rows", table.NumRows(), "bytes", len(data))

	return api.UploadDatasetResponse{
		DatasetId: ds.Id,
		RowCount:  int64(table.NumRows()),
		SizeBytes: int64(len(data)),
		TrainRows: int64(train.NumRows()),
		TestRows:  int64(test.NumRows()),
	}, nil
}

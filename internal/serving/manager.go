package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"mlops-backend/internal/capture"
	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/storage"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
)

var (
	ErrEndpointNotFound   = errors.New("endpoint not found")
	ErrEndpointNotServing = errors.New("endpoint is not in service")
	ErrModelNotReady      = errors.New("model is not trained")
)

// modelCacheSize bounds how many artifacts a busy multi-model endpoint can
// keep resident, the least recently invoked model is evicted first.
const modelCacheSize = 128

// Manager serves invocations against deployed endpoints. Model artifacts are
// downloaded from the object store on first use and kept in a bounded LRU
// cache.
type Manager struct {
	db     *gorm.DB
	store  storage.ObjectStore
	bucket string

	models *lru.Cache[uuid.UUID, *core.Artifact]

	rngLock sync.Mutex
	rng     *rand.Rand
}

func NewManager(db *gorm.DB, store storage.ObjectStore, bucket string) *Manager {
	models, err := lru.New[uuid.UUID, *core.Artifact](modelCacheSize)
	if err != nil {
		panic(err)
	}
	return &Manager{
		db:     db,
		store:  store,
		bucket: bucket,
		models: models,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type InvokeResult struct {
	Prediction  float64
	VariantName string
	ModelId     uuid.UUID
}

// Invoke scores one row of features against the endpoint. For a single-mode
// endpoint a variant is picked by weight; for a multi-model endpoint the
// caller must name the target model.
func (m *Manager) Invoke(ctx context.Context, endpointId uuid.UUID, features map[string]float64, targetModelId uuid.NullUUID) (*InvokeResult, error) {
	var endpoint database.Endpoint
	if err := m.db.WithContext(ctx).Preload("Variants").First(&endpoint, "id = ?", endpointId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to load endpoint %s: %w", endpointId, err)
	}

	// A deleted endpoint is indistinguishable from one that never existed.
	if endpoint.Status == database.EndpointDeleted {
		return nil, ErrEndpointNotFound
	}
	if endpoint.Status != database.EndpointInService {
		return nil, fmt.Errorf("%w: endpoint %s is %s", ErrEndpointNotServing, endpointId, endpoint.Status)
	}

	var modelId uuid.UUID
	var variantName string
	switch endpoint.Mode {
	case database.EndpointModeMultiModel:
		if !targetModelId.Valid {
			return nil, fmt.Errorf("endpoint %s is multi-model, a target model is required", endpointId)
		}
		modelId = targetModelId.UUID
		variantName = "multi-model"
	default:
		if targetModelId.Valid {
			return nil, fmt.Errorf("endpoint %s is not multi-model, target model is not allowed", endpointId)
		}
		variant, err := m.pickVariant(endpoint.Variants)
		if err != nil {
			return nil, err
		}
		modelId = variant.ModelId
		variantName = variant.VariantName
	}

	artifact, err := m.getArtifact(ctx, modelId)
	if err != nil {
		return nil, err
	}

	row, err := orderFeatures(artifact.FeatureColumns, features)
	if err != nil {
		return nil, err
	}

	prediction, err := artifact.Predict(row)
	if err != nil {
		return nil, err
	}

	m.recordInvocation(ctx, endpoint, variantName)

	if endpoint.CaptureEnabled && m.sampleCapture(endpoint.CapturePercent) {
		if err := m.capture(ctx, endpoint.Id, capture.Record{
			Timestamp:  time.Now().UTC(),
			Variant:    variantName,
			ModelId:    modelId,
			Features:   features,
			Prediction: prediction,
		}); err != nil {
			// Capture failures must not fail the invocation.
			slog.Error("failed to capture invocation", "endpoint_id", endpoint.Id, "error", err)
		}
	}

	return &InvokeResult{Prediction: prediction, VariantName: variantName, ModelId: modelId}, nil
}

func (m *Manager) pickVariant(variants []database.EndpointVariant) (*database.EndpointVariant, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("endpoint has no variants")
	}

	var total float64
	for _, v := range variants {
		total += v.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("endpoint variant weights sum to zero")
	}

	m.rngLock.Lock()
	r := m.rng.Float64() * total
	m.rngLock.Unlock()

	for i := range variants {
		r -= variants[i].Weight
		if r < 0 {
			return &variants[i], nil
		}
	}
	return &variants[len(variants)-1], nil
}

func (m *Manager) getArtifact(ctx context.Context, modelId uuid.UUID) (*core.Artifact, error) {
	if artifact, ok := m.models.Get(modelId); ok {
		return artifact, nil
	}

	var model database.Model
	if err := m.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("model %s not found", modelId)
		}
		return nil, fmt.Errorf("failed to load model %s: %w", modelId, err)
	}
	if model.Status != database.ModelTrained {
		return nil, fmt.Errorf("%w: model %s is %s", ErrModelNotReady, modelId, model.Status)
	}

	data, err := m.store.GetObject(ctx, m.bucket, core.ModelArtifactKey(modelId))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact for model %s: %w", modelId, err)
	}

	artifact, err := core.LoadArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("bad artifact for model %s: %w", modelId, err)
	}

	m.models.Add(modelId, artifact)

	slog.Info("loaded model artifact", "model_id", modelId)

	return artifact, nil
}

// EvictModel drops a model from the cache, used when an endpoint variant is
// replaced during an update.
func (m *Manager) EvictModel(modelId uuid.UUID) {
	m.models.Remove(modelId)
}

func (m *Manager) recordInvocation(ctx context.Context, endpoint database.Endpoint, variantName string) {
	err := m.db.WithContext(ctx).
		Model(&database.EndpointVariant{}).
		Where("endpoint_id = ? AND variant_name = ?", endpoint.Id, variantName).
		UpdateColumn("invocation_count", gorm.Expr("invocation_count + 1")).Error
	if err != nil {
		slog.Error("failed to record invocation", "endpoint_id", endpoint.Id, "variant", variantName, "error", err)
	}
}

func (m *Manager) sampleCapture(percent int) bool {
	if percent >= 100 {
		return true
	}
	if percent <= 0 {
		return false
	}
	m.rngLock.Lock()
	defer m.rngLock.Unlock()
	return m.rng.Intn(100) < percent
}

func (m *Manager) capture(ctx context.Context, endpointId uuid.UUID, record capture.Record) error {
	data, err := capture.EncodeRecord(record)
	if err != nil {
		return err
	}

	key := core.CaptureKey(endpointId, record.Variant)
	if err := storage.AppendObject(ctx, m.store, m.bucket, key, data); err != nil {
		return fmt.Errorf("failed to append capture record: %w", err)
	}

	return nil
}

func orderFeatures(columns []string, features map[string]float64) ([]float64, error) {
	row := make([]float64, len(columns))
	for i, col := range columns {
		v, ok := features[col]
		if !ok {
			return nil, fmt.Errorf("missing feature %q", col)
		}
		row[i] = v
	}
	if len(features) != len(columns) {
		for name := range features {
			if !contains(columns, name) {
				return nil, fmt.Errorf("unexpected feature %q", name)
			}
		}
	}
	return row, nil
}

func contains(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}

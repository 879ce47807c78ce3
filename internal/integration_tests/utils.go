package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "mlops-backend/internal/api"
	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/quota"
	"mlops-backend/internal/serving"
	"mlops-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const dataBucket = "test-data"

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

type env struct {
	db     *gorm.DB
	store  storage.ObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

// setupBackend starts the full stack in-process: API handlers, an in-memory
// queue, and a task processor consuming from it.
func setupBackend(t *testing.T) env {
	db := createDB(t)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), dataBucket))

	queue := messaging.NewInMemoryQueue()

	processor := core.NewTaskProcessor(db, store, queue, queue, dataBucket)
	go processor.Start()
	t.Cleanup(processor.Stop)

	service := backend.NewBackendService(
		db, store, dataBucket, queue,
		serving.NewManager(db, store, dataBucket),
		quota.NewVerifier(db, 0),
		nil,
	)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return env{db: db, store: store, queue: queue, router: router}
}

func httpRequest(router http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func uploadCsv(router http.Handler, endpoint, csv string) error {
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(csv))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}
	return nil
}

// waitFor polls until check returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func tripsCsv(rows int) string {
	var sb strings.Builder
	sb.WriteString("x,y\n")
	for i := 1; i <= rows; i++ {
		sb.WriteString(fmt.Sprintf("%d,%d\n", i, 2*i+1))
	}
	return sb.String()
}

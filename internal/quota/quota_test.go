package quota

import (
	"context"
	"testing"
	"time"

	"mlops-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)
	return db
}

func createDataset(t *testing.T, db *gorm.DB, size int64) {
	require.NoError(t, db.Create(&database.Dataset{
		Id:           uuid.New(),
		Name:         "d",
		SizeBytes:    size,
		Status:       database.JobCompleted,
		CreationTime: time.Now(),
	}).Error)
}

func TestVerifyWithinQuota(t *testing.T) {
	db := setupDB(t)
	createDataset(t, db, 100)

	verifier := NewVerifier(db, 1000)
	assert.NoError(t, verifier.Verify(context.Background(), 500))
}

func TestVerifyExceedsQuota(t *testing.T) {
	db := setupDB(t)
	createDataset(t, db, 600)
	createDataset(t, db, 300)

	verifier := NewVerifier(db, 1000)
	assert.ErrorIs(t, verifier.Verify(context.Background(), 200), ErrQuotaExceeded)
	assert.NoError(t, verifier.Verify(context.Background(), 100))
}

func TestVerifyDisabled(t *testing.T) {
	db := setupDB(t)
	createDataset(t, db, 1<<40)

	verifier := NewVerifier(db, 0)
	assert.NoError(t, verifier.Verify(context.Background(), 1<<40))
}

func TestVerifyEmptyDatabase(t *testing.T) {
	db := setupDB(t)

	verifier := NewVerifier(db, 100)
	assert.NoError(t, verifier.Verify(context.Background(), 100))
	assert.ErrorIs(t, verifier.Verify(context.Background(), 101), ErrQuotaExceeded)
}

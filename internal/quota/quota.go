package quota

import (
	"context"
	"errors"
	"fmt"

	"mlops-backend/internal/database"

	"gorm.io/gorm"
)

var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Verifier enforces an account-wide cap on stored dataset bytes. A zero or
// negative max disables the check.
type Verifier struct {
	db       *gorm.DB
	maxBytes int64
}

func NewVerifier(db *gorm.DB, maxBytes int64) *Verifier {
	return &Verifier{db: db, maxBytes: maxBytes}
}

// Verify checks that adding additionalBytes of dataset storage stays within
// the quota.
func (v *Verifier) Verify(ctx context.Context, additionalBytes int64) error {
	if v.maxBytes <= 0 {
		return nil
	}

	var used int64
	err := v.db.WithContext(ctx).
		Model(&database.Dataset{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&used).Error
	if err != nil {
		return fmt.Errorf("failed to compute dataset storage usage: %w", err)
	}

	if used+additionalBytes > v.maxBytes {
		return fmt.Errorf("%w: %d bytes used, %d requested, %d allowed", ErrQuotaExceeded, used, additionalBytes, v.maxBytes)
	}

	return nil
}

package capture

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	modelId := uuid.New()

	var data []byte
	for i := 0; i < 3; i++ {
		line, err := EncodeRecord(Record{
			Timestamp:  time.Date(2026, 8, 1, 12, i, 0, 0, time.UTC),
			Variant:    "primary",
			ModelId:    modelId,
			Features:   map[string]float64{"x": float64(i)},
			Prediction: float64(2 * i),
		})
		require.NoError(t, err)
		data = append(data, line...)
	}

	records, err := ParseRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "primary", records[0].Variant)
	assert.Equal(t, modelId, records[2].ModelId)
	assert.InDelta(t, 4.0, records[2].Prediction, 1e-9)
}

func TestParseRecordsBadLine(t *testing.T) {
	_, err := ParseRecords([]byte("{\"variant\":\"a\"}\nnot-json\n"))
	assert.Error(t, err)
}

func TestParseRecordsEmpty(t *testing.T) {
	records, err := ParseRecords([]byte("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFeatureMeans(t *testing.T) {
	records := []Record{
		{Features: map[string]float64{"x": 1, "y": 10}},
		{Features: map[string]float64{"x": 3}},
	}

	means := FeatureMeans(records)
	assert.InDelta(t, 2.0, means["x"], 1e-9)
	assert.InDelta(t, 10.0, means["y"], 1e-9)
}

package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one captured invocation, stored as a JSON line in the endpoint's
// capture object. The monitor reads these back to compute drift.
type Record struct {
	Timestamp  time.Time          `json:"timestamp"`
	Variant    string             `json:"variant"`
	ModelId    uuid.UUID          `json:"model_id"`
	Features   map[string]float64 `json:"features"`
	Prediction float64            `json:"prediction"`
}

func EncodeRecord(record Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capture record: %w", err)
	}
	return append(data, '\n'), nil
}

func ParseRecords(data []byte) ([]Record, error) {
	var records []Record
	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse capture record on line %d: %w", i+1, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// FeatureMeans averages each captured feature across the records.
func FeatureMeans(records []Record) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, record := range records {
		for col, v := range record.Features {
			sums[col] += v
			counts[col]++
		}
	}

	means := make(map[string]float64, len(sums))
	for col, sum := range sums {
		means[col] = sum / float64(counts[col])
	}
	return means
}

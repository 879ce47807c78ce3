package dataset

import (
	"math"
	"strconv"
)

// ColumnSummary holds the descriptive statistics for one numeric column.
// Non-numeric cells are skipped and not counted.
type ColumnSummary struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func Summarize(table *Table) []ColumnSummary {
	summaries := make([]ColumnSummary, 0, len(table.Columns))

	for i, col := range table.Columns {
		s := ColumnSummary{Name: col, Min: math.Inf(1), Max: math.Inf(-1)}

		var sum, sumSq float64
		for _, row := range table.Rows {
			v, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				continue
			}
			s.Count++
			sum += v
			sumSq += v * v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}

		if s.Count == 0 {
			s.Min, s.Max = 0, 0
		} else {
			s.Mean = sum / float64(s.Count)
			variance := sumSq/float64(s.Count) - s.Mean*s.Mean
			if variance > 0 {
				s.Std = math.Sqrt(variance)
			}
		}

		summaries = append(summaries, s)
	}

	return summaries
}

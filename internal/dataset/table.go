package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strconv"
)

// Table is a CSV file parsed into memory: a header plus string cells.
// Numeric views are extracted per column set when a job needs them.
type Table struct {
	Columns []string
	Rows    [][]string
}

func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv rows: %w", err)
	}

	return &Table{Columns: header, Rows: rows}, nil
}

func (t *Table) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func (t *Table) NumRows() int {
	return len(t.Rows)
}

func (t *Table) columnIndex(column string) (int, error) {
	for i, col := range t.Columns {
		if col == column {
			return i, nil
		}
	}
	return 0, fmt.Errorf("table has no column %q", column)
}

// Matrix extracts the feature columns as a row-major matrix and the target
// column as a vector. Every referenced cell must parse as a float.
func (t *Table) Matrix(featureColumns []string, targetColumn string) ([][]float64, []float64, error) {
	featureIdx := make([]int, len(featureColumns))
	for i, col := range featureColumns {
		idx, err := t.columnIndex(col)
		if err != nil {
			return nil, nil, err
		}
		featureIdx[i] = idx
	}

	targetIdx, err := t.columnIndex(targetColumn)
	if err != nil {
		return nil, nil, err
	}

	features := make([][]float64, len(t.Rows))
	target := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		features[i] = make([]float64, len(featureIdx))
		for j, idx := range featureIdx {
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d column %q: cannot parse %q as number", i, t.Columns[idx], row[idx])
			}
			features[i][j] = v
		}

		v, err := strconv.ParseFloat(row[targetIdx], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d column %q: cannot parse %q as number", i, targetColumn, row[targetIdx])
		}
		target[i] = v
	}

	return features, target, nil
}

// FeatureMatrix is Matrix without a target, used at inference time.
func (t *Table) FeatureMatrix(featureColumns []string) ([][]float64, error) {
	featureIdx := make([]int, len(featureColumns))
	for i, col := range featureColumns {
		idx, err := t.columnIndex(col)
		if err != nil {
			return nil, err
		}
		featureIdx[i] = idx
	}

	features := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		features[i] = make([]float64, len(featureIdx))
		for j, idx := range featureIdx {
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: cannot parse %q as number", i, t.Columns[idx], row[idx])
			}
			features[i][j] = v
		}
	}

	return features, nil
}

// Split partitions the table into train and test tables. The shuffle is
// seeded so the same (fraction, seed) pair always yields the same split.
func (t *Table) Split(trainFraction float64, seed int64) (*Table, *Table, error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1), got %g", trainFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(len(t.Rows))

	nTrain := int(float64(len(t.Rows)) * trainFraction)

	train := &Table{Columns: t.Columns}
	test := &Table{Columns: t.Columns}
	for i, idx := range perm {
		if i < nTrain {
			train.Rows = append(train.Rows, t.Rows[idx])
		} else {
			test.Rows = append(test.Rows, t.Rows[idx])
		}
	}

	return train, test, nil
}

// Shard slices the table into n contiguous pieces of near-equal size. The
// last shards are one row shorter when the rows do not divide evenly.
func (t *Table) Shard(n int) []*Table {
	if n <= 0 {
		n = 1
	}
	if n > len(t.Rows) && len(t.Rows) > 0 {
		n = len(t.Rows)
	}

	shards := make([]*Table, 0, n)
	base := len(t.Rows) / n
	extra := len(t.Rows) % n

	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shards = append(shards, &Table{Columns: t.Columns, Rows: t.Rows[start : start+size]})
		start += size
	}

	return shards
}

package warehouse

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T) *Frame {
	frame := NewFrame([]string{"id", "fare", "distance"})
	require.NoError(t, frame.AppendRow([]any{int64(1), 12.5, 3.1}))
	require.NoError(t, frame.AppendRow([]any{int64(2), 7.0, 1.4}))
	require.NoError(t, frame.AppendRow([]any{int64(3), 22.75, 8.9}))
	return frame
}

func TestFrameGetSet(t *testing.T) {
	frame := buildFrame(t)

	v, err := frame.Get(1, "fare")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	require.NoError(t, frame.Set(1, "fare", 7.5))

	v, err = frame.Get(1, "fare")
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	assert.Equal(t, []int{1}, frame.DirtyRows())

	_, err = frame.Get(0, "missing")
	assert.Error(t, err)

	err = frame.Set(99, "fare", 1.0)
	assert.Error(t, err)
}

func TestFrameDirtyRowsOrdered(t *testing.T) {
	frame := buildFrame(t)

	require.NoError(t, frame.Set(2, "fare", 23.0))
	require.NoError(t, frame.Set(0, "fare", 13.0))
	require.NoError(t, frame.Set(2, "distance", 9.0))

	assert.Equal(t, []int{0, 2}, frame.DirtyRows())

	frame.clearDirty()
	assert.Empty(t, frame.DirtyRows())
}

func TestFrameWriteCSV(t *testing.T) {
	frame := buildFrame(t)

	var buf bytes.Buffer
	require.NoError(t, frame.WriteCSV(csv.NewWriter(&buf)))

	expected := "id,fare,distance\n1,12.5,3.1\n2,7,1.4\n3,22.75,8.9\n"
	assert.Equal(t, expected, buf.String())
}

func TestFrameAppendRowWrongWidth(t *testing.T) {
	frame := NewFrame([]string{"a", "b"})
	assert.Error(t, frame.AppendRow([]any{1}))
}

func TestUpdateStatement(t *testing.T) {
	stmt := updateStatement("trips", "id", []string{"id", "fare", "distance"}, 0)
	assert.Equal(t, `UPDATE "trips" SET "fare" = $1, "distance" = $2 WHERE "id" = $3`, stmt)
}

package store

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorprep/internal/models"
)

var ts = time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC)

func matrix() *models.FeatureMatrix {
	return &models.FeatureMatrix{
		Columns: []string{"tmp", "hour_sin", "room_number_a017"},
		Keys: []models.RowKey{
			{Room: "a017", Timestamp: ts},
			{Room: "a017", Timestamp: ts.Add(time.Hour)},
		},
		Rows: [][]float64{{21.5, 0.5, 1}, {21.75, 0.7071067811865476, 1}},
	}
}

func TestRecords(t *testing.T) {
	rec := Records(matrix())

	require.Len(t, rec, 3)
	assert.Equal(t, []string{"room_number", "date_time", "tmp", "hour_sin", "room_number_a017"}, rec[0])
	assert.Equal(t, []string{"a017", "2023-01-02T10:00:00Z", "21.5", "0.5", "1"}, rec[1])
	assert.Equal(t, "0.7071067811865476", rec[2][3], "full float precision")
}

func TestLongRows(t *testing.T) {
	rows := LongRows("run-1", matrix())

	require.Len(t, rows, 6)
	assert.Equal(t, LongRow{RunID: "run-1", Room: "a017", Timestamp: ts, Feature: "tmp", Value: 21.5}, rows[0])
	assert.Equal(t, "room_number_a017", rows[5].Feature)
	assert.Equal(t, ts.Add(time.Hour), rows[5].Timestamp)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, matrix()))

	got, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, Records(matrix()), got)
}

func TestWriteCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, WriteCSVFile(path, matrix()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "room_number,date_time,tmp")

	err = WriteCSVFile(filepath.Join(t.TempDir(), "missing", "features.csv"), matrix())
	assert.Error(t, err)
}

func TestDataFrame(t *testing.T) {
	df, err := DataFrame(matrix())
	require.NoError(t, err)

	assert.Equal(t, 2, df.Nrow())
	assert.Equal(t, 5, df.Ncol())
	assert.Equal(t, "21.75", df.Col("tmp").Records()[1])
}

package store

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"sensorprep/internal/models"
)

// Records переводит матрицу в таблицу строк: ключевые столбцы, затем признаки
func Records(m *models.FeatureMatrix) [][]string {
	header := append([]string{models.ColumnRoom, "date_time"}, m.Columns...)
	records := make([][]string, 0, m.Len()+1)
	records = append(records, header)
	for i, key := range m.Keys {
		rec := make([]string, 0, len(header))
		rec = append(rec, key.Room, key.Timestamp.UTC().Format(time.RFC3339))
		for _, v := range m.Rows[i] {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		records = append(records, rec)
	}
	return records
}

// DataFrame строит gota-таблицу из матрицы, значения хранятся строками без преобразования
func DataFrame(m *models.FeatureMatrix) (dataframe.DataFrame, error) {
	df := dataframe.LoadRecords(Records(m),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df, fmt.Errorf("build dataframe: %w", df.Err)
	}
	return df, nil
}

// WriteCSV выгружает матрицу в CSV
func WriteCSV(w io.Writer, m *models.FeatureMatrix) error {
	df, err := DataFrame(m)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteCSVFile выгружает матрицу в файл
func WriteCSVFile(path string, m *models.FeatureMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

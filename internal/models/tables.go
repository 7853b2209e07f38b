package models

import (
	"strings"
	"time"
)

// Имена столбцов исходных файлов, не являющихся числовыми каналами
const (
	ColumnDeviceID = "device_id"
	ColumnRoom     = "room_number"
	ColumnBuilding = "building_name"
	ColumnColor    = "color"
	ColumnSeason   = "season"
)

// CategoricalColumns столбцы, допустимые как категориальные признаки
var CategoricalColumns = []string{ColumnRoom, ColumnBuilding, ColumnColor, ColumnSeason}

// IsCategoricalColumn проверяет, можно ли кодировать столбец как категориальный признак
func IsCategoricalColumn(name string) bool {
	for _, c := range CategoricalColumns {
		if c == name {
			return true
		}
	}
	return false
}

// TransportColumns служебные столбцы радиоканала, не нужные для прогноза
var TransportColumns = []string{
	"bandwidth", "channel_rssi", "channel_index", "device_id",
	"gateway", "f_cnt", "spreading_factor",
}

// RawRow одна строка исходного файла: столбец -> сырое значение
type RawRow map[string]string

// RawTable неструктурированная таблица, собранная из всех файлов
type RawTable struct {
	Columns []string
	Rows    []RawRow
}

// Len количество строк
func (t *RawTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn проверяет наличие столбца
func (t *RawTable) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append добавляет строки, расширяя список столбцов в порядке первого появления
func (t *RawTable) Append(columns []string, rows []RawRow) {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		seen[c] = struct{}{}
	}
	for _, c := range columns {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			t.Columns = append(t.Columns, c)
		}
	}
	t.Rows = append(t.Rows, rows...)
}

// missingTokens значения, которые считаются пропуском
var missingTokens = map[string]struct{}{
	"": {}, "nan": {}, "na": {}, "n/a": {}, "null": {}, "none": {}, "<na>": {},
}

// IsMissingCell проверяет, является ли сырое значение пропуском
func IsMissingCell(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Schema описывает, какие поля несет таблица показаний
type Schema struct {
	Channels    ChannelSet
	HasDevice   bool
	HasRoom     bool
	HasBuilding bool
	Transport   []string
}

// Reading одно показание датчика
type Reading struct {
	Timestamp time.Time
	DeviceID  string
	Room      string
	Building  string
	Values    Values
	Transport map[string]string
}

// ReadingTable таблица показаний с типизированной схемой
type ReadingTable struct {
	Schema Schema
	Rows   []Reading
}

// Len количество строк
func (t *ReadingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// WithRows возвращает новую таблицу с той же схемой
func (t *ReadingTable) WithRows(rows []Reading) *ReadingTable {
	return &ReadingTable{Schema: t.Schema, Rows: rows}
}

// SeriesRow строка ресемплированного ряда комнаты
type SeriesRow struct {
	Timestamp time.Time
	Room      string
	Building  string
	Values    Values
}

// SeriesTable ряды всех комнат, сгруппированные по комнате и отсортированные по времени.
// Frequency равна нулю, если сглаживание отключено и ряд не выровнен по сетке.
type SeriesTable struct {
	Channels    ChannelSet
	HasBuilding bool
	Frequency   time.Duration
	Window      time.Duration
	Rows        []SeriesRow
}

// Len количество строк
func (t *SeriesTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// EnrichedRow строка ряда с производными признаками
type EnrichedRow struct {
	SeriesRow
	TimeDiffSec   float64
	TmpDiff       float64
	TmpDiffPerSec float64
	Year          int
	Month         int
	DayOfWeek     int
	Hour          int
	Color         AlertColor
}

// EnrichedTable результат предобработки, вход инженерии признаков
type EnrichedTable struct {
	Channels    ChannelSet
	HasBuilding bool
	Frequency   time.Duration
	Rows        []EnrichedRow
}

// Len количество строк
func (t *EnrichedTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Readings превращает результат предобработки обратно в таблицу показаний,
// чтобы его можно было снова прогнать через конвейер
func (t *EnrichedTable) Readings() *ReadingTable {
	out := &ReadingTable{
		Schema: Schema{Channels: t.Channels, HasRoom: true, HasBuilding: t.HasBuilding},
		Rows:   make([]Reading, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = Reading{
			Timestamp: r.Timestamp,
			Room:      r.Room,
			Building:  r.Building,
			Values:    r.Values,
		}
	}
	return out
}

// RowKey идентифицирует строку матрицы признаков
type RowKey struct {
	Room      string    `json:"room_number"`
	Timestamp time.Time `json:"date_time"`
}

// FeatureMatrix числовая матрица признаков для обучения модели
type FeatureMatrix struct {
	Columns []string    `json:"columns"`
	Keys    []RowKey    `json:"keys"`
	Rows    [][]float64 `json:"rows"`
}

// Len количество строк
func (m *FeatureMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}

// ColumnIndex возвращает индекс столбца или -1
func (m *FeatureMatrix) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column возвращает копию значений столбца
func (m *FeatureMatrix) Column(name string) ([]float64, bool) {
	idx := m.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Subset возвращает новую матрицу из выбранных строк
func (m *FeatureMatrix) Subset(idx []int) *FeatureMatrix {
	out := &FeatureMatrix{
		Columns: append([]string(nil), m.Columns...),
		Keys:    make([]RowKey, len(idx)),
		Rows:    make([][]float64, len(idx)),
	}
	for i, j := range idx {
		out.Keys[i] = m.Keys[j]
		out.Rows[i] = append([]float64(nil), m.Rows[j]...)
	}
	return out
}

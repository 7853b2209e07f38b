// Package clean приводит сырые показания к типизированной таблице
// и отбрасывает неполные, повторные и физически недопустимые строки
package clean

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sensorprep/internal/logging"
	"sensorprep/internal/models"
)

// DefaultCompletenessThreshold доля пропусков, выше которой строка отбрасывается
const DefaultCompletenessThreshold = 0.9

// ErrMissingTimestamp во входной таблице нет столбца времени
var ErrMissingTimestamp = errors.New("timestamp column is missing")

// buildingCodes сводит префиксы комнат к кодам зданий
var buildingCodes = map[string]string{
	"ama": "am", "amb": "am",
	"ba": "b", "bb": "b",
	"eu": "e",
	"fa": "f", "fu": "f",
	"lia": "li", "lib": "li", "lie": "li", "liu": "li",
	"mu": "m",
}

var digits = regexp.MustCompile(`\d+`)

// timeLayouts форматы времени, встречающиеся в выгрузках
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
}

// counterChannels счетчики устройств, пропуски в которых означают ноль
var counterChannels = []models.Channel{models.WIFI, models.BLE}

// Cleaner выполняет шаги очистки
type Cleaner struct {
	log            *zap.Logger
	dateTimeColumn string
	threshold      float64
}

// NewCleaner создает очиститель
func NewCleaner(log *zap.Logger, dateTimeColumn string, threshold float64) *Cleaner {
	if threshold <= 0 {
		threshold = DefaultCompletenessThreshold
	}
	if dateTimeColumn == "" {
		dateTimeColumn = "date_time"
	}
	return &Cleaner{log: logging.OrNop(log), dateTimeColumn: dateTimeColumn, threshold: threshold}
}

// Incomplete сообщает, превышает ли доля пропусков порог
func Incomplete(missing, total int, threshold float64) bool {
	if total == 0 {
		return true
	}
	return float64(missing)/float64(total) > threshold
}

// Clean выполняет все шаги очистки над сырой таблицей
func (c *Cleaner) Clean(raw *models.RawTable) (*models.ReadingTable, error) {
	complete := c.DropIncomplete(raw)
	typed, err := c.Coerce(complete)
	if err != nil {
		return nil, err
	}
	return c.CleanReadings(typed), nil
}

// CleanReadings выполняет шаги, работающие с типизированной таблицей
func (c *Cleaner) CleanReadings(t *models.ReadingTable) *models.ReadingTable {
	t = c.ExtractIdentity(t)
	t = c.Deduplicate(t)
	return c.PruneColumns(t)
}

// DropIncomplete отбрасывает строки, в которых доля пропущенных столбцов больше порога
func (c *Cleaner) DropIncomplete(raw *models.RawTable) *models.RawTable {
	out := &models.RawTable{Columns: append([]string(nil), raw.Columns...)}
	total := len(raw.Columns)
	for _, row := range raw.Rows {
		missing := 0
		for _, col := range raw.Columns {
			if v, ok := row[col]; !ok || models.IsMissingCell(v) {
				missing++
			}
		}
		if !Incomplete(missing, total, c.threshold) {
			out.Rows = append(out.Rows, row)
		}
	}
	if dropped := raw.Len() - out.Len(); dropped > 0 {
		c.log.Info("dropped incomplete rows", zap.Int("dropped", dropped), zap.Float64("threshold", c.threshold))
	}
	return out
}

// Coerce разбирает время и числовые каналы. Строки без разбираемого времени отбрасываются.
func (c *Cleaner) Coerce(raw *models.RawTable) (*models.ReadingTable, error) {
	if !raw.HasColumn(c.dateTimeColumn) {
		return nil, fmt.Errorf("%w: %q", ErrMissingTimestamp, c.dateTimeColumn)
	}

	schema := models.Schema{
		HasDevice:   raw.HasColumn(models.ColumnDeviceID),
		HasRoom:     raw.HasColumn(models.ColumnRoom),
		HasBuilding: raw.HasColumn(models.ColumnBuilding),
	}
	var channels []models.Channel
	for _, col := range raw.Columns {
		if ch, ok := models.ParseChannel(col); ok {
			schema.Channels = schema.Channels.With(ch)
			channels = append(channels, ch)
		}
	}
	for _, col := range models.TransportColumns {
		if col != models.ColumnDeviceID && raw.HasColumn(col) {
			schema.Transport = append(schema.Transport, col)
		}
	}

	out := &models.ReadingTable{Schema: schema, Rows: make([]models.Reading, 0, raw.Len())}
	unparsable := 0
	for _, row := range raw.Rows {
		ts, err := ParseTimestamp(row[c.dateTimeColumn])
		if err != nil {
			unparsable++
			continue
		}
		r := models.Reading{
			Timestamp: ts,
			DeviceID:  row[models.ColumnDeviceID],
			Room:      row[models.ColumnRoom],
			Building:  row[models.ColumnBuilding],
			Values:    models.EmptyValues(),
		}
		for _, ch := range channels {
			r.Values.Set(ch, ParseNumber(row[ch.String()]))
		}
		for _, ch := range counterChannels {
			if schema.Channels.Has(ch) && models.IsMissing(r.Values.Get(ch)) {
				r.Values.Set(ch, 0)
			}
		}
		if len(schema.Transport) > 0 {
			r.Transport = make(map[string]string, len(schema.Transport))
			for _, col := range schema.Transport {
				r.Transport[col] = row[col]
			}
		}
		out.Rows = append(out.Rows, r)
	}
	if unparsable > 0 {
		c.log.Info("dropped rows with unparsable timestamp", zap.Int("dropped", unparsable))
	}
	return out, nil
}

// ExtractIdentity выводит номер комнаты из идентификатора устройства и код здания из номера комнаты
func (c *Cleaner) ExtractIdentity(t *models.ReadingTable) *models.ReadingTable {
	if !t.Schema.HasDevice && !t.Schema.HasRoom {
		c.log.Warn("no device or room identifier, skipping identity extraction")
		return t.WithRows(append([]models.Reading(nil), t.Rows...))
	}
	out := t.WithRows(make([]models.Reading, len(t.Rows)))
	out.Schema.HasRoom = true
	out.Schema.HasBuilding = true
	for i, r := range t.Rows {
		if t.Schema.HasDevice && r.DeviceID != "" {
			r.Room = RoomFromDevice(r.DeviceID)
		}
		if r.Room != "" {
			r.Building = BuildingFromRoom(r.Room)
		}
		out.Rows[i] = r
	}
	return out
}

// RoomFromDevice возвращает последний токен идентификатора устройства
func RoomFromDevice(deviceID string) string {
	parts := strings.Split(deviceID, "-")
	return parts[len(parts)-1]
}

// BuildingFromRoom удаляет цифры из номера комнаты и сводит префикс к коду здания
func BuildingFromRoom(room string) string {
	prefix := digits.ReplaceAllString(room, "")
	if code, ok := buildingCodes[prefix]; ok {
		return code
	}
	return prefix
}

type dedupKey struct {
	ts   int64
	room string
}

// Deduplicate оставляет первое показание для каждой пары (время, комната)
func (c *Cleaner) Deduplicate(t *models.ReadingTable) *models.ReadingTable {
	seen := make(map[dedupKey]struct{}, len(t.Rows))
	out := t.WithRows(make([]models.Reading, 0, len(t.Rows)))
	for _, r := range t.Rows {
		k := dedupKey{ts: r.Timestamp.UnixNano(), room: r.Room}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, r)
	}
	if dropped := t.Len() - out.Len(); dropped > 0 {
		c.log.Info("dropped duplicate readings", zap.Int("dropped", dropped))
	}
	return out
}

// PruneColumns удаляет служебные столбцы радиоканала и идентификатор устройства
func (c *Cleaner) PruneColumns(t *models.ReadingTable) *models.ReadingTable {
	out := t.WithRows(make([]models.Reading, len(t.Rows)))
	out.Schema.Transport = nil
	out.Schema.HasDevice = false
	for i, r := range t.Rows {
		r.Transport = nil
		r.DeviceID = ""
		out.Rows[i] = r
	}
	return out
}

// ParseTimestamp разбирает время в одном из известных форматов, без зоны считается UTC
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if models.IsMissingCell(s) {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseNumber разбирает число; пропуск, мусор или бесконечность дают NaN
func ParseNumber(s string) float64 {
	if models.IsMissingCell(s) {
		return nan()
	}
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v, err = strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	}
	if err != nil || math.IsInf(v, 0) {
		return nan()
	}
	return v
}

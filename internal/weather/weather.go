// Package weather подмешивает почасовую погоду к матрице признаков
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"sensorprep/internal/models"
)

// ColumnPrefix префикс погодных столбцов в матрице признаков
const ColumnPrefix = "weather_"

// Table почасовые погодные данные
type Table struct {
	Columns []string
	Times   []time.Time
	Rows    [][]float64
}

// Len количество строк
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Fetcher источник погодных данных
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, start, end time.Time) (*Table, error)
}

// Merge соединяет матрицу с погодой по точному совпадению времени.
// Строки без погоды отбрасываются, погодные столбцы добавляются с префиксом weather_.
func Merge(m *models.FeatureMatrix, w *Table) *models.FeatureMatrix {
	byTime := make(map[int64]int, w.Len())
	for i, ts := range w.Times {
		k := ts.UnixNano()
		if _, ok := byTime[k]; !ok {
			byTime[k] = i
		}
	}

	out := &models.FeatureMatrix{Columns: append([]string(nil), m.Columns...)}
	for _, c := range w.Columns {
		out.Columns = append(out.Columns, ColumnPrefix+c)
	}
	for i, key := range m.Keys {
		j, ok := byTime[key.Timestamp.UnixNano()]
		if !ok {
			continue
		}
		row := make([]float64, 0, len(out.Columns))
		row = append(row, m.Rows[i]...)
		row = append(row, w.Rows[j]...)
		out.Keys = append(out.Keys, key)
		out.Rows = append(out.Rows, row)
	}
	return out
}

// HTTPFetcher получает почасовой архив погоды из JSON API формата open-meteo
type HTTPFetcher struct {
	baseURL    string
	variables  []string
	httpClient *http.Client
}

// FetcherOption настраивает HTTPFetcher
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient задает HTTP клиент
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// WithVariables задает запрашиваемые погодные величины
func WithVariables(vars ...string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.variables = vars
	}
}

// NewHTTPFetcher создает клиент погодного архива
func NewHTTPFetcher(baseURL string, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL:    baseURL,
		variables:  []string{"temperature_2m", "relative_humidity_2m", "precipitation", "wind_speed_10m"},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type hourlyResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

// Fetch запрашивает погоду за период [start, end] для точки
func (f *HTTPFetcher) Fetch(ctx context.Context, lat, lon float64, start, end time.Time) (*Table, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("start_date", start.UTC().Format("2006-01-02"))
	params.Set("end_date", end.UTC().Format("2006-01-02"))
	params.Set("timezone", "UTC")
	for _, v := range f.variables {
		params.Add("hourly", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	var body hourlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decodeHourly(body, f.variables, start, end)
}

func decodeHourly(body hourlyResponse, variables []string, start, end time.Time) (*Table, error) {
	var times []string
	if raw, ok := body.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, fmt.Errorf("decode hourly time: %w", err)
		}
	}
	columns := make([][]*float64, len(variables))
	for c, v := range variables {
		raw, ok := body.Hourly[v]
		if !ok {
			return nil, fmt.Errorf("weather response has no %q series", v)
		}
		if err := json.Unmarshal(raw, &columns[c]); err != nil {
			return nil, fmt.Errorf("decode hourly %s: %w", v, err)
		}
		if len(columns[c]) != len(times) {
			return nil, fmt.Errorf("hourly %s has %d values for %d timestamps", v, len(columns[c]), len(times))
		}
	}

	t := &Table{Columns: append([]string(nil), variables...)}
	for i, s := range times {
		ts, err := time.Parse("2006-01-02T15:04", s)
		if err != nil {
			return nil, fmt.Errorf("parse weather time %q: %w", s, err)
		}
		if ts.Before(start.UTC().Truncate(time.Hour)) || ts.After(end.UTC()) {
			continue
		}
		row := make([]float64, len(variables))
		for c := range variables {
			if p := columns[c][i]; p != nil {
				row[c] = *p
			} else {
				row[c] = math.NaN()
			}
		}
		t.Times = append(t.Times, ts)
		t.Rows = append(t.Rows, row)
	}
	sortByTime(t)
	return t, nil
}

func sortByTime(t *Table) {
	idx := make([]int, len(t.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return t.Times[idx[a]].Before(t.Times[idx[b]]) })
	times := make([]time.Time, len(idx))
	rows := make([][]float64, len(idx))
	for i, j := range idx {
		times[i], rows[i] = t.Times[j], t.Rows[j]
	}
	t.Times, t.Rows = times, rows
}

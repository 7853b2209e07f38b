// Package resample выравнивает ряд каждой комнаты по равномерной сетке
// и сглаживает его скользящим средним
package resample

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"sensorprep/internal/analytics"
	"sensorprep/internal/logging"
	"sensorprep/internal/models"
)

// Options параметры ресемплирования
type Options struct {
	Frequency time.Duration
	Window    time.Duration
	Rolling   bool
	Workers   int
}

// Resampler строит ряды по комнатам: карта по комнатам, затем детерминированная склейка
type Resampler struct {
	log  *zap.Logger
	opts Options
}

// NewResampler создает ресемплер
func NewResampler(log *zap.Logger, opts Options) *Resampler {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Resampler{log: logging.OrNop(log), opts: opts}
}

// Resample обрабатывает комнаты параллельно и склеивает результат по комнате, затем по времени
func (r *Resampler) Resample(ctx context.Context, t *models.ReadingTable) (*models.SeriesTable, error) {
	if r.opts.Rolling && (r.opts.Frequency <= 0 || r.opts.Window <= 0) {
		return nil, fmt.Errorf("resample: frequency and window must be positive, got %s and %s",
			r.opts.Frequency, r.opts.Window)
	}

	groups := GroupByRoom(t.Rows)
	rooms := make([]string, 0, len(groups))
	for room := range groups {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	results := make([][]models.SeriesRow, len(rooms))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, room := range rooms {
		i, room := i, room
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.opts.Rolling {
				results[i] = r.resampleRoom(room, groups[room], t.Schema.Channels)
			} else {
				results[i] = passThrough(groups[room])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resample rooms: %w", err)
	}

	out := &models.SeriesTable{
		Channels:    t.Schema.Channels,
		HasBuilding: t.Schema.HasBuilding,
	}
	if r.opts.Rolling {
		out.Frequency = r.opts.Frequency
		out.Window = r.opts.Window
	}
	for _, rows := range results {
		out.Rows = append(out.Rows, rows...)
	}
	r.log.Info("resampled rooms",
		zap.Int("rooms", len(rooms)),
		zap.Int("rows_in", t.Len()),
		zap.Int("rows_out", out.Len()),
		zap.Bool("rolling", r.opts.Rolling),
	)
	return out, nil
}

// GroupByRoom раскладывает показания по комнатам, внутри комнаты сортирует по времени
func GroupByRoom(rows []models.Reading) map[string][]models.Reading {
	groups := make(map[string][]models.Reading)
	for _, row := range rows {
		groups[row.Room] = append(groups[row.Room], row)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].Timestamp.Before(g[b].Timestamp) })
	}
	return groups
}

func passThrough(rows []models.Reading) []models.SeriesRow {
	out := make([]models.SeriesRow, len(rows))
	for i, r := range rows {
		out[i] = models.SeriesRow{Timestamp: r.Timestamp, Room: r.Room, Building: r.Building, Values: r.Values}
	}
	return out
}

// Floor округляет время вниз до границы интервала, отсчитанной от эпохи UTC
func Floor(t time.Time, step time.Duration) time.Time {
	ns := t.UnixNano()
	s := int64(step)
	b := ns - ns%s
	if ns%s < 0 {
		b -= s
	}
	return time.Unix(0, b).UTC()
}

type bucket struct {
	building string
	values   [models.NumChannels][]float64
}

func (r *Resampler) resampleRoom(room string, rows []models.Reading, channels models.ChannelSet) []models.SeriesRow {
	if len(rows) == 0 {
		return nil
	}
	step := r.opts.Frequency
	first := Floor(rows[0].Timestamp, step)
	last := Floor(rows[len(rows)-1].Timestamp, step)
	n := int(last.Sub(first)/step) + 1

	buckets := make([]bucket, n)
	for _, row := range rows {
		b := &buckets[int(Floor(row.Timestamp, step).Sub(first)/step)]
		if b.building == "" {
			b.building = row.Building
		}
		for _, ch := range channels.Channels() {
			if v := row.Values.Get(ch); !models.IsMissing(v) {
				b.values[ch] = append(b.values[ch], v)
			}
		}
	}

	points := analytics.WindowPoints(int64(r.opts.Window), int64(step))
	rolled := make([][]float64, models.NumChannels)
	for _, ch := range channels.Channels() {
		means := make([]float64, n)
		for i := range buckets {
			if vs := buckets[i].values[ch]; len(vs) > 0 {
				means[i] = stat.Mean(vs, nil)
			} else {
				means[i] = math.NaN()
			}
		}
		rolled[ch] = analytics.RollingMean(means, points)
	}

	out := make([]models.SeriesRow, 0, n)
	empty := 0
	for i := range buckets {
		row := models.SeriesRow{
			Timestamp: first.Add(time.Duration(i) * step),
			Room:      room,
			Building:  buckets[i].building,
			Values:    models.EmptyValues(),
		}
		valid := 0
		for _, ch := range channels.Channels() {
			v := rolled[ch][i]
			row.Values.Set(ch, v)
			if !models.IsMissing(v) {
				valid++
			}
		}
		// Точки сетки, на которые окно не дотянулось, отбрасываются
		if valid == 0 {
			empty++
			continue
		}
		out = append(out, row)
	}
	if empty > 0 {
		r.log.Debug("dropped empty grid points", zap.String("room", room), zap.Int("dropped", empty))
	}
	return out
}

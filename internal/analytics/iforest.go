package analytics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// eulerGamma постоянная Эйлера–Маскерони для средней длины пути
const eulerGamma = 0.5772156649015329

// ErrTooFewSamples данных недостаточно для построения леса
var ErrTooFewSamples = errors.New("isolation forest needs at least two samples")

// ForestParams параметры изолирующего леса
type ForestParams struct {
	Estimators    int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// IsolationForest ансамбль изолирующих деревьев
type IsolationForest struct {
	trees      []*isoNode
	sampleSize int
	offset     float64
}

type isoNode struct {
	feature   int
	threshold float64
	left      *isoNode
	right     *isoNode
	size      int
}

func (n *isoNode) leaf() bool {
	return n.left == nil
}

// FitIsolationForest обучает лес на строках data (одинаковой длины)
// и калибрует порог так, что доля Contamination обучающих строк получает отрицательную оценку
func FitIsolationForest(data [][]float64, p ForestParams) (*IsolationForest, error) {
	n := len(data)
	if n < 2 {
		return nil, ErrTooFewSamples
	}
	if p.Estimators <= 0 {
		return nil, fmt.Errorf("estimators must be positive, got %d", p.Estimators)
	}
	if p.Contamination <= 0 || p.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", p.Contamination)
	}
	sampleSize := p.SampleSize
	if sampleSize > n || sampleSize <= 0 {
		sampleSize = n
	}
	if sampleSize < 2 {
		sampleSize = 2
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	rng := rand.New(rand.NewSource(p.Seed))
	f := &IsolationForest{
		trees:      make([]*isoNode, p.Estimators),
		sampleSize: sampleSize,
	}
	for i := range f.trees {
		idx := rng.Perm(n)[:sampleSize]
		f.trees[i] = buildTree(data, idx, 0, maxDepth, rng)
	}

	scores := make([]float64, n)
	for i, x := range data {
		scores[i] = f.ScoreSample(x)
	}
	f.offset = Percentile(scores, 100*p.Contamination)
	return f, nil
}

func buildTree(data [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	dims := len(data[idx[0]])
	lows := make([]float64, dims)
	highs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		col := make([]float64, len(idx))
		for j, i := range idx {
			col[j] = data[i][d]
		}
		lows[d], highs[d] = floats.Min(col), floats.Max(col)
	}
	// Делим только по признакам, которые различаются внутри узла
	var candidates []int
	for d := 0; d < dims; d++ {
		if highs[d] > lows[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(idx)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	threshold := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

	var left, right []int
	for _, i := range idx {
		if data[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		feature:   feature,
		threshold: threshold,
		size:      len(idx),
		left:      buildTree(data, left, depth+1, maxDepth, rng),
		right:     buildTree(data, right, depth+1, maxDepth, rng),
	}
}

func pathLength(n *isoNode, x []float64) float64 {
	depth := 0.0
	for !n.leaf() {
		if x[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength средняя длина неуспешного поиска в двоичном дереве из n элементов
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// ScoreSample возвращает отрицательную аномальность строки: чем меньше, тем аномальнее
func (f *IsolationForest) ScoreSample(x []float64) float64 {
	depths := make([]float64, len(f.trees))
	for i, t := range f.trees {
		depths[i] = pathLength(t, x)
	}
	return -math.Pow(2, -stat.Mean(depths, nil)/averagePathLength(f.sampleSize))
}

// Decision возвращает оценку относительно порога; отрицательные значения считаются выбросами
func (f *IsolationForest) Decision(x []float64) float64 {
	return f.ScoreSample(x) - f.offset
}

// Offset порог, откалиброванный по доле загрязнения
func (f *IsolationForest) Offset() float64 {
	return f.offset
}

// Percentile считает q-й перцентиль с линейной интерполяцией между соседними порядковыми статистиками
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

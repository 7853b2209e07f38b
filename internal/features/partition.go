package features

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sensorprep/internal/models"
)

var roomPrefix = regexp.MustCompile(`^([^\d]+)\d`)

// Partitioner выделяет из матрицы строки комнат с заданным префиксом.
// Результаты кэшируются по матрице до вызова Invalidate.
type Partitioner struct {
	mu    sync.Mutex
	cache map[*models.FeatureMatrix]map[string]*models.FeatureMatrix
}

// NewPartitioner создает разделитель с пустым кэшем
func NewPartitioner() *Partitioner {
	return &Partitioner{cache: make(map[*models.FeatureMatrix]map[string]*models.FeatureMatrix)}
}

// Partition возвращает строки комнат, номер которых начинается с prefix и цифры (без учета регистра)
func (p *Partitioner) Partition(m *models.FeatureMatrix, prefix string) (*models.FeatureMatrix, error) {
	key := strings.ToLower(prefix)

	p.mu.Lock()
	defer p.mu.Unlock()
	if byPrefix, ok := p.cache[m]; ok {
		if sub, ok := byPrefix[key]; ok {
			return sub, nil
		}
	}

	re, err := regexp.Compile(`(?i)^` + regexp.QuoteMeta(prefix) + `\d`)
	if err != nil {
		return nil, fmt.Errorf("compile room prefix %q: %w", prefix, err)
	}
	var idx []int
	for i, k := range m.Keys {
		if re.MatchString(k.Room) {
			idx = append(idx, i)
		}
	}
	sub := m.Subset(idx)

	if p.cache[m] == nil {
		p.cache[m] = make(map[string]*models.FeatureMatrix)
	}
	p.cache[m][key] = sub
	return sub, nil
}

// Invalidate удаляет из кэша все разбиения матрицы
func (p *Partitioner) Invalidate(m *models.FeatureMatrix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, m)
}

// Prefixes возвращает отсортированные буквенные префиксы комнат матрицы
func Prefixes(m *models.FeatureMatrix) []string {
	seen := make(map[string]struct{})
	for _, k := range m.Keys {
		if match := roomPrefix.FindStringSubmatch(k.Room); match != nil {
			seen[strings.ToLower(match[1])] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

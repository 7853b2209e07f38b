// Package analytics реализует статистику для предобработки рядов:
// скользящее среднее по сетке и изолирующий лес для поиска аномалий
package analytics

import (
	"math"
)

// SlidingWindow реализует скользящее окно фиксированного числа точек.
// Пропуски (NaN и бесконечности) занимают место в окне, но не участвуют в среднем.
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	valid  int
	sum    float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	if size < 1 {
		size = 1
	}
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		// Удаляем старое значение из статистики
		old := sw.values[sw.index]
		if !math.IsNaN(old) {
			sw.sum -= old
			sw.valid--
		}
	} else {
		sw.count++
	}

	if math.IsInf(value, 0) {
		value = math.NaN()
	}
	sw.values[sw.index] = value
	if !math.IsNaN(value) {
		sw.sum += value
		sw.valid++
	}

	sw.index = (sw.index + 1) % sw.size
}

// Mean возвращает среднее по значимым точкам окна или NaN, если их нет
func (sw *SlidingWindow) Mean() float64 {
	if sw.valid == 0 {
		return math.NaN()
	}
	return sw.sum / float64(sw.valid)
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Valid возвращает количество значимых (не NaN) элементов в окне
func (sw *SlidingWindow) Valid() int {
	return sw.valid
}

// RollingMean считает скользящее среднее ряда с окном из size точек,
// минимум одна значимая точка; первые точки усредняются по неполному окну
func RollingMean(series []float64, size int) []float64 {
	sw := NewSlidingWindow(size)
	out := make([]float64, len(series))
	for i, v := range series {
		sw.Add(v)
		out[i] = sw.Mean()
	}
	return out
}

// WindowPoints переводит длительность окна в число точек сетки:
// окно (t-window, t] на сетке с шагом step содержит ceil(window/step) точек
func WindowPoints(window, step int64) int {
	if step <= 0 || window <= 0 {
		return 1
	}
	n := window / step
	if window%step != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}

// Package models содержит типизированную схему таблиц конвейера:
// сырые строки, очищенные показания, ресемплированные ряды и матрицу признаков
package models

import "math"

// Channel числовой канал датчика CO2-светофора
type Channel int

const (
	CO2 Channel = iota
	VOC
	Tmp
	Hum
	Vis
	IR
	WIFI
	BLE
	RSSI
	SNR
)

// NumChannels количество известных числовых каналов
const NumChannels = int(SNR) + 1

var channelNames = [NumChannels]string{
	CO2:  "CO2",
	VOC:  "VOC",
	Tmp:  "tmp",
	Hum:  "hum",
	Vis:  "vis",
	IR:   "IR",
	WIFI: "WIFI",
	BLE:  "BLE",
	RSSI: "rssi",
	SNR:  "snr",
}

// AllChannels возвращает каналы в каноническом порядке
func AllChannels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// String возвращает имя столбца канала в исходных файлах
func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return "unknown"
	}
	return channelNames[c]
}

// ParseChannel ищет канал по имени столбца
func ParseChannel(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// ChannelSet множество каналов, присутствующих в таблице
type ChannelSet uint16

// NewChannelSet собирает множество из перечисленных каналов
func NewChannelSet(chs ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range chs {
		s = s.With(c)
	}
	return s
}

// Has сообщает, несет ли таблица канал c
func (s ChannelSet) Has(c Channel) bool {
	return s&(1<<uint(c)) != 0
}

// With возвращает множество с добавленным каналом
func (s ChannelSet) With(c Channel) ChannelSet {
	return s | 1<<uint(c)
}

// Channels перечисляет каналы множества в каноническом порядке
func (s ChannelSet) Channels() []Channel {
	out := make([]Channel, 0, NumChannels)
	for i := 0; i < NumChannels; i++ {
		if s.Has(Channel(i)) {
			out = append(out, Channel(i))
		}
	}
	return out
}

// Len количество каналов в множестве
func (s ChannelSet) Len() int {
	n := 0
	for i := 0; i < NumChannels; i++ {
		if s.Has(Channel(i)) {
			n++
		}
	}
	return n
}

// Values значения всех каналов одной строки; NaN означает пропуск
type Values [NumChannels]float64

// EmptyValues возвращает строку, в которой все каналы пропущены
func EmptyValues() Values {
	var v Values
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

// Get значение канала
func (v *Values) Get(c Channel) float64 {
	return v[c]
}

// Set устанавливает значение канала
func (v *Values) Set(c Channel, x float64) {
	v[c] = x
}

// IsMissing проверяет пропуск
func IsMissing(x float64) bool {
	return math.IsNaN(x)
}

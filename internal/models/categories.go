package models

import "time"

// AlertColor цвет CO2-светофора
type AlertColor string

const (
	ColorUnknown     AlertColor = ""
	ColorGreen       AlertColor = "green"
	ColorYellow      AlertColor = "yellow"
	ColorRed         AlertColor = "red"
	ColorRedBlinking AlertColor = "red_blinking"
)

// Пороги CO2 (ppm) для цветов светофора
const (
	YellowThreshold      = 850.0
	RedThreshold         = 1200.0
	RedBlinkingThreshold = 1600.0
)

// ColorForCO2 переводит уровень CO2 в цвет светофора
func ColorForCO2(co2 float64) AlertColor {
	switch {
	case IsMissing(co2):
		return ColorUnknown
	case co2 < YellowThreshold:
		return ColorGreen
	case co2 < RedThreshold:
		return ColorYellow
	case co2 < RedBlinkingThreshold:
		return ColorRed
	default:
		return ColorRedBlinking
	}
}

// Season время года по фиксированным календарным границам
type Season string

const (
	Winter Season = "winter"
	Spring Season = "spring"
	Summer Season = "summer"
	Autumn Season = "autumn"
)

// SeasonOf определяет время года:
// зима 21.12–20.03, весна 21.03–20.06, лето 21.06–22.09, осень 23.09–20.12
func SeasonOf(t time.Time) Season {
	md := int(t.Month())*100 + t.Day()
	switch {
	case md >= 1221 || md <= 320:
		return Winter
	case md <= 620:
		return Spring
	case md <= 922:
		return Summer
	default:
		return Autumn
	}
}

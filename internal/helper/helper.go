package helper

import (
	"math"
	"strconv"
)

// RoundDownToTick округляет вниз до шага (тик цены или лот).
func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-9)
	return steps * tick
}

// FormatStep печатает значение с точностью шага: 0.01 -> 2 знака, 1 -> 0.
func FormatStep(v, step float64) string {
	return strconv.FormatFloat(v, 'f', decimals(step), 64)
}

func decimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	d := 0
	for step < 1-1e-12 && d < 12 {
		step *= 10
		d++
	}
	return d
}

package service

import (
	"time"

	"bot_engine/internal/models"
)

// ema: экспоненциальная средняя ряда, первое значение служит затравкой.
// ok=false, пока точек меньше периода.
func ema(samples []float64, period int) (value float64, ok bool) {
	if period < 1 {
		period = 1
	}
	if len(samples) < period {
		return 0, false
	}
	alpha := 2 / (float64(period) + 1)
	value = samples[0]
	for _, p := range samples[1:] {
		value += alpha * (p - value)
	}
	return value, true
}

// resample берёт цену "на момент" с шагом step, от старых к новым, не больше n точек.
// Тики приходят неравномерно, EMA считается по этой сетке.
func resample(points []models.PricePoint, now time.Time, step time.Duration, n int) []float64 {
	out := make([]float64, 0, n)
	j := len(points) - 1
	for k := 0; k < n; k++ {
		at := now.Add(-time.Duration(k) * step)
		for j >= 0 && points[j].Timestamp.After(at) {
			j--
		}
		if j < 0 {
			break
		}
		out = append(out, points[j].Price)
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

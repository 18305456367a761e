package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"agranova/models"
)

// DefaultStatsPeriod is used when no period is requested
const DefaultStatsPeriod = "7d"

// MaxPeriodDays bounds stats and history windows
const MaxPeriodDays = 3650

const maxPeriod = MaxPeriodDays * 24 * time.Hour

// ParsePeriod accepts day counts such as "7d" or any Go duration ("24h", "90m")
func ParsePeriod(period string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(period, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, models.NewValidationError("period", "%q is not a valid period", period)
		}
		if n > MaxPeriodDays {
			return 0, models.NewValidationError("period", "%q exceeds %d days", period, MaxPeriodDays)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(period)
	if err != nil || d <= 0 {
		return 0, models.NewValidationError("period", "%q is not a valid period", period)
	}
	if d > maxPeriod {
		return 0, models.NewValidationError("period", "%q exceeds %d days", period, MaxPeriodDays)
	}
	return d, nil
}

// ComputeStats derives irrigation statistics from readings in ascending order.
// The interval leading up to an ON reading counts as irrigation time.
func ComputeStats(readings []models.SensorReading) models.IrrigationStats {
	var stats models.IrrigationStats
	stats.DataPoints = len(readings)
	if len(readings) == 0 {
		return stats
	}

	var onTime time.Duration
	var moisture, temperature float64
	for i, r := range readings {
		moisture += r.SoilMoisture
		temperature += r.Temperature
		if i == 0 {
			continue
		}
		prev := readings[i-1]
		if r.PumpStatus == models.PumpOn {
			onTime += r.Timestamp.Sub(prev.Timestamp)
			if prev.PumpStatus == models.PumpOff {
				stats.PumpActivations++
			}
		}
	}

	n := float64(len(readings))
	stats.TotalIrrigationTime = int64(math.Round(onTime.Minutes()))
	stats.AverageMoisture = round1(moisture / n)
	stats.AverageTemperature = round1(temperature / n)
	return stats
}

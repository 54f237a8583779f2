package geo

import (
	"errors"
	"math"
	"sort"
)

const (
	// MaxAccuracyMeters drops readings coarser than this.
	MaxAccuracyMeters = 100.0

	// OutlierFactor drops readings further than this multiple of the median
	// distance from the first-pass centroid.
	OutlierFactor = 3.0
)

// ErrNoSamples is returned when no usable reading remains.
var ErrNoSamples = errors.New("no usable gps samples")

// Sample is one raw geolocation reading.
type Sample struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`

	// Accuracy is the reported horizontal accuracy radius in metres.
	Accuracy float64 `json:"accuracy"`
}

// Fix is the combined position estimate.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Used      int
}

func (s Sample) usable() bool {
	return s.Accuracy > 0 && s.Accuracy <= MaxAccuracyMeters &&
		s.Latitude >= -90 && s.Latitude <= 90 &&
		s.Longitude >= -180 && s.Longitude <= 180
}

// Average combines samples into a single fix using inverse-variance weights
// (1/accuracy²). Coarse readings and spatial outliers are discarded first.
func Average(samples []Sample) (Fix, error) {
	usable := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.usable() {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return Fix{}, ErrNoSamples
	}

	center := weightedMean(usable)
	if len(usable) > 2 {
		usable = dropOutliers(usable, center)
	}

	fix := weightedMean(usable)
	return fix, nil
}

func weightedMean(samples []Sample) Fix {
	var sumW, sumLat, sumLng float64
	for _, s := range samples {
		w := 1 / (s.Accuracy * s.Accuracy)
		sumW += w
		sumLat += s.Latitude * w
		sumLng += s.Longitude * w
	}
	return Fix{
		Latitude:  sumLat / sumW,
		Longitude: sumLng / sumW,
		Accuracy:  1 / math.Sqrt(sumW),
		Used:      len(samples),
	}
}

func dropOutliers(samples []Sample, center Fix) []Sample {
	distances := make([]float64, len(samples))
	for i, s := range samples {
		distances[i] = HaversineMeters(center.Latitude, center.Longitude, s.Latitude, s.Longitude)
	}

	sorted := append([]float64(nil), distances...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	// Identical readings give a zero median; keep everything.
	if median == 0 {
		return samples
	}

	limit := median * OutlierFactor
	kept := make([]Sample, 0, len(samples))
	for i, s := range samples {
		if distances[i] <= limit {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return samples
	}
	return kept
}

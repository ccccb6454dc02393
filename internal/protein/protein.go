// Package protein derives a recommended daily protein intake range.
package protein

import (
	"math"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
)

// Grams per kilogram of body weight.
const (
	MinFactor         = 0.8
	TrainingMaxFactor = 2.0
	BaselineMaxFactor = 1.2
)

type Range struct {
	Min int
	Max int
}

// MaxFactor returns the upper grams-per-kg factor for a lifestyle.
func MaxFactor(lifestyle profile.Lifestyle) float64 {
	if lifestyle == profile.LifestyleStructuredTraining {
		return TrainingMaxFactor
	}

	return BaselineMaxFactor
}

// Recommend must only be called with a validated weight and lifestyle.
func Recommend(weight float64, lifestyle profile.Lifestyle) Range {
	return Range{
		Min: int(math.Round(weight * MinFactor)),
		Max: int(math.Round(weight * MaxFactor(lifestyle))),
	}
}

func (r Range) Document() profile.ProteinRange {
	return profile.ProteinRange{Min: r.Min, Max: r.Max}
}

package bot

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
)

var nonDigit = regexp.MustCompile(`\D`)

func NormalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ToLower(text)

	return text
}

// NormalizePhoneNumber reduces raw input to local digits. A leading country
// code or trunk zero is dropped when the rest is a full local number.
func NormalizePhoneNumber(raw, countryCode string) string {
	digits := nonDigit.ReplaceAllString(raw, "")
	prefix := nonDigit.ReplaceAllString(countryCode, "")

	if prefix != "" && len(digits) > 10 && strings.HasPrefix(digits, prefix) {
		digits = digits[len(prefix):]
	}

	if len(digits) == 11 && strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}

	return digits
}

// ParseAge accepts whole years only.
func ParseAge(text string) (int, bool) {
	age, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}

	return age, true
}

// ParseWeight accepts kilograms with either a dot or a comma and an
// optional "kg" suffix.
func ParseWeight(text string) (float64, bool) {
	text = strings.TrimSuffix(NormalizeText(text), "kg")
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", ".")

	weight, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}

	return weight, true
}

var sexLabels = map[string]profile.Sex{
	"male":   profile.SexMale,
	"female": profile.SexFemale,
	"other":  profile.SexOther,
}

var lifestyleLabels = map[string]profile.Lifestyle{
	"structured training": profile.LifestyleStructuredTraining,
	"sedentary":           profile.LifestyleSedentary,
}

var dietLabels = map[string]profile.Diet{
	"veg":     profile.DietVeg,
	"egg":     profile.DietEgg,
	"non-veg": profile.DietNonVeg,
}

func ParseSex(text string) (profile.Sex, bool) {
	sex, ok := sexLabels[NormalizeText(text)]
	return sex, ok
}

func ParseLifestyle(text string) (profile.Lifestyle, bool) {
	lifestyle, ok := lifestyleLabels[NormalizeText(text)]
	return lifestyle, ok
}

func ParseDiet(text string) (profile.Diet, bool) {
	diet, ok := dietLabels[NormalizeText(text)]
	return diet, ok
}

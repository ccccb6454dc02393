package wizard

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	phoneDigits = 10
	codeDigits  = 6

	minWeight = 30.0
	maxWeight = 200.0
)

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)
	nonDigit   = regexp.MustCompile(`\D`)
	emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Rules holds the product-tunable bounds.
type Rules struct {
	AgeMin int
	AgeMax int
}

func DefaultRules() Rules {
	return Rules{AgeMin: 12, AgeMax: 90}
}

func ValidPhone(digits string) bool {
	return len(digits) == phoneDigits && digitsOnly.MatchString(digits)
}

func ValidCode(code string) bool {
	return len(code) == codeDigits && digitsOnly.MatchString(code)
}

func ValidName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= 2
}

func ValidEmail(email string) bool {
	return emailShape.MatchString(strings.TrimSpace(email))
}

func ValidWeight(weight float64) bool {
	return weight >= minWeight && weight <= maxWeight
}

func (r Rules) ValidAge(age int) bool {
	return age >= r.AgeMin && age <= r.AgeMax
}

// stepValid is the validity predicate of each step. The code step counts
// as satisfied once its challenge has been confirmed.
func (r Rules) stepValid(step Step, f *Fields, hasPending, verified bool) bool {
	switch step {
	case StepPhone:
		return ValidPhone(f.Phone)
	case StepCode:
		return verified || (ValidCode(f.Code) && hasPending)
	case StepDetail:
		return ValidName(f.Name) && ValidPhone(f.Phone)
	case StepEmail:
		return ValidEmail(f.Email)
	case StepAge:
		return r.ValidAge(f.Age)
	case StepSex:
		return f.Sex.Valid()
	case StepWeight:
		return ValidWeight(f.Weight)
	case StepLifestyle:
		return f.Lifestyle.Valid()
	case StepDiet:
		return f.Diet.Valid()
	case StepFinish:
		if !verified {
			return false
		}
		for s := firstStep; s < StepFinish; s++ {
			if !r.stepValid(s, f, hasPending, verified) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// NormalizeDigits strips everything but digits.
func NormalizeDigits(raw string) string {
	return nonDigit.ReplaceAllString(raw, "")
}

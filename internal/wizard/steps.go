package wizard

import "fmt"

// Step is a wizard step. The set is closed; the declaration order is the
// canonical step order.
type Step int

const (
	StepPhone Step = iota
	StepCode
	StepDetail
	StepEmail
	StepAge
	StepSex
	StepWeight
	StepLifestyle
	StepDiet
	StepFinish
)

const (
	firstStep = StepPhone
	lastStep  = StepFinish
)

var stepNames = [...]string{
	StepPhone:     "phone",
	StepCode:      "code",
	StepDetail:    "detail",
	StepEmail:     "email",
	StepAge:       "age",
	StepSex:       "sex",
	StepWeight:    "weight",
	StepLifestyle: "lifestyle",
	StepDiet:      "diet",
	StepFinish:    "finish",
}

func (s Step) String() string {
	if s < firstStep || s > lastStep {
		return fmt.Sprintf("Step(%d)", int(s))
	}

	return stepNames[s]
}

func (s Step) Known() bool {
	return s >= firstStep && s <= lastStep
}

// Steps returns every step in canonical order.
func Steps() []Step {
	steps := make([]Step, 0, lastStep+1)
	for s := firstStep; s <= lastStep; s++ {
		steps = append(steps, s)
	}

	return steps
}

func (s Step) next() Step {
	if s >= lastStep {
		return lastStep
	}

	return s + 1
}

func (s Step) prev() Step {
	if s <= firstStep {
		return firstStep
	}

	return s - 1
}

package profile

import "time"

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

type Lifestyle string

const (
	LifestyleStructuredTraining Lifestyle = "structured-training"
	LifestyleSedentary          Lifestyle = "sedentary"
)

type Diet string

const (
	DietVeg    Diet = "veg"
	DietEgg    Diet = "egg"
	DietNonVeg Diet = "non-veg"
)

var sexes = map[Sex]bool{SexMale: true, SexFemale: true, SexOther: true}

var lifestyles = map[Lifestyle]bool{LifestyleStructuredTraining: true, LifestyleSedentary: true}

var diets = map[Diet]bool{DietVeg: true, DietEgg: true, DietNonVeg: true}

func (s Sex) Valid() bool { return sexes[s] }

func (l Lifestyle) Valid() bool { return lifestyles[l] }

func (d Diet) Valid() bool { return diets[d] }

// ProteinRange is the persisted form of a daily protein recommendation in grams.
type ProteinRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Document is the completed profile written to the store, keyed by UID.
type Document struct {
	UID          string       `json:"uid"`
	Provider     string       `json:"provider"`
	Phone        string       `json:"phone"`
	Name         string       `json:"name"`
	Email        *string      `json:"email,omitempty"`
	Age          int          `json:"age"`
	Sex          Sex          `json:"sex"`
	Weight       float64      `json:"weight"`
	Lifestyle    Lifestyle    `json:"lifestyle"`
	Diet         Diet         `json:"diet"`
	ProteinRange ProteinRange `json:"proteinRange"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

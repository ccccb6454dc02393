package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"98765 43210", "9876543210"},
		{"+91 98765-43210", "9876543210"},
		{"919876543210", "9876543210"},
		{"09876543210", "9876543210"},
		{"9198765", "9198765"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhoneNumber(tt.raw, "+91"), tt.raw)
	}
}

func TestParseWeight(t *testing.T) {
	weight, ok := ParseWeight(" 68,5 KG ")
	assert.True(t, ok)
	assert.Equal(t, 68.5, weight)

	_, ok = ParseWeight("heavy")
	assert.False(t, ok)
}

func TestParseChoices(t *testing.T) {
	sex, ok := ParseSex("Female")
	assert.True(t, ok)
	assert.Equal(t, profile.SexFemale, sex)

	lifestyle, ok := ParseLifestyle("structured training")
	assert.True(t, ok)
	assert.Equal(t, profile.LifestyleStructuredTraining, lifestyle)

	diet, ok := ParseDiet("NON-VEG")
	assert.True(t, ok)
	assert.Equal(t, profile.DietNonVeg, diet)

	_, ok = ParseDiet("vegan")
	assert.False(t, ok)
}

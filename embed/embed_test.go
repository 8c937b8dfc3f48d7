package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase", in: "Senior Go Engineer", want: "senior go engineer"},
		{name: "collapse whitespace", in: "go \t sql\n postgres", want: "go sql postgres"},
		{name: "trim", in: "  go  ", want: "go"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestContentHash_StableAcrossEquivalentInputs(t *testing.T) {
	a := ContentHash(NormalizeText("Go  Engineer"))
	b := ContentHash(NormalizeText("go engineer"))
	c := ContentHash(NormalizeText("go developer"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex sha256
}

func TestCheckLength(t *testing.T) {
	assert.NoError(t, CheckLength("short", 10))
	assert.NoError(t, CheckLength("anything goes", 0))

	err := CheckLength("too long by far", 5)
	var tooLong *TextTooLongError
	assert.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 5, tooLong.Limit)
}

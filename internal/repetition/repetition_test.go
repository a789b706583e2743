package repetition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		repeats int
		want    bool
	}{
		{"two char unit repeated 25 times", strings.Repeat("ab", 25), DefaultThreshold, true},
		{"aperiodic text", "x^{2}+y^{2}=z^{2}", DefaultThreshold, false},
		{"empty text", "", DefaultThreshold, false},
		{"exactly threshold single char", strings.Repeat("a", 12), 12, true},
		{"one short of threshold", strings.Repeat("a", 11), 12, false},
		{"repeat after prefix", `\frac{1}{2}` + strings.Repeat(`\,`, 21), StopThreshold, true},
		{"long unit", strings.Repeat(`\alpha+`, 21), StopThreshold, true},
		{"twenty of a unit under stop threshold", strings.Repeat("xy", 20), StopThreshold, false},
		{"multibyte runes", strings.Repeat("αβ", 12), 12, true},
		{"non-positive threshold", "aaaa", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text, tt.repeats))
		})
	}
}

func TestDetectCountsCodePoints(t *testing.T) {
	assert.True(t, Detect(strings.Repeat("é", 12), 12))
	assert.False(t, Detect(strings.Repeat("é", 11)+"e", 12))
}

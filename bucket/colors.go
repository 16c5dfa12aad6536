package bucket

import (
	"fmt"
	"math/rand"
)

// DiscardColor is the fixed color of the discard pile.
const DiscardColor = "#f24236"

// NeutralColor is the display color for images without a model behind them,
// such as discard-pile entries and pure-exploration suggestions.
const NeutralColor = "#181818"

// palette is the set of base bucket colors. Two live buckets never share a
// base color; once the palette is exhausted, random shades/tints of the base
// colors are handed out.
var palette = []struct {
	hex string
	rgb [3]int
}{
	{"#0065bd", [3]int{0, 101, 189}},
	{"#16db93", [3]int{22, 219, 147}},
	{"#eca400", [3]int{236, 164, 0}},
	{"#f5f749", [3]int{245, 247, 73}},
	{"#a4036f", [3]int{164, 3, 111}},
	{"#c5c3c6", [3]int{197, 195, 198}},
	{"#8a716a", [3]int{138, 113, 106}},
}

const confAlphaBreakpoint = 100

// ColorManager assigns colors to buckets within one session.
type ColorManager struct {
	taken []bool
	rng   *rand.Rand
}

// NewColorManager creates a color manager with all base colors available.
func NewColorManager(rng *rand.Rand) *ColorManager {
	return &ColorManager{
		taken: make([]bool, len(palette)),
		rng:   rng,
	}
}

// Assign hands out a free base color, or a random variation when all base
// colors are taken.
func (cm *ColorManager) Assign() string {
	for i := range palette {
		if !cm.taken[i] {
			cm.taken[i] = true
			return palette[i].hex
		}
	}

	base := palette[cm.rng.Intn(len(palette))].rgb
	coef := 0.3 + 0.6*cm.rng.Float64()

	var rgb [3]int
	if cm.rng.Intn(2) == 0 {
		// Shade: darken toward black.
		for i, c := range base {
			rgb[i] = int(coef * float64(c))
		}
	} else {
		// Tint: lighten toward white.
		for i, c := range base {
			rgb[i] = c + int(float64(255-c)*coef)
		}
	}

	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
}

// Relinquish returns a base color to the pool. Variation colors are simply
// forgotten.
func (cm *ColorManager) Relinquish(color string) {
	for i := range palette {
		if palette[i].hex == color {
			cm.taken[i] = false
			return
		}
	}
}

// ConfidenceColor blends a bucket color with a confidence score into an
// #rrggbbaa value: higher confidence, higher alpha.
func ConfidenceColor(color string, confidence float64) string {
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	alpha := confAlphaBreakpoint + int(confidence*float64(255-confAlphaBreakpoint))

	return fmt.Sprintf("%s%02x", color, alpha)
}

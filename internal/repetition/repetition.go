// Package repetition detects degenerate back-to-back repeats in generated
// text so the decode loop can stop early.
package repetition

const (
	// DefaultThreshold is the multiplicity used when the detector is called
	// as a general purpose check.
	DefaultThreshold = 12
	// StopThreshold is the multiplicity at which the decode loop stops.
	StopThreshold = 21
)

// Detect reports whether some unit of length L, 1 <= L <= len(text)/repeats,
// occurs repeats times back-to-back starting at some offset. Units are
// checked by ascending length then ascending offset. Lengths count code
// points, not bytes.
func Detect(text string, repeats int) bool {
	if repeats <= 0 {
		return false
	}
	return DetectRunes([]rune(text), repeats)
}

// DetectRunes is Detect over an already split rune slice.
func DetectRunes(r []rune, repeats int) bool {
	if repeats <= 0 {
		return false
	}
	n := len(r)
	for unit := 1; unit <= n/repeats; unit++ {
		span := unit * repeats
		for start := 0; start+span <= n; start++ {
			if repeatsAt(r, start, unit, span) {
				return true
			}
		}
	}
	return false
}

// repeatsAt reports whether r[start:start+span] is r[start:start+unit]
// tiled span/unit times.
func repeatsAt(r []rune, start, unit, span int) bool {
	for k := unit; k < span; k++ {
		if r[start+k] != r[start+k%unit] {
			return false
		}
	}
	return true
}

package common

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// Unsigned is the set of unsigned integer types accepted by the alignment helpers.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// AlignUp rounds value up to the next multiple of alignment. Alignment must be a power of two.
//
// Parameters:
//   - value: the value to round
//   - alignment: the power-of-two alignment
//
// Returns:
//   - T: the aligned value
func AlignUp[T Unsigned](value, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// DivideByMultiple returns ceil(value / multiple). Used for workgroup counts.
func DivideByMultiple[T Unsigned](value, multiple T) T {
	return (value + multiple - 1) / multiple
}

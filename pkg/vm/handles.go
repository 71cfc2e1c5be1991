package vm

// Array handles live in the negative half of the word space: id i maps
// to handle -(i+1), so integer 0 and every positive integer can never
// collide with a handle. All conversions go through these helpers.

// IDToHandle encodes an array-table index as a handle word.
func IDToHandle(id int) int64 {
	return -int64(id) - 1
}

// HandleToID decodes a handle word. Only meaningful when IsHandle held.
func HandleToID(v int64) int {
	return int(-(v + 1))
}

// IsHandle reports whether v is a valid handle for a table of the given
// length: negative, and decoding to an existing slot.
func IsHandle(v int64, tableLen int) bool {
	if v >= 0 {
		return false
	}
	return HandleToID(v) < tableLen
}

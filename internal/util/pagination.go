package util

const (
	// DefaultPageSize is applied when a request omits the size parameter
	// or asks for something out of range.
	DefaultPageSize = 10

	// MaxPageSize caps attendance search pages; the index can hold years
	// of records per user.
	MaxPageSize = 100
)

// Calculate turns 1-based page/size query parameters into an
// offset/limit pair, clamping nonsense values to the defaults.
func Calculate(page, size int) (from, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	from = (page - 1) * size
	return from, size
}

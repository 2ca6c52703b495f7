package pointer

// To returns a pointer to the provided value
func To[T any](value T) *T {
	return &value
}

// Copy returns a pointer that's a copy of the provided value
func Copy[T any](value *T) *T {
	if value == nil {
		return nil
	}
	return To(*value)
}

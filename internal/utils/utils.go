package utils

func Must[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}

	return value
}

func Keys[T comparable, U any](m map[T]U) []T {
	keys := make([]T, len(m))

	i := 0
	for key := range m {
		keys[i] = key
		i++
	}

	return keys
}

func Max[T int | int64 | uint64](a, b T) T {
	if a > b {
		return a
	}

	return b
}

func Bytes(s string) []byte {
	return []byte(s)
}

package util

// Chunks splits b into successive pieces of at most size bytes. The slices
// returned alias b; they are not copies. A size of zero or less means no
// splitting, and the whole of b is returned as the single chunk. An empty
// input yields no chunks.
//
// Concatenating the returned chunks in order reproduces b exactly. That
// property is what lets split archive pieces be reassembled by feeding them
// to a reader sequentially.
func Chunks(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	if size <= 0 || size >= len(b) {
		return [][]byte{b}
	}
	n := (len(b) + size - 1) / size
	result := make([][]byte, 0, n)
	for len(b) > 0 {
		end := size
		if end > len(b) {
			end = len(b)
		}
		result = append(result, b[:end])
		b = b[end:]
	}
	return result
}

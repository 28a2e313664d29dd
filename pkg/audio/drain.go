package audio

// Drain reads from ch until it is closed, discarding every value. Use it to
// release a producer goroutine whose output is no longer wanted, such as the
// Audio channel of an interrupted [AudioSegment].
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

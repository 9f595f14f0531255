//go:build debug

package channel

// New creates a new channel. Debug builds get an unbuffered channel
// (ignores size) so handoffs are synchronous and easier to trace.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}

package channel

import "testing"

func TestBuffered_SendReceive(t *testing.T) {
	ch := NewBuffered[int](2)

	ch.Send(1)
	ch.Send(2)
	if got := ch.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	if got := <-ch.Receive(); got != 1 {
		t.Fatalf("first receive = %d, want 1", got)
	}
	if got := <-ch.Receive(); got != 2 {
		t.Fatalf("second receive = %d, want 2", got)
	}
}

func TestBuffered_TrySendFullBuffer(t *testing.T) {
	ch := NewBuffered[string](1)

	if !ch.TrySend("first") {
		t.Fatal("TrySend on an empty buffer should succeed")
	}
	if ch.TrySend("second") {
		t.Fatal("TrySend on a full buffer should fail")
	}

	if got := <-ch.Receive(); got != "first" {
		t.Fatalf("receive = %q, want %q", got, "first")
	}
	if !ch.TrySend("third") {
		t.Fatal("TrySend after draining should succeed")
	}
}

func TestBuffered_CloseEndsStream(t *testing.T) {
	ch := NewBuffered[int](1)
	ch.Send(7)
	ch.Close()

	if got, ok := <-ch.Receive(); !ok || got != 7 {
		t.Fatalf("receive = (%d, %v), want (7, true)", got, ok)
	}
	if _, ok := <-ch.Receive(); ok {
		t.Fatal("receive on a closed drained channel should report closed")
	}
}

func TestUnbuffered_TrySendNeedsReceiver(t *testing.T) {
	ch := NewUnbuffered[int]()

	if ch.TrySend(1) {
		t.Fatal("TrySend with no waiting receiver should fail")
	}
	if got := ch.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}

	ready := make(chan struct{})
	got := make(chan int, 1)
	go func() {
		close(ready)
		got <- <-ch.Receive()
	}()
	<-ready

	for !ch.TrySend(42) {
	}
	if v := <-got; v != 42 {
		t.Fatalf("receive = %d, want 42", v)
	}
}

func TestNew_ReturnsUsableChannel(t *testing.T) {
	var ch Channel[bool] = New[bool](4)
	ch.Send(true)
	if got := <-ch.Receive(); !got {
		t.Fatal("value sent through New() channel was lost")
	}
}

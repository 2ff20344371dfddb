package streamer

import "testing"

func TestRingBufferKeepsNewestBytesOnOverflow(t *testing.T) {
	rb := newRingBuffer(8)
	rb.Write([]byte("abcdefgh"))
	rb.Write([]byte("ij"))

	if got := rb.String(); got != "cdefghij" {
		t.Fatalf("expected cdefghij, got %q", got)
	}
	if !rb.Truncated() {
		t.Fatal("expected Truncated to be true after overflow")
	}
}

func TestRingBufferNotTruncatedUnderLimit(t *testing.T) {
	rb := newRingBuffer(100)
	rb.Write([]byte("hello"))

	if rb.String() != "hello" {
		t.Fatalf("expected hello, got %q", rb.String())
	}
	if rb.Truncated() {
		t.Fatal("expected Truncated to be false under the limit")
	}
}

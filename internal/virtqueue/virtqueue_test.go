package virtqueue

import (
	"testing"

	"vqkernel/internal/dma"
)

func newTestQueue(t *testing.T, n int) *Queue {
	t.Helper()
	provider := dma.NewHostProvider()
	q, err := New(n, provider)
	if err != nil {
		t.Fatalf("New(%d) = %v", n, err)
	}
	return q
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	provider := dma.NewHostProvider()
	if _, err := New(3, provider); err == nil {
		t.Fatal("expected error for non-power-of-two size")
	}
	if _, err := New(0, provider); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := New(512, provider); err == nil {
		t.Fatal("expected error for size above MaxQueueSize")
	}
}

// TestAccountingP1 exercises P1: num_used tracks (allocated - freed) across
// a sequence of add_buf/free_desc calls.
func TestAccountingP1(t *testing.T) {
	q := newTestQueue(t, 8)

	head1, err := q.AddBuf([]Chain{{Phys: 0x1000, Len: 16}, {Phys: 0x2000, Len: 4096, Write: true}})
	if err != nil {
		t.Fatalf("AddBuf: %v", err)
	}
	if got := q.NumUsed(); got != 2 {
		t.Fatalf("NumUsed after first AddBuf = %d, want 2", got)
	}

	head2, err := q.AddBuf([]Chain{{Phys: 0x3000, Len: 16}})
	if err != nil {
		t.Fatalf("AddBuf: %v", err)
	}
	if got := q.NumUsed(); got != 3 {
		t.Fatalf("NumUsed after second AddBuf = %d, want 3", got)
	}

	q.FreeDesc(head1)
	if got := q.NumUsed(); got != 1 {
		t.Fatalf("NumUsed after freeing 2-chain = %d, want 1", got)
	}

	q.FreeDesc(head2)
	if got := q.NumUsed(); got != 0 {
		t.Fatalf("NumUsed after freeing last chain = %d, want 0", got)
	}
}

// TestFreeDescUnderflowClamps is I3: a spurious free_desc clamps to zero
// and is observable via UnderflowCount, rather than wrapping negative.
func TestFreeDescUnderflowClamps(t *testing.T) {
	q := newTestQueue(t, 8)

	head, err := q.AddBuf([]Chain{{Phys: 0x1000, Len: 16}})
	if err != nil {
		t.Fatalf("AddBuf: %v", err)
	}
	q.FreeDesc(head)
	if got := q.NumUsed(); got != 0 {
		t.Fatalf("NumUsed = %d, want 0", got)
	}

	q.FreeDesc(head) // spurious second free of the same chain
	if got := q.NumUsed(); got != 0 {
		t.Fatalf("NumUsed after spurious free = %d, want clamped 0", got)
	}
	if got := q.UnderflowCount(); got != 1 {
		t.Fatalf("UnderflowCount = %d, want 1", got)
	}
}

// TestAllocExhaustion is I1: alloc_desc fails once num_used == N.
func TestAllocExhaustion(t *testing.T) {
	q := newTestQueue(t, 2)

	if _, err := q.AddBuf([]Chain{{Phys: 0x1000, Len: 1}, {Phys: 0x1001, Len: 1}}); err != nil {
		t.Fatalf("first AddBuf (fills queue): %v", err)
	}
	if _, err := q.AddBuf([]Chain{{Phys: 0x1002, Len: 1}}); err == nil {
		t.Fatal("expected AddBuf to fail once all descriptors are in use")
	}
}

// TestDeviceRoundTrip drives the submission/completion protocol from both
// sides: the driver submits via AddBuf, a DeviceView (standing in for the
// device) pops the chain, inspects descriptors, and pushes a completion,
// and the driver observes it via HasUsed/GetUsed.
func TestDeviceRoundTrip(t *testing.T) {
	q := newTestQueue(t, 4)
	dev := NewDeviceView(q)

	if dev_, ok := dev.PopAvail(); ok {
		t.Fatalf("PopAvail before any submission returned (%d, true)", dev_)
	}

	head, err := q.AddBuf([]Chain{{Phys: 0xAAAA, Len: 16}, {Phys: 0xBBBB, Len: 4096, Write: true}})
	if err != nil {
		t.Fatalf("AddBuf: %v", err)
	}

	if q.HasUsed() {
		t.Fatal("HasUsed true before device processed anything")
	}

	popped, ok := dev.PopAvail()
	if !ok || popped != head {
		t.Fatalf("PopAvail = (%d, %v), want (%d, true)", popped, ok, head)
	}

	d0 := dev.Desc(popped)
	if d0.Addr != 0xAAAA || d0.Len != 16 || d0.Flags&DescFNext == 0 {
		t.Fatalf("unexpected head descriptor: %+v", d0)
	}
	d1 := dev.Desc(d0.Next)
	if d1.Addr != 0xBBBB || d1.Len != 4096 || d1.Flags&DescFWrite == 0 {
		t.Fatalf("unexpected second descriptor: %+v", d1)
	}

	dev.PushUsed(popped, 4096)

	if !q.HasUsed() {
		t.Fatal("HasUsed false after device pushed a completion")
	}
	gotHead, gotLen, ok := q.GetUsed()
	if !ok || gotHead != head || gotLen != 4096 {
		t.Fatalf("GetUsed = (%d, %d, %v), want (%d, 4096, true)", gotHead, gotLen, ok, head)
	}
	if q.HasUsed() {
		t.Fatal("HasUsed true after the only completion was consumed")
	}

	q.FreeDesc(head)
	if got := q.NumUsed(); got != 0 {
		t.Fatalf("NumUsed after FreeDesc = %d, want 0", got)
	}
}

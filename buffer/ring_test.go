package buffer

import (
	"bytes"
	"sync"
	"testing"
)

func fill(t *testing.T, b *Ring, p []byte) {
	t.Helper()
	for _, c := range p {
		if !b.Write(c) {
			t.Fatalf("Write(%d) failed with size %d", c, b.Size())
		}
	}
}

func drain(b *Ring) []byte {
	var out []byte
	for {
		c, ok := b.Read()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestRing_WriteRead(t *testing.T) {
	b := NewRing(4)
	if !b.IsEmpty() || b.HasContent() {
		t.Fatal("new ring should be empty")
	}
	fill(t, b, []byte{1, 2, 3, 4})
	if !b.IsFull() {
		t.Errorf("IsFull() = false with size %d", b.Size())
	}
	if b.Write(5) {
		t.Error("Write() on a full ring should fail")
	}
	if b.Peek() != 1 {
		t.Errorf("Peek() = %d, want 1", b.Peek())
	}
	if got := drain(b); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("drain = %v", got)
	}
	if _, ok := b.Read(); ok {
		t.Error("Read() on an empty ring should fail")
	}
}

func TestRing_WrapAround(t *testing.T) {
	b := NewRing(3)
	var want, got []byte
	for i := 0; i < 100; i++ {
		fill(t, b, []byte{byte(i), byte(i + 1)})
		want = append(want, byte(i), byte(i+1))
		got = append(got, drain(b)...)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("wrapped data mismatch")
	}
	if b.Size() != 0 || b.Space() != 3 {
		t.Errorf("Size() = %d, Space() = %d", b.Size(), b.Space())
	}
}

func TestRing_WriteAbortRestoresState(t *testing.T) {
	sequences := [][]byte{
		{},
		{9},
		{9, 8, 7},
		{1, 2, 3, 4, 5, 6, 7, 8}, // overflows, partial writes fail
	}
	for _, seq := range sequences {
		b := NewRing(6)
		fill(t, b, []byte{42, 43})
		b.WriteStart()
		for _, c := range seq {
			b.Write(c)
		}
		if b.Size() != 2 {
			t.Errorf("uncommitted writes changed Size() to %d", b.Size())
		}
		b.WriteAbort()
		if b.Size() != 2 || b.Space() != 4 {
			t.Errorf("after abort Size() = %d, Space() = %d", b.Size(), b.Space())
		}
		if got := drain(b); !bytes.Equal(got, []byte{42, 43}) {
			t.Errorf("after abort contents = %v", got)
		}
	}
}

func TestRing_WriteTransactionInvisibleUntilCommit(t *testing.T) {
	b := NewRing(8)
	b.WriteStart()
	fill(t, b, []byte{1, 2})
	if b.HasContent() {
		t.Fatal("reader sees an open write transaction")
	}
	b.WriteEnd()
	if b.Size() != 2 {
		t.Errorf("Size() = %d after commit, want 2", b.Size())
	}
}

func TestRing_NestedWrite(t *testing.T) {
	b := NewRing(8)
	b.WriteStart()
	fill(t, b, []byte{1})
	b.WriteStart()
	fill(t, b, []byte{2})
	b.WriteEnd()
	if b.Size() != 0 {
		t.Fatal("inner commit leaked to the consumer")
	}
	b.WriteStart()
	fill(t, b, []byte{3})
	b.WriteAbort()
	b.WriteEnd()
	if got := drain(b); !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("contents = %v, want [1 2]", got)
	}
}

func TestRing_ReadTransaction(t *testing.T) {
	b := NewRing(4)
	fill(t, b, []byte{1, 2, 3})

	b.ReadStart()
	c1, _ := b.Read()
	c2, _ := b.Read()
	if c1 != 1 || c2 != 2 {
		t.Fatalf("read %d %d", c1, c2)
	}
	if b.Size() != 3 || b.Space() != 1 {
		t.Errorf("speculative reads freed space: Size() = %d", b.Size())
	}
	if b.Available() != 1 {
		t.Errorf("Available() = %d, want 1", b.Available())
	}
	b.ReadAbort()
	if b.Available() != 3 || b.Peek() != 1 {
		t.Errorf("abort did not restore the read cursor")
	}

	b.ReadStart()
	b.Read()
	b.ReadStart()
	b.Read()
	b.ReadAbort()
	b.ReadEnd()
	if b.Size() != 2 || b.Peek() != 2 {
		t.Errorf("Size() = %d Peek() = %d, want 2 2", b.Size(), b.Peek())
	}
}

func TestRing_WriteBytes(t *testing.T) {
	b := NewRing(4)
	if !b.WriteBytes([]byte{1, 2, 3}) {
		t.Fatal("WriteBytes failed")
	}
	if b.WriteBytes([]byte{4, 5}) {
		t.Error("WriteBytes should fail when it does not fit")
	}
	if b.Size() != 3 {
		t.Errorf("Size() = %d, want 3", b.Size())
	}
}

func TestRing_PeekAtAndClear(t *testing.T) {
	b := NewRing(5)
	fill(t, b, []byte{7, 8, 9})
	if c, ok := b.PeekAt(2); !ok || c != 9 {
		t.Errorf("PeekAt(2) = %d %v", c, ok)
	}
	if _, ok := b.PeekAt(3); ok {
		t.Error("PeekAt past the end should fail")
	}
	b.Clear()
	if !b.IsEmpty() || b.Space() != 5 {
		t.Error("Clear() did not empty the ring")
	}
}

func TestNewRing_InvalidCapacity(t *testing.T) {
	for _, n := range []int{0, -1, 256} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewRing(%d) did not panic", n)
				}
			}()
			NewRing(n)
		}()
	}
}

func TestRing_SingleProducerSingleConsumer(t *testing.T) {
	b := NewRing(16)
	const total = 5000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			b.WriteStart()
			if b.Space() < 2 {
				b.WriteAbort()
				continue
			}
			b.UncheckedWrite(byte(i))
			b.UncheckedWrite(byte(i >> 8))
			b.WriteEnd()
			i++
		}
	}()

	for i := 0; i < total; {
		if b.Available() < 2 {
			continue
		}
		b.ReadStart()
		lo := b.UncheckedRead()
		hi := b.UncheckedRead()
		b.ReadEnd()
		if got := int(lo) | int(hi)<<8; got != i&0xffff {
			t.Fatalf("record %d read as %d", i, got)
		}
		i++
	}
	wg.Wait()
}

func TestRing_SideQueries(t *testing.T) {
	b := NewRing(4)
	fill(t, b, []byte{1, 2})
	b.WriteStart()
	b.Write(3)
	b.Write(4)

	// the producer counts its open transaction, the consumer does not
	if !b.IsFull() || b.HasSpace() || b.Space() != 0 {
		t.Errorf("producer view: IsFull() = %v, Space() = %d", b.IsFull(), b.Space())
	}
	if b.Available() != 2 || b.Available() == b.Capacity() || b.IsEmpty() {
		t.Errorf("consumer view: Available() = %d", b.Available())
	}

	b.ReadStart()
	b.Read()
	if b.Available() != 1 || b.Space() != 0 {
		t.Errorf("open read: Available() = %d, Space() = %d", b.Available(), b.Space())
	}
	b.ReadEnd()
	if b.Space() != 1 {
		t.Errorf("Space() after committed read = %d, want 1", b.Space())
	}
	b.WriteEnd()
	if b.Available() != 3 {
		t.Errorf("Available() after commit = %d, want 3", b.Available())
	}
}

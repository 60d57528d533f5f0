package timeline

import (
	"testing"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

func TestSignBlockIndexing(t *testing.T) {
	tl := New()
	if err := tl.Load(nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var main, sign chainprim.Hash
	main[0] = 1
	sign[0] = 2

	tl.AppendMain(main)
	tl.AppendSign(sign, main)

	got, ok := tl.SignBlockFor(main)
	if !ok || got != sign {
		t.Fatalf("SignBlockFor = %x, %v; want %x, true", got, ok, sign)
	}
	if tl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tl.Len())
	}
}

func TestDoubleLoadFails(t *testing.T) {
	tl := New()
	if err := tl.Load(nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tl.Load(nil); err == nil {
		t.Fatalf("second Load: want error")
	}
}

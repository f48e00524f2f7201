package greenloop

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Special case - we use 128 bytes for cache line size on all platforms.
func Test_sizeOfCacheLine(t *testing.T) {
	actual := unsafe.Sizeof(cpu.CacheLinePad{})
	if sizeOfCacheLine < actual {
		t.Errorf("sizeOfCacheLine (%d) is less than actual cache line size (%d)", sizeOfCacheLine, actual)
	}
	// must be neatly divisible
	if sizeOfCacheLine%actual != 0 {
		t.Errorf("sizeOfCacheLine (%d) is not a multiple of actual cache line size (%d)", sizeOfCacheLine, actual)
	}
}

func TestFastState_Padding(t *testing.T) {
	var s fastState
	if got, want := unsafe.Offsetof(s.v), uintptr(sizeOfCacheLine); got != want {
		t.Errorf("expected state value at offset %d, got %d", want, got)
	}
	if got, want := unsafe.Sizeof(s), uintptr(2*sizeOfCacheLine); got != want {
		t.Errorf("expected fastState to span %d bytes, got %d", want, got)
	}
}

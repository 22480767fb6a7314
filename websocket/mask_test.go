package websocket

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// applyMaskReference is the per-byte rule from RFC 6455 Section 5.3.
func applyMaskReference(mask uint32, b []byte) {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], mask)
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// TestApplyMask tests the masking algorithm against known output.
func TestApplyMask(t *testing.T) {
	data := []byte("Hello")

	ApplyMask(0x12345678, data)

	// 'H'^0x12, 'e'^0x34, 'l'^0x56, 'l'^0x78, 'o'^0x12
	want := []byte{0x5A, 0x51, 0x3A, 0x14, 0x7D}
	if !bytes.Equal(data, want) {
		t.Errorf("ApplyMask = %X, want %X", data, want)
	}
}

// TestApplyMask_Involution tests applying the same mask twice restores data.
func TestApplyMask_Involution(t *testing.T) {
	masks := []uint32{0, 1, 0x12345678, 0xFFFFFFFF, 0xDEADBEEF, 0x80000001}
	sizes := []int{0, 1, 3, 4, 7, 8, 9, 15, 16, 17, 125, 126, 1000, 4099}

	for _, mask := range masks {
		for _, size := range sizes {
			orig := make([]byte, size)
			for i := range orig {
				orig[i] = byte(i*31 + 7)
			}
			data := append([]byte(nil), orig...)

			ApplyMask(mask, data)
			ApplyMask(mask, data)

			if !bytes.Equal(data, orig) {
				t.Errorf("mask 0x%08X size %d: not restored", mask, size)
			}
		}
	}
}

// TestApplyMask_MatchesPerByteRule tests the word-at-a-time path.
func TestApplyMask_MatchesPerByteRule(t *testing.T) {
	for size := 0; size < 70; size++ {
		got := make([]byte, size)
		for i := range got {
			got[i] = byte(i)
		}
		want := append([]byte(nil), got...)

		ApplyMask(0xA1B2C3D4, got)
		applyMaskReference(0xA1B2C3D4, want)

		if !bytes.Equal(got, want) {
			t.Fatalf("size %d: got %X, want %X", size, got, want)
		}
	}
}

// TestApplyMask_ZeroMask tests an all-zero key leaves data unchanged.
func TestApplyMask_ZeroMask(t *testing.T) {
	data := []byte("unchanged payload")
	ApplyMask(0, data)
	if string(data) != "unchanged payload" {
		t.Errorf("zero mask changed data: %q", data)
	}
}

// TestApplyMask_EmptyData tests masking empty data.
func TestApplyMask_EmptyData(t *testing.T) {
	var data []byte
	ApplyMask(0x12345678, data) // Must not panic.
}

func TestRandomMaskKey(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 16; i++ {
		k, err := RandomMaskKey()
		if err != nil {
			t.Fatalf("RandomMaskKey error: %v", err)
		}
		seen[k] = true
	}
	if len(seen) < 2 {
		t.Error("RandomMaskKey returned the same key every time")
	}
}

// BenchmarkApplyMask benchmarks masking performance.
func BenchmarkApplyMask(b *testing.B) {
	data := make([]byte, 1024)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		ApplyMask(0x12345678, data)
	}
}

// BenchmarkApplyMask_Large benchmarks masking large payloads.
func BenchmarkApplyMask_Large(b *testing.B) {
	data := make([]byte, 1024*1024)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		ApplyMask(0x12345678, data)
	}
}

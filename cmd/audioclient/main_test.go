package main

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func wavHeader(format uint16, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	return h
}

func TestReadWAVHeader(t *testing.T) {
	f, err := readWAVHeader(bytes.NewReader(wavHeader(1, 1, 16000, 16)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.bytesPer(100 * time.Millisecond); got != 3200 {
		t.Errorf("expected 3200 bytes per 100ms, got %d", got)
	}
}

func TestReadWAVHeader_Rejects(t *testing.T) {
	notWAV := wavHeader(1, 1, 16000, 16)
	copy(notWAV[0:4], "RIFX")

	tests := map[string][]byte{
		"short":    []byte("RIFF"),
		"not wav":  notWAV,
		"not pcm":  wavHeader(3, 1, 16000, 32),
		"zero len": wavHeader(1, 0, 16000, 16),
	}
	for name, data := range tests {
		if _, err := readWAVHeader(bytes.NewReader(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

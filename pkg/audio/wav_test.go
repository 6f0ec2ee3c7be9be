package audio

import (
	"bytes"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := EncodeWAV(Format{Rate: 44100, Width: 2, Channels: 1}, pcm)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	format := Format{Rate: 16000, Width: 2, Channels: 1}
	pcm := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}

	wav := EncodeWAV(format, pcm)
	gotFormat, gotPCM, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFormat != format {
		t.Fatalf("format = %+v, want %+v", gotFormat, format)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("pcm = %v, want %v", gotPCM, pcm)
	}
}

func TestDecodeWAVRejectsNonRIFF(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

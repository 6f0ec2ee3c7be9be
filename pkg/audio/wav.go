package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps PCM samples in a canonical WAV container.
func EncodeWAV(format Format, pcm []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.Rate))
	binary.Write(buf, binary.LittleEndian, uint32(format.BytesPerSecond()))
	binary.Write(buf, binary.LittleEndian, uint16(format.Width*format.Channels))
	binary.Write(buf, binary.LittleEndian, uint16(format.Width*8))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV extracts the format and raw PCM samples from a canonical WAV
// file, as used when loading awake-wav/done-wav/timer-finished-wav from
// disk. Only uncompressed PCM (audio format 1) is supported.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var format Format
	var pcm []byte
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			break
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Format{}, nil, fmt.Errorf("audio: fmt chunk too short")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported WAV audio format %d", audioFormat)
			}
			channels := int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate := int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample := int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			format = Format{Rate: rate, Width: bitsPerSample / 8, Channels: channels}
		case "data":
			pcm = data[body : body+chunkSize]
		}
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if pcm == nil {
		return Format{}, nil, fmt.Errorf("audio: no data chunk found")
	}
	if format.Width == 0 {
		return Format{}, nil, fmt.Errorf("audio: no fmt chunk found")
	}
	return format, pcm, nil
}

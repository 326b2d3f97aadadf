package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	defaultSampleRate = 16000
	pcmFormatTag      = 1
	pcmBitsPerSample  = 16
)

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// wavHeader is the canonical 44-byte header for mono PCM16LE audio.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	FormatTag     uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio in a WAV container. A
// non-positive sampleRate defaults to 16kHz.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if uint64(len(pcm)) > math.MaxUint32-36 {
		return nil, fmt.Errorf("pcm too large for wav: %d bytes", len(pcm))
	}

	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		FormatTag:     pcmFormatTag,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * pcmBitsPerSample / 8),
		BlockAlign:    pcmBitsPerSample / 8,
		BitsPerSample: pcmBitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAVPCM16LE returns the PCM payload and sample rate of a mono
// PCM16LE WAV stream. Unknown chunks are skipped.
func DecodeWAVPCM16LE(data []byte) ([]byte, int, error) {
	if !IsWAV(data) {
		return nil, 0, ErrNotWAV
	}

	var (
		haveFmt    bool
		formatTag  uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		pcm        []byte
		haveData   bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("wav chunk %q overruns stream", id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, errors.New("wav fmt chunk too short")
			}
			formatTag = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = append([]byte(nil), chunk...)
			haveData = true
		}
		// Chunks are word aligned.
		off += size + size%2
	}

	switch {
	case !haveFmt:
		return nil, 0, errors.New("wav missing fmt chunk")
	case !haveData:
		return nil, 0, errors.New("wav missing data chunk")
	case formatTag != pcmFormatTag || bits != pcmBitsPerSample:
		return nil, 0, fmt.Errorf("unsupported wav encoding: format=%d bits=%d", formatTag, bits)
	case channels != 1:
		return nil, 0, fmt.Errorf("unsupported wav channel count: %d", channels)
	}
	return pcm, int(sampleRate), nil
}

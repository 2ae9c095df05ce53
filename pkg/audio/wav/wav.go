// Package wav decodes linear-PCM WAV containers into audio samples.
//
// Supported payloads: 8/16/24/32-bit signed integer PCM and 32-bit IEEE
// float, any channel count. Multi-channel audio is mixed down to mono by
// channel averaging and integer samples are normalized to [-1, 1] using
// the format's full-scale divisor.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/perchlabs/birdsense/pkg/audio"
)

const (
	formatPCM   = 1
	formatFloat = 3
)

// DecodeFile opens and decodes the WAV file at path.
// A missing file surfaces as an error wrapping os.ErrNotExist.
func DecodeFile(path string) (*audio.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a complete WAV stream from r and returns the decoded
// mono sample sequence at the container's native rate.
func Decode(r io.Reader) (*audio.Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wav: read: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: bad container magic: %w", audio.ErrUnsupportedFormat)
	}

	var (
		format     uint16
		channels   int
		rate       int
		bitDepth   int
		payload    []byte
		haveFormat bool
	)

	// Walk RIFF chunks. Chunks are 16-bit-word aligned; odd sizes are
	// padded with one byte.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: truncated fmt chunk: %w", audio.ErrUnsupportedFormat)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFormat = true
		case "data":
			payload = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFormat {
		return nil, fmt.Errorf("wav: missing fmt chunk: %w", audio.ErrUnsupportedFormat)
	}
	if channels < 1 || rate <= 0 {
		return nil, fmt.Errorf("wav: invalid format (%d channels, %d Hz): %w",
			channels, rate, audio.ErrUnsupportedFormat)
	}
	if format != formatPCM && format != formatFloat {
		return nil, fmt.Errorf("wav: codec %d: %w", format, audio.ErrUnsupportedFormat)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("wav: %w", audio.ErrEmptyAudio)
	}

	samples, err := decodePayload(payload, format, channels, bitDepth)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("wav: %w", audio.ErrEmptyAudio)
	}
	return &audio.Sample{Data: samples, Rate: rate}, nil
}

// decodePayload converts the raw data chunk to normalized mono float32.
func decodePayload(payload []byte, format uint16, channels, bitDepth int) ([]float32, error) {
	bytesPer := bitDepth / 8
	if bytesPer == 0 {
		return nil, fmt.Errorf("wav: %d-bit samples: %w", bitDepth, audio.ErrUnsupportedFormat)
	}
	frameBytes := bytesPer * channels
	frames := len(payload) / frameBytes

	read, err := sampleReader(format, bitDepth)
	if err != nil {
		return nil, err
	}

	out := make([]float32, frames)
	inv := 1.0 / float32(channels)
	for i := range frames {
		base := i * frameBytes
		var sum float32
		for c := range channels {
			sum += read(payload[base+c*bytesPer:])
		}
		out[i] = sum * inv
	}
	return out, nil
}

// sampleReader returns a function decoding one normalized sample from a
// byte slice, or ErrUnsupportedFormat for unsupported depth/codec pairs.
func sampleReader(format uint16, bitDepth int) (func([]byte) float32, error) {
	if format == formatFloat {
		if bitDepth != 32 {
			return nil, fmt.Errorf("wav: %d-bit float: %w", bitDepth, audio.ErrUnsupportedFormat)
		}
		return func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}, nil
	}
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned.
		return func(b []byte) float32 {
			return (float32(b[0]) - 128) / 128
		}, nil
	case 16:
		return func(b []byte) float32 {
			v := int16(binary.LittleEndian.Uint16(b))
			return float32(v) / 32768
		}, nil
	case 24:
		return func(b []byte) float32 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xffffff)
			}
			return float32(v) / 8388608
		}, nil
	case 32:
		return func(b []byte) float32 {
			v := int32(binary.LittleEndian.Uint32(b))
			return float32(float64(v) / 2147483648)
		}, nil
	}
	return nil, fmt.Errorf("wav: %d-bit PCM: %w", bitDepth, audio.ErrUnsupportedFormat)
}

package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/perchlabs/birdsense/pkg/audio"
)

// buildWAV assembles a minimal RIFF/WAVE container around a raw payload.
func buildWAV(format uint16, channels, rate, bitDepth int, payload []byte) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bitDepth / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func pcm16(samples ...int16) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func TestDecode16BitMono(t *testing.T) {
	data := buildWAV(1, 1, 48000, 16, pcm16(0, 16384, -16384, 32767))
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if s.Rate != 48000 {
		t.Fatalf("Rate = %d, want 48000", s.Rate)
	}
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768}
	if len(s.Data) != len(want) {
		t.Fatalf("len = %d, want %d", len(s.Data), len(want))
	}
	for i, w := range want {
		if math.Abs(float64(s.Data[i]-w)) > 1e-6 {
			t.Fatalf("sample %d = %f, want %f", i, s.Data[i], w)
		}
	}
}

func TestDecodeStereoDownmix(t *testing.T) {
	// L=0.5, R=-0.5 averages to 0; L=R=0.25 stays 0.25.
	data := buildWAV(1, 2, 44100, 16, pcm16(16384, -16384, 8192, 8192))
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Data) != 2 {
		t.Fatalf("len = %d, want 2", len(s.Data))
	}
	if math.Abs(float64(s.Data[0])) > 1e-6 {
		t.Fatalf("frame 0 = %f, want 0", s.Data[0])
	}
	if math.Abs(float64(s.Data[1]-0.25)) > 1e-6 {
		t.Fatalf("frame 1 = %f, want 0.25", s.Data[1])
	}
}

func TestDecode8Bit(t *testing.T) {
	data := buildWAV(1, 1, 8000, 8, []byte{128, 255, 0})
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 127.0 / 128, -1}
	for i, w := range want {
		if math.Abs(float64(s.Data[i]-w)) > 1e-6 {
			t.Fatalf("sample %d = %f, want %f", i, s.Data[i], w)
		}
	}
}

func TestDecodeFloat32(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []float32{0.5, -0.25} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	data := buildWAV(3, 1, 48000, 32, buf.Bytes())
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if s.Data[0] != 0.5 || s.Data[1] != -0.25 {
		t.Fatalf("got %v, want [0.5 -0.25]", s.Data)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("OggS not a wav file at all")))
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeUnknownCodec(t *testing.T) {
	// Format 85 is MP3-in-WAV, which is not linear PCM.
	data := buildWAV(85, 1, 48000, 16, pcm16(0, 0))
	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	data := buildWAV(1, 1, 48000, 16, nil)
	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, audio.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestDecodeMissingFmtChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(12))
	buf.WriteString("WAVE")
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.Write([]byte{0, 0, 0, 0})
	_, err := Decode(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, buildWAV(1, 1, 48000, 16, pcm16(1000, -1000)), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Data) != 2 {
		t.Fatalf("len = %d, want 2", len(s.Data))
	}
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := DecodeFile(filepath.Join(t.TempDir(), "nope.wav"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

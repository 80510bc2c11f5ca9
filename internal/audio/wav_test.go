package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWAV_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.wav")
	in := sine(2205, 22050, 440, 0.5)

	if err := WriteWAV(path, in, 22050); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	out, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != 22050 {
		t.Errorf("expected rate 22050, got %d", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 2.0/math.MaxInt16 {
			t.Fatalf("sample %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}

func TestReadWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadWAV(path); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}

func TestLoadClip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	if err := WriteWAV(path, constant(100, 0.25), 16000); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	c, err := LoadClip(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadClip: %v", err)
	}
	if c.SampleRate != 16000 || len(c.Samples) != 100 || c.Volume != 1 {
		t.Errorf("unexpected clip: rate=%d len=%d volume=%f", c.SampleRate, len(c.Samples), c.Volume)
	}

	if _, err := LoadClip(context.Background(), filepath.Join(dir, "clip.flac")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestDecodeMP3_Empty(t *testing.T) {
	if _, _, err := DecodeMP3(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestLinearResampler(t *testing.T) {
	ctx := context.Background()
	var r LinearResampler

	in := sine(1000, 1000, 10, 0.5)
	out, err := r.Resample(ctx, in, 1000, 2000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 2000 {
		t.Fatalf("expected 2000 samples, got %d", len(out))
	}
	// Even output samples land exactly on input samples.
	for i := 0; i < 100; i++ {
		if math.Abs(float64(out[2*i]-in[i])) > 1e-6 {
			t.Fatalf("sample %d: expected %f, got %f", 2*i, in[i], out[2*i])
		}
	}

	same, err := r.Resample(ctx, in, 1000, 1000)
	if err != nil || len(same) != len(in) {
		t.Fatalf("same-rate resample: len=%d err=%v", len(same), err)
	}

	if _, err := r.Resample(ctx, in, 0, 1000); err == nil {
		t.Error("expected error for zero source rate")
	}
}

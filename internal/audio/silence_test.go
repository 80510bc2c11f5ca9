package audio

import (
	"errors"
	"math"
	"testing"
)

// 以 1kHz 采样：帧长 25 个样本，帧移 10 个样本。
const testRate = 1000

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDetectSilence_LeadingAndTrailing(t *testing.T) {
	samples := concat(make([]float32, 500), constant(1000, 0.5), make([]float32, 500))
	regions := DetectSilence(samples, testRate, 0.01, 0.1)
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %v", regions)
	}
	if !approx(regions[0].Start, 0) || !approx(regions[0].End, 0.48) {
		t.Errorf("unexpected leading region %+v", regions[0])
	}
	if !approx(regions[1].Start, 1.5) || !approx(regions[1].End, 2.0) {
		t.Errorf("unexpected trailing region %+v", regions[1])
	}
}

func TestDetectSilence_MinDuration(t *testing.T) {
	samples := concat(constant(500, 0.5), make([]float32, 50), constant(500, 0.5))
	if regions := DetectSilence(samples, testRate, 0.01, 0.1); len(regions) != 0 {
		t.Errorf("short gap should be ignored, got %v", regions)
	}
	if regions := DetectSilence(samples, testRate, 0.01, 0.02); len(regions) != 1 {
		t.Errorf("expected gap to be reported with lower min duration, got %v", regions)
	}
}

func TestDetectSilence_ShortInput(t *testing.T) {
	regions := DetectSilence(make([]float32, 10), testRate, 0.01, 0.005)
	if len(regions) != 1 || !approx(regions[0].Start, 0) || !approx(regions[0].End, 0.01) {
		t.Errorf("sub-frame silent input should be one region, got %v", regions)
	}
	if regions := DetectSilence(make([]float32, 10), testRate, 0.01, 0.1); len(regions) != 0 {
		t.Errorf("sub-frame region below min duration should be dropped, got %v", regions)
	}
	if regions := DetectSilence(constant(10, 0.5), testRate, 0.01, 0.005); len(regions) != 0 {
		t.Errorf("sub-frame signal is not silence, got %v", regions)
	}
	if regions := DetectSilence(nil, testRate, 0.01, 0.1); regions != nil {
		t.Errorf("empty input should have no regions, got %v", regions)
	}
}

func TestTrimSilence_LeadingAndTrailing(t *testing.T) {
	samples := concat(make([]float32, 500), constant(1000, 0.5), make([]float32, 500))
	out := TrimSilence(samples, testRate, 0.01, 0.1)
	if len(out) != 1020 {
		t.Fatalf("expected 1020 samples, got %d", len(out))
	}
	if out[len(out)-1] != 0.5 {
		t.Errorf("expected trimmed output to end in signal, got %f", out[len(out)-1])
	}
}

func TestTrimSilence_KeepsInterior(t *testing.T) {
	samples := concat(constant(500, 0.5), make([]float32, 500), constant(500, 0.5))
	out := TrimSilence(samples, testRate, 0.01, 0.1)
	if len(out) != len(samples) {
		t.Fatalf("interior silence must be kept: expected %d, got %d", len(samples), len(out))
	}
}

func TestTrimSilence_NoSilence(t *testing.T) {
	samples := constant(1000, 0.5)
	out := TrimSilence(samples, testRate, 0.01, 0.1)
	if len(out) != len(samples) {
		t.Fatalf("expected unchanged length %d, got %d", len(samples), len(out))
	}
}

func TestTrimSilence_AllSilent(t *testing.T) {
	out := TrimSilence(make([]float32, 1000), testRate, 0.01, 0.1)
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(out))
	}
}

func TestTrimSilence_ShortInput(t *testing.T) {
	if out := TrimSilence(make([]float32, 10), testRate, 0.01, 0.1); len(out) != 0 {
		t.Errorf("sub-frame silent input should trim to empty, got %d samples", len(out))
	}
	if out := TrimSilence(constant(10, 0.5), testRate, 0.01, 0.1); len(out) != 10 {
		t.Errorf("sub-frame signal should be kept, got %d samples", len(out))
	}
}

func TestAddSilence(t *testing.T) {
	in := constant(10, 0.3)
	tests := []struct {
		pos        SilencePosition
		want, lead int
	}{
		{SilenceStart, 60, 50},
		{SilenceEnd, 60, 0},
		{SilenceBoth, 110, 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			out, err := AddSilence(in, 100, 0.5, tt.pos)
			if err != nil {
				t.Fatalf("AddSilence: %v", err)
			}
			if len(out) != tt.want {
				t.Fatalf("expected %d samples, got %d", tt.want, len(out))
			}
			if out[tt.lead] != 0.3 {
				t.Errorf("expected signal at %d, got %f", tt.lead, out[tt.lead])
			}
			if tt.lead > 0 && out[tt.lead-1] != 0 {
				t.Errorf("expected silence before %d", tt.lead)
			}
		})
	}
}

func TestAddSilence_Invalid(t *testing.T) {
	var ie *InputError
	if _, err := AddSilence(nil, 100, -1, SilenceStart); !errors.As(err, &ie) {
		t.Errorf("expected *InputError for negative duration, got %v", err)
	}
	if _, err := AddSilence(nil, 100, 1, "middle"); err == nil {
		t.Error("expected error for unknown position")
	}
}

func TestNormalizeLevel(t *testing.T) {
	out := NormalizeLevel(constant(100, 0.1), -20)
	if math.Abs(RMS(out)-0.1) > 1e-6 {
		t.Errorf("expected RMS 0.1 at -20 dBFS, got %f", RMS(out))
	}

	out = NormalizeLevel(constant(100, 0.1), -6)
	want := math.Pow(10, -6.0/20)
	if math.Abs(RMS(out)-want) > 1e-5 {
		t.Errorf("expected RMS %f, got %f", want, RMS(out))
	}
}

func TestNormalizeLevel_PreventsClipping(t *testing.T) {
	in := []float32{0.1, 0.1, 0.1, 1.0}
	out := NormalizeLevel(in, 0)
	if p := Peak(out); math.Abs(p-1.0) > 1e-6 {
		t.Errorf("expected peak rescaled to 1.0, got %f", p)
	}
	if in[3] != 1.0 {
		t.Error("input must not be modified")
	}
}

func TestNormalizeLevel_Silent(t *testing.T) {
	out := NormalizeLevel(make([]float32, 10), -20)
	if Peak(out) != 0 {
		t.Error("silent input should stay silent")
	}
}

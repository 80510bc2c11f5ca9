package narrate

import "testing"

func TestNewTracker_InitialStageIsPending(t *testing.T) {
	tr := NewTracker("job", nil)
	if tr.Current() != StagePending {
		t.Fatalf("expected initial stage Pending, got %s", tr.Current())
	}
}

func TestTracker_StitchedPath(t *testing.T) {
	var seen []Stage
	tr := NewTracker("job", func(job string, from, to Stage) {
		if job != "job" {
			t.Errorf("callback got job %q", job)
		}
		seen = append(seen, to)
	})

	path := []Stage{StageSegmenting, StageSynthesizing, StageStitching, StageWriting, StageDone}
	for _, s := range path {
		if !tr.Advance(s) {
			t.Fatalf("transition to %s should be valid", s)
		}
	}
	if len(seen) != len(path) {
		t.Fatalf("expected %d callbacks, got %d", len(path), len(seen))
	}
}

func TestTracker_UnstitchedPath(t *testing.T) {
	tr := NewTracker("job", nil)
	for _, s := range []Stage{StageSegmenting, StageSynthesizing, StageWriting, StageDone} {
		if !tr.Advance(s) {
			t.Fatalf("transition to %s should be valid", s)
		}
	}
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Stage
		to   Stage
	}{
		{"skip segmenting", nil, StageSynthesizing},
		{"pending to done", nil, StageDone},
		{"back to segmenting", []Stage{StageSegmenting, StageSynthesizing}, StageSegmenting},
		{"stitch twice", []Stage{StageSegmenting, StageSynthesizing, StageStitching}, StageStitching},
		{"fail after done", []Stage{StageSegmenting, StageSynthesizing, StageWriting, StageDone}, StageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("job", nil)
			for _, s := range tt.path {
				tr.Advance(s)
			}
			before := tr.Current()
			if tr.Advance(tt.to) {
				t.Errorf("transition %s → %s should be invalid", before, tt.to)
			}
			if tr.Current() != before {
				t.Errorf("stage should remain %s, got %s", before, tr.Current())
			}
		})
	}
}

func TestTracker_FailFromAnyActiveStage(t *testing.T) {
	for _, upto := range []int{0, 1, 2, 3, 4} {
		tr := NewTracker("job", nil)
		path := []Stage{StageSegmenting, StageSynthesizing, StageStitching, StageWriting}
		for _, s := range path[:upto] {
			tr.Advance(s)
		}
		if !tr.Advance(StageFailed) {
			t.Errorf("Failed should be reachable from %s", tr.Current())
		}
	}
}

func TestStage_String(t *testing.T) {
	if StageStitching.String() != "Stitching" {
		t.Errorf("got %q", StageStitching.String())
	}
	if Stage(99).String() != "Unknown" {
		t.Errorf("got %q", Stage(99).String())
	}
}

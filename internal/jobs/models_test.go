package jobs

import "testing"

func boolPtr(v bool) *bool { return &v }

func TestDeriveStatus(t *testing.T) {
	disabled := Options{EnableDiarization: boolPtr(false), EnableSummarization: boolPtr(false)}

	cases := []struct {
		name string
		set  ArtifactSet
		opts Options
		want Status
	}{
		{name: "empty job is queued", want: StatusQueued},
		{name: "error wins over everything", set: ArtifactSet{Error: true, Summary: true, Transcription: true}, want: StatusFailed},
		{name: "summary completes", set: ArtifactSet{Transcription: true, Summary: true}, want: StatusCompleted},
		{name: "completion record completes", set: ArtifactSet{Transcription: true, Completed: true}, want: StatusCompleted},
		{name: "transcription only with optional stages disabled completes", set: ArtifactSet{Transcription: true}, opts: disabled, want: StatusCompleted},
		{name: "transcription only with stages enabled is processing", set: ArtifactSet{Transcription: true}, want: StatusProcessing},
		{name: "progress only is processing", set: ArtifactSet{Progress: true}, want: StatusProcessing},
		{name: "audio only is queued", set: ArtifactSet{Audio: true}, want: StatusQueued},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.set, tc.opts); got != tc.want {
				t.Fatalf("DeriveStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestOptionsDefaultEnabled(t *testing.T) {
	var opts Options
	if !opts.DiarizationEnabled() {
		t.Fatal("diarization should default to enabled")
	}
	if !opts.SummarizationEnabled() {
		t.Fatal("summarization should default to enabled")
	}
	opts.EnableDiarization = boolPtr(false)
	if opts.DiarizationEnabled() {
		t.Fatal("explicit false should disable diarization")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("  Completed "); !ok || status != StatusCompleted {
		t.Fatalf("ParseStatus(Completed) = %s, %v", status, ok)
	}
	if _, ok := ParseStatus("archived"); ok {
		t.Fatal("unknown status should not parse")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("empty status should not parse")
	}
}

func TestStatusForStage(t *testing.T) {
	cases := map[Stage]Status{
		StageNotStarted:            StatusQueued,
		StageTranscribing:          StatusProcessing,
		StageTranscriptionComplete: StatusProcessing,
		StageDiarizing:             StatusProcessing,
		StageDiarizationComplete:   StatusProcessing,
		StageSummarizing:           StatusProcessing,
		StageComplete:              StatusCompleted,
		StageFailed:                StatusFailed,
	}
	for stage, want := range cases {
		if got := StatusForStage(stage); got != want {
			t.Fatalf("StatusForStage(%s) = %s, want %s", stage, got, want)
		}
	}
}

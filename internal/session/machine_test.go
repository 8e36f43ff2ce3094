package session

import (
	"testing"

	"go-image-filter/pkg/models"
)

var testImage = []byte{0xFF, 0xD8, 0xFF, 0xE0}

func idleSnapshot(seq uint64) Snapshot {
	return Snapshot{
		Status:     models.StatusIdle,
		Algorithm:  models.AlgorithmNone,
		KernelSize: models.DefaultKernelSize,
		Seq:        seq,
	}
}

func TestMachine_InitialState(t *testing.T) {
	if got := NewMachine().Current(); got != idleSnapshot(0) {
		t.Errorf("expected idle snapshot, got %+v", got)
	}
}

func TestMachine_ResetFromAnyState(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
	}{
		{name: "idle", events: nil},
		{name: "file only", events: []Event{FileSelected{Image: testImage, Filename: "a.jpg", OriginalURI: "/o"}}},
		{name: "loading", events: []Event{
			FileSelected{Image: testImage},
			AlgorithmSelected{Algorithm: models.AlgorithmMedian},
		}},
		{name: "success", events: []Event{
			FileSelected{Image: testImage},
			AlgorithmSelected{Algorithm: models.AlgorithmMedian},
			KernelSizeSelected{Size: 7},
			Resolved{Seq: 2, Result: models.Ok("XYZ")},
		}},
		{name: "error", events: []Event{
			FileSelected{Image: testImage},
			AlgorithmSelected{Algorithm: models.AlgorithmCanny, Canny: &models.CannyParams{Sigma: 2}},
			Resolved{Seq: 1, Result: models.Err(models.ErrorKindTransport, "boom")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tt.events {
				m.Dispatch(ev)
			}
			seq := m.Current().Seq

			out := m.Dispatch(Reset{})
			if out.Command != nil {
				t.Error("reset must not issue a request")
			}
			if out.Snapshot != idleSnapshot(seq) {
				t.Errorf("expected %+v, got %+v", idleSnapshot(seq), out.Snapshot)
			}
			if m.Image() != nil {
				t.Error("reset must drop the selected file")
			}

			// idempotent
			if again := m.Dispatch(Reset{}).Snapshot; again != out.Snapshot {
				t.Errorf("second reset changed state: %+v", again)
			}
		})
	}
}

func TestMachine_MedianScenario(t *testing.T) {
	m := NewMachine()

	out := m.Dispatch(FileSelected{Image: testImage, Filename: "cat.jpg", OriginalURI: "/sessions/x/original"})
	if out.Command != nil {
		t.Fatal("file alone must not issue a request")
	}
	if out.Snapshot.Images.Original != "/sessions/x/original" || out.Snapshot.Images.Processed != "" {
		t.Errorf("unexpected images %+v", out.Snapshot.Images)
	}

	out = m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmMedian})
	if out.Command == nil || out.Snapshot.Status != models.StatusLoading {
		t.Fatalf("expected a request and loading status, got %+v", out)
	}

	out = m.Dispatch(KernelSizeSelected{Size: 5})
	if out.Command == nil {
		t.Fatal("kernel change must issue a request")
	}
	req := out.Command.Request
	if req.Algorithm != models.AlgorithmMedian || req.KernelSize != 5 || req.Seq != 2 || req.Filename != "cat.jpg" {
		t.Errorf("unexpected request %+v", req)
	}
	if string(req.Image) != string(testImage) {
		t.Error("request must carry the selected image")
	}

	out = m.Dispatch(Resolved{Seq: req.Seq, Result: models.Ok("XYZ")})
	if out.Stale {
		t.Fatal("latest response must not be stale")
	}
	if out.Snapshot.Status != models.StatusSuccess {
		t.Errorf("expected success, got %s", out.Snapshot.Status)
	}
	if out.Snapshot.Images.Processed != "data:image/jpeg;base64,XYZ" {
		t.Errorf("unexpected processed image %q", out.Snapshot.Images.Processed)
	}
}

func TestMachine_CannyFailureScenario(t *testing.T) {
	m := NewMachine()
	m.Dispatch(FileSelected{Image: testImage})
	out := m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmCanny, Canny: &models.CannyParams{LowThreshold: 10, HighThreshold: 20}})
	if out.Command == nil {
		t.Fatal("expected a request")
	}
	if c := out.Command.Request.Canny; c == nil || c.LowThreshold != 10 || c.HighThreshold != 20 {
		t.Errorf("expected canny parameters in request, got %+v", c)
	}

	out = m.Dispatch(Resolved{Seq: out.Command.Request.Seq, Result: models.Err(models.ErrorKindTransport, "boom")})
	if out.Snapshot.Status != models.StatusError {
		t.Errorf("expected error, got %s", out.Snapshot.Status)
	}
	if out.Snapshot.Images.Processed != "" {
		t.Errorf("processed image must remain unset, got %q", out.Snapshot.Images.Processed)
	}
	if out.Snapshot.ErrorKind != models.ErrorKindTransport || out.Snapshot.Message != "boom" {
		t.Errorf("unexpected error fields %+v", out.Snapshot)
	}
}

func TestMachine_StaleResponsesIgnored(t *testing.T) {
	m := NewMachine()
	m.Dispatch(FileSelected{Image: testImage})
	first := m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmMedian}).Command.Request
	second := m.Dispatch(KernelSizeSelected{Size: 9}).Command.Request

	if second.Seq <= first.Seq {
		t.Fatalf("sequence numbers must increase: %d then %d", first.Seq, second.Seq)
	}

	// the superseded response arrives last but must not win
	m.Dispatch(Resolved{Seq: second.Seq, Result: models.Ok("NEW")})
	out := m.Dispatch(Resolved{Seq: first.Seq, Result: models.Ok("OLD")})
	if !out.Stale {
		t.Error("older response must be stale")
	}
	if out.Snapshot.Images.Processed != "data:image/jpeg;base64,NEW" {
		t.Errorf("stale response overwrote result: %q", out.Snapshot.Images.Processed)
	}

	// superseded response arriving first is also ignored
	third := m.Dispatch(KernelSizeSelected{Size: 3}).Command.Request
	fourth := m.Dispatch(KernelSizeSelected{Size: 5}).Command.Request
	if out := m.Dispatch(Resolved{Seq: third.Seq, Result: models.Err(models.ErrorKindTransport, "late")}); !out.Stale {
		t.Error("superseded failure must be stale")
	}
	if m.Current().Status != models.StatusLoading {
		t.Errorf("expected loading until seq %d resolves, got %s", fourth.Seq, m.Current().Status)
	}
}

func TestMachine_ResultAfterResetIsStale(t *testing.T) {
	m := NewMachine()
	m.Dispatch(FileSelected{Image: testImage})
	req := m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmMedian}).Command.Request
	m.Dispatch(Reset{})

	out := m.Dispatch(Resolved{Seq: req.Seq, Result: models.Ok("XYZ")})
	if !out.Stale {
		t.Error("result of a request issued before reset must be stale")
	}
	if out.Snapshot != idleSnapshot(req.Seq) {
		t.Errorf("state changed after reset: %+v", out.Snapshot)
	}
}

func TestMachine_NoRequestWithoutInputs(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
	}{
		{name: "algorithm without file", events: []Event{AlgorithmSelected{Algorithm: models.AlgorithmMedian}}},
		{name: "kernel without algorithm", events: []Event{FileSelected{Image: testImage}, KernelSizeSelected{Size: 5}}},
		{name: "submit without algorithm", events: []Event{FileSelected{Image: testImage}, Submit{}}},
		{name: "empty file ignored", events: []Event{AlgorithmSelected{Algorithm: models.AlgorithmMedian}, FileSelected{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tt.events {
				if out := m.Dispatch(ev); out.Command != nil {
					t.Fatalf("%s issued a request", EventName(ev))
				}
			}
			if m.Current().Status != models.StatusIdle {
				t.Errorf("expected idle, got %s", m.Current().Status)
			}
		})
	}
}

func TestMachine_UnchangedSelectionDoesNotRetrigger(t *testing.T) {
	m := NewMachine()
	m.Dispatch(FileSelected{Image: testImage})
	m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmMedian})

	if out := m.Dispatch(AlgorithmSelected{Algorithm: models.AlgorithmMedian}); out.Command != nil {
		t.Error("same algorithm must not issue a request")
	}
	if out := m.Dispatch(KernelSizeSelected{Size: models.DefaultKernelSize}); out.Command != nil {
		t.Error("same kernel size must not issue a request")
	}
	if out := m.Dispatch(Submit{}); out.Command == nil {
		t.Error("submit must always issue a request when inputs are complete")
	}
}

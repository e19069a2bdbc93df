package domain

import (
	"errors"
	"testing"
)

func TestRenderModeNextIsForwardOnly(t *testing.T) {
	mode := RenderRich
	visited := []RenderMode{mode}
	for {
		next, ok := mode.Next()
		if !ok {
			break
		}
		if next <= mode {
			t.Fatalf("mode %v moved backwards to %v", mode, next)
		}
		visited = append(visited, next)
		mode = next
	}
	if len(visited) != len(AllRenderModes) {
		t.Fatalf("expected %d modes, visited %d", len(AllRenderModes), len(visited))
	}
	for i, m := range AllRenderModes {
		if visited[i] != m {
			t.Fatalf("mode %d: got %v, want %v", i, visited[i], m)
		}
	}
	if _, ok := RenderPlain.Next(); ok {
		t.Fatal("plain must be the last mode")
	}
}

func TestPositionOf(t *testing.T) {
	tests := []struct {
		index, total int
		want         ChunkPosition
	}{
		{0, 1, PositionOnly},
		{0, 3, PositionFirst},
		{1, 3, PositionMiddle},
		{2, 3, PositionLast},
		{1, 2, PositionLast},
	}
	for _, tt := range tests {
		if got := PositionOf(tt.index, tt.total); got != tt.want {
			t.Fatalf("PositionOf(%d, %d) = %v, want %v", tt.index, tt.total, got, tt.want)
		}
	}
}

func TestDeliveryReport(t *testing.T) {
	boom := errors.New("boom")
	report := DeliveryReport{
		Outcomes: []DeliveryOutcome{
			{Index: 0, Mode: RenderSanitized, Attempts: []RenderMode{RenderRich, RenderSanitized}},
			{Index: 1, Mode: RenderRich, Attempts: []RenderMode{RenderRich}, Err: boom},
			{Index: 2, Mode: RenderRich, Attempts: []RenderMode{RenderRich}},
		},
		Failed: []int{1},
	}
	if report.Status() != DeliveryPartiallyFailed {
		t.Fatalf("expected partially failed, got %v", report.Status())
	}
	modes := report.Modes()
	if len(modes) != 2 || modes[0] != RenderSanitized || modes[1] != RenderRich {
		t.Fatalf("unexpected modes %v", modes)
	}
	err := report.Err()
	if !errors.Is(err, boom) {
		t.Fatalf("partial error must unwrap to the chunk error, got %v", err)
	}
	if err.Error() != "delivered 2 of 3 chunks, failed: 2: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if (DeliveryReport{Outcomes: report.Outcomes[:1]}).Err() != nil {
		t.Fatal("full delivery must not produce an error")
	}
}

func TestDeliveredRequiresAnAttempt(t *testing.T) {
	if (DeliveryOutcome{}).Delivered() {
		t.Fatal("outcome without attempts is not delivered")
	}
}

package pipeline

import (
	"testing"

	"github.com/Adnuntius/ASgard/internal/models"
)

func testAllocations() []models.AsnAllocation {
	return []models.AsnAllocation{
		{StartASN: 10, Count: 3},
		{StartASN: 20, Count: 2},
		{StartASN: 30, Count: 1},
	}
}

func drain(sequence *PendingSequence) []int64 {
	var out []int64
	for {
		asn, ok := sequence.Next()
		if !ok {
			return out
		}
		out = append(out, asn)
	}
}

func TestPendingSequenceWalksAllocations(t *testing.T) {
	got := drain(NewPendingSequence(testAllocations(), nil, 0, 0))
	want := []int64{10, 11, 12, 20, 21, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPendingSequenceStartsMidAllocation(t *testing.T) {
	got := drain(NewPendingSequence(testAllocations(), nil, 11, 0))
	if len(got) == 0 || got[0] != 11 {
		t.Fatalf("got %v, want start at 11", got)
	}
	if len(got) != 5 {
		t.Errorf("got %v", got)
	}
}

func TestPendingSequenceSkipsExcluded(t *testing.T) {
	exclude := map[int64]struct{}{11: {}, 20: {}}
	got := drain(NewPendingSequence(testAllocations(), exclude, 0, 0))
	for _, asn := range got {
		if _, skipped := exclude[asn]; skipped {
			t.Errorf("excluded ASN %d returned", asn)
		}
	}
	if len(got) != 4 {
		t.Errorf("got %v", got)
	}
}

func TestPendingSequenceHonorsLimit(t *testing.T) {
	got := drain(NewPendingSequence(testAllocations(), nil, 0, 2))
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("got %v", got)
	}
}

func TestPendingSequenceStartBeyondAllocations(t *testing.T) {
	if got := drain(NewPendingSequence(testAllocations(), nil, 100, 0)); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestCountPending(t *testing.T) {
	exclude := map[int64]struct{}{10: {}}
	if got := CountPending(testAllocations(), exclude, 0, 0); got != 5 {
		t.Errorf("count = %d", got)
	}
	if got := CountPending(testAllocations(), nil, 0, 3); got != 3 {
		t.Errorf("limited count = %d", got)
	}
}

func TestFirstMissing(t *testing.T) {
	processed := map[int64]struct{}{10: {}, 11: {}}
	if got := FirstMissing(testAllocations(), processed); got != 12 {
		t.Errorf("FirstMissing = %d", got)
	}
}

func TestFirstMissingComplete(t *testing.T) {
	processed := make(map[int64]struct{})
	for _, asn := range []int64{10, 11, 12, 20, 21, 30} {
		processed[asn] = struct{}{}
	}
	if got := FirstMissing(testAllocations(), processed); got != -1 {
		t.Errorf("FirstMissing = %d", got)
	}
}

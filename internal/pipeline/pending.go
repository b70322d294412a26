package pipeline

import (
	"github.com/Adnuntius/ASgard/internal/models"
)

// PendingSequence iterates the allocated ASN space lazily, skipping already
// classified ASNs, starting at the resume point and honoring an optional
// limit. Allocations must be sorted by start ASN.
type PendingSequence struct {
	allocations []models.AsnAllocation
	exclude     map[int64]struct{}
	startAt     int64
	remaining   int64

	index      int
	cursor     int64
	positioned bool
}

// NewPendingSequence returns a sequence over allocations excluding the given
// ASNs. A limit of zero or less means unlimited.
func NewPendingSequence(allocations []models.AsnAllocation, exclude map[int64]struct{},
	startAt, limit int64) *PendingSequence {
	if limit <= 0 {
		limit = int64(^uint64(0) >> 1)
	}
	return &PendingSequence{
		allocations: allocations,
		exclude:     exclude,
		startAt:     startAt,
		remaining:   limit,
	}
}

// Next returns the next pending ASN, or false when the sequence is
// exhausted.
func (s *PendingSequence) Next() (int64, bool) {
	if s.remaining <= 0 {
		return 0, false
	}
	if !s.positioned {
		s.seekToStart()
		s.positioned = true
	}
	for s.index < len(s.allocations) {
		allocation := s.allocations[s.index]
		if s.cursor > allocation.EndASN() {
			s.index++
			if s.index < len(s.allocations) {
				s.cursor = s.allocations[s.index].StartASN
			}
			continue
		}
		candidate := s.cursor
		s.cursor++
		if _, skip := s.exclude[candidate]; skip {
			continue
		}
		s.remaining--
		return candidate, true
	}
	return 0, false
}

func (s *PendingSequence) seekToStart() {
	for s.index < len(s.allocations) {
		allocation := s.allocations[s.index]
		if allocation.EndASN() < s.startAt {
			s.index++
			continue
		}
		s.cursor = allocation.StartASN
		if s.startAt > s.cursor {
			s.cursor = s.startAt
		}
		return
	}
}

// CountPending walks the sequence without consuming the receiver and returns
// how many ASNs a run would process.
func CountPending(allocations []models.AsnAllocation, exclude map[int64]struct{},
	startAt, limit int64) int64 {
	sequence := NewPendingSequence(allocations, exclude, startAt, limit)
	var count int64
	for {
		if _, ok := sequence.Next(); !ok {
			return count
		}
		count++
	}
}

// FirstMissing returns the lowest allocated ASN not yet classified, or -1
// when every allocated ASN is done.
func FirstMissing(allocations []models.AsnAllocation, processed map[int64]struct{}) int64 {
	for _, allocation := range allocations {
		for asn := allocation.StartASN; asn <= allocation.EndASN(); asn++ {
			if _, done := processed[asn]; !done {
				return asn
			}
		}
	}
	return -1
}

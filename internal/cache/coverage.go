package cache

import (
	"sort"
	"sync"
	"time"
)

// CoverageLevel grades how much of an interval is backed by confirmed data.
type CoverageLevel int

const (
	CoverageMissing CoverageLevel = iota
	CoveragePartial
	CoverageFull
)

func (l CoverageLevel) String() string {
	switch l {
	case CoverageFull:
		return "full"
	case CoveragePartial:
		return "partial"
	default:
		return "missing"
	}
}

// Span is a half-open interval [Start, End) in unix milliseconds.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Interval is a span graded with a coverage level.
type Interval struct {
	Span
	Level CoverageLevel
}

// CoverageIndex records which sub-ranges of one (kind, symbol, subKey) series
// are fully present, partially present, or missing. Storage is an ordered set
// of disjoint non-missing intervals aligned to the kind's bucket; anything not
// covered by an interval is missing. The index outlives the in-memory pages it
// describes.
type CoverageIndex struct {
	mu       sync.RWMutex
	bucketMs int64
	spans    []Interval
}

// NewCoverageIndex creates an empty index with the given bucket granularity.
func NewCoverageIndex(bucket time.Duration) *CoverageIndex {
	bucketMs := bucket.Milliseconds()
	if bucketMs <= 0 {
		bucketMs = 1
	}

	return &CoverageIndex{bucketMs: bucketMs}
}

// Merge inserts a newly-confirmed extent. Overlapping intervals are split so
// the index stays disjoint and ordered; on overlap the higher level wins, so
// merging with CoverageMissing never downgrades anything.
func (x *CoverageIndex) Merge(start, end time.Time, level CoverageLevel) {
	s := alignDown(start.UnixMilli(), x.bucketMs)
	e := alignUp(end.UnixMilli(), x.bucketMs)

	if e <= s {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	candidates := make([]Interval, 0, len(x.spans)+1)
	candidates = append(candidates, x.spans...)

	if level > CoverageMissing {
		candidates = append(candidates, Interval{Span: Span{Start: s, End: e}, Level: level})
	}

	x.spans = flatten(candidates)
}

// QueryGaps returns the maximal disjoint sub-intervals of [start, end) that
// are not fully covered. Adjacent missing and partial stretches coalesce into
// one gap. The range is rounded outward to buckets first, so a gap smaller
// than one bucket never occurs.
func (x *CoverageIndex) QueryGaps(start, end time.Time) []Span {
	s := alignDown(start.UnixMilli(), x.bucketMs)
	e := alignUp(end.UnixMilli(), x.bucketMs)

	if e <= s {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var gaps []Span

	cursor := s

	for _, iv := range x.spans {
		if iv.Level != CoverageFull || iv.End <= cursor {
			continue
		}

		if iv.Start >= e {
			break
		}

		if iv.Start > cursor {
			gaps = append(gaps, Span{Start: cursor, End: min64(iv.Start, e)})
		}

		if iv.End > cursor {
			cursor = iv.End
		}

		if cursor >= e {
			break
		}
	}

	if cursor < e {
		gaps = append(gaps, Span{Start: cursor, End: e})
	}

	return gaps
}

// FullyCovered reports whether [start, end) is entirely at full coverage.
func (x *CoverageIndex) FullyCovered(start, end time.Time) bool {
	return len(x.QueryGaps(start, end)) == 0
}

// Snapshot returns a copy of the stored intervals, ordered by start.
func (x *CoverageIndex) Snapshot() []Interval {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Interval, len(x.spans))
	copy(out, x.spans)

	return out
}

// flatten rebuilds a disjoint ordered interval set from possibly-overlapping
// candidates, taking the highest level wherever candidates overlap.
func flatten(candidates []Interval) []Interval {
	if len(candidates) == 0 {
		return nil
	}

	bounds := make([]int64, 0, len(candidates)*2)
	for _, c := range candidates {
		bounds = append(bounds, c.Start, c.End)
	}

	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })
	bounds = dedupInt64(bounds)

	out := make([]Interval, 0, len(candidates))

	for i := 0; i+1 < len(bounds); i++ {
		seg := Span{Start: bounds[i], End: bounds[i+1]}
		level := CoverageMissing

		for _, c := range candidates {
			if c.Start < seg.End && c.End > seg.Start && c.Level > level {
				level = c.Level
			}
		}

		if level == CoverageMissing {
			continue
		}

		// Coalesce with the previous segment when contiguous at the same level.
		if n := len(out); n > 0 && out[n-1].End == seg.Start && out[n-1].Level == level {
			out[n-1].End = seg.End
			continue
		}

		out = append(out, Interval{Span: seg, Level: level})
	}

	return out
}

func dedupInt64(sorted []int64) []int64 {
	out := sorted[:0]

	for i, v := range sorted {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CoverageTestSuite struct {
	suite.Suite
}

func TestCoverageSuite(t *testing.T) {
	suite.Run(t, new(CoverageTestSuite))
}

func (s *CoverageTestSuite) hour(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
}

func (s *CoverageTestSuite) TestEmptyIndexIsOneGap() {
	idx := NewCoverageIndex(time.Hour)

	gaps := idx.QueryGaps(s.hour(0), s.hour(4))
	s.Require().Len(gaps, 1)
	s.Equal(s.hour(0).UnixMilli(), gaps[0].Start)
	s.Equal(s.hour(4).UnixMilli(), gaps[0].End)
	s.False(idx.FullyCovered(s.hour(0), s.hour(4)))
}

func (s *CoverageTestSuite) TestMergeFullCoversRange() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(4), CoverageFull)

	s.True(idx.FullyCovered(s.hour(0), s.hour(4)))
	s.True(idx.FullyCovered(s.hour(1), s.hour(3)))
	s.Empty(idx.QueryGaps(s.hour(1), s.hour(3)))
}

func (s *CoverageTestSuite) TestGapBetweenTwoExtents() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(2), CoverageFull)
	idx.Merge(s.hour(5), s.hour(7), CoverageFull)

	gaps := idx.QueryGaps(s.hour(0), s.hour(7))
	s.Require().Len(gaps, 1)
	s.Equal(s.hour(2).UnixMilli(), gaps[0].Start)
	s.Equal(s.hour(5).UnixMilli(), gaps[0].End)
}

func (s *CoverageTestSuite) TestPartialDoesNotSatisfyQueries() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(4), CoveragePartial)

	// Partial coverage is recorded but a full-coverage query still sees a gap.
	gaps := idx.QueryGaps(s.hour(0), s.hour(4))
	s.Require().Len(gaps, 1)
	s.Equal(s.hour(0).UnixMilli(), gaps[0].Start)
	s.Equal(s.hour(4).UnixMilli(), gaps[0].End)

	snapshot := idx.Snapshot()
	s.Require().Len(snapshot, 1)
	s.Equal(CoveragePartial, snapshot[0].Level)
}

func (s *CoverageTestSuite) TestFullDominatesPartialOnOverlap() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(6), CoveragePartial)
	idx.Merge(s.hour(2), s.hour(4), CoverageFull)

	snapshot := idx.Snapshot()
	s.Require().Len(snapshot, 3)
	s.Equal(CoveragePartial, snapshot[0].Level)
	s.Equal(CoverageFull, snapshot[1].Level)
	s.Equal(CoveragePartial, snapshot[2].Level)

	// Merging partial back over the full stretch never downgrades it.
	idx.Merge(s.hour(0), s.hour(6), CoveragePartial)
	snapshot = idx.Snapshot()
	s.Require().Len(snapshot, 3)
	s.Equal(CoverageFull, snapshot[1].Level)
}

func (s *CoverageTestSuite) TestMergeMissingIsNoOp() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(2), CoverageFull)
	idx.Merge(s.hour(0), s.hour(2), CoverageMissing)

	s.True(idx.FullyCovered(s.hour(0), s.hour(2)))
}

func (s *CoverageTestSuite) TestAdjacentFullExtentsCoalesce() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(2), CoverageFull)
	idx.Merge(s.hour(2), s.hour(4), CoverageFull)

	snapshot := idx.Snapshot()
	s.Require().Len(snapshot, 1)
	s.Equal(s.hour(0).UnixMilli(), snapshot[0].Start)
	s.Equal(s.hour(4).UnixMilli(), snapshot[0].End)
}

func (s *CoverageTestSuite) TestQueryRoundsOutwardToBuckets() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(0), s.hour(1), CoverageFull)

	// A query for a sliver inside the second hour expands to the full bucket.
	gaps := idx.QueryGaps(s.hour(1).Add(10*time.Minute), s.hour(1).Add(20*time.Minute))
	s.Require().Len(gaps, 1)
	s.Equal(s.hour(1).UnixMilli(), gaps[0].Start)
	s.Equal(s.hour(2).UnixMilli(), gaps[0].End)
}

func (s *CoverageTestSuite) TestGapsFillRoundTrip() {
	idx := NewCoverageIndex(time.Hour)
	idx.Merge(s.hour(1), s.hour(2), CoverageFull)
	idx.Merge(s.hour(4), s.hour(6), CoverageFull)
	idx.Merge(s.hour(9), s.hour(10), CoverageFull)

	// Filling every reported gap must yield full coverage.
	for _, gap := range idx.QueryGaps(s.hour(0), s.hour(12)) {
		idx.Merge(time.UnixMilli(gap.Start), time.UnixMilli(gap.End), CoverageFull)
	}

	s.True(idx.FullyCovered(s.hour(0), s.hour(12)))

	snapshot := idx.Snapshot()
	s.Require().Len(snapshot, 1)
}

func (s *CoverageTestSuite) TestCoarseBucketRounding() {
	day30 := 30 * 24 * time.Hour
	idx := NewCoverageIndex(day30)

	start := time.UnixMilli(0).UTC()
	idx.Merge(start.Add(5*24*time.Hour), start.Add(7*24*time.Hour), CoverageFull)

	// The merge rounds outward to one thirty-day bucket.
	s.True(idx.FullyCovered(start, start.Add(day30)))
}

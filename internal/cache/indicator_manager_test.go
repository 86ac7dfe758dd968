package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Schwaller/tradery/internal/indicator"
	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// keyedListener records the key delivered with every callback.
type keyedListener struct {
	mu       sync.Mutex
	dataKeys []PageKey
	errKeys  []PageKey
}

func (l *keyedListener) OnStateChanged(key PageKey, _, newState types.PageState) {
	if newState != types.PageStateError {
		return
	}

	l.mu.Lock()
	l.errKeys = append(l.errKeys, key)
	l.mu.Unlock()
}

func (l *keyedListener) OnDataChanged(key PageKey) {
	l.mu.Lock()
	l.dataKeys = append(l.dataKeys, key)
	l.mu.Unlock()
}

func (l *keyedListener) data() []PageKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]PageKey, len(l.dataKeys))
	copy(out, l.dataKeys)

	return out
}

func (l *keyedListener) errs() []PageKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]PageKey, len(l.errKeys))
	copy(out, l.errKeys)

	return out
}

type IndicatorManagerTestSuite struct {
	suite.Suite

	backend    *fakeBackend
	source     *Manager[types.Candle]
	indicators *IndicatorManager
}

func TestIndicatorManagerSuite(t *testing.T) {
	suite.Run(t, new(IndicatorManagerTestSuite))
}

func (s *IndicatorManagerTestSuite) SetupTest() {
	s.backend = newFakeBackend()

	events := NewEventLog(0)
	s.source = NewManager[types.Candle](
		types.DataKindCandles, s.backend, nil,
		Options{Workers: 2, GracePeriod: time.Hour, SweepInterval: time.Hour},
		logger.NewNopLogger(), events, NewMetrics(nil),
	)
	s.source.Start(context.Background())

	s.indicators = NewIndicatorManager(s.source, indicator.NewRegistry(), logger.NewNopLogger(), events)
}

func (s *IndicatorManagerTestSuite) TearDownTest() {
	s.source.Stop()
}

func (s *IndicatorManagerTestSuite) hour(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
}

// readySourcePage requests a candle page and waits for it to load.
func (s *IndicatorManagerTestSuite) readySourcePage(hours int) *Page[types.Candle] {
	page, err := s.source.Request("BTCUSDT", "1h", s.hour(0), s.hour(hours), nil, "chart-1")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return page.State() == types.PageStateReady
	}, 2*time.Second, 10*time.Millisecond)

	return page
}

func (s *IndicatorManagerTestSuite) TestSubscribeComputesFromReadySource() {
	src := s.readySourcePage(6)

	page, err := s.indicators.Subscribe(
		types.IndicatorTypeMA, indicator.Params{Period: 3}, src.Key(), nil, "chart-1",
	)
	s.Require().NoError(err)

	s.Equal(types.PageStateReady, page.State())

	values := page.Values()
	s.Require().Len(values, 6)
}

func (s *IndicatorManagerTestSuite) TestSubscribeBeforeSourceReady() {
	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	s.backend.gate = gate
	s.backend.entered = entered

	src, err := s.source.Request("BTCUSDT", "1h", s.hour(0), s.hour(4), nil, "chart-1")
	s.Require().NoError(err)
	<-entered

	page, err := s.indicators.Subscribe(
		types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1",
	)
	s.Require().NoError(err)
	s.Equal(types.PageStateEmpty, page.State())

	close(gate)

	// The derived page computes when the source reaches ready.
	s.Require().Eventually(func() bool {
		return page.State() == types.PageStateReady
	}, 2*time.Second, 10*time.Millisecond)

	s.Len(page.Values(), 4)
}

func (s *IndicatorManagerTestSuite) TestRecomputeExactlyOncePerReady() {
	src := s.readySourcePage(2)

	l := &recordingListener{}
	page, err := s.indicators.Subscribe(
		types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), l, "chart-1",
	)
	s.Require().NoError(err)
	s.Equal(types.PageStateReady, page.State())

	before := l.dataCount()

	// Growing the source range drives one update cycle and exactly one
	// recompute, regardless of how many fetch chunks the update merged.
	_, err = s.source.Request("BTCUSDT", "1h", s.hour(0), s.hour(5), nil, "chart-2")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return l.dataCount() == before+1
	}, 2*time.Second, 10*time.Millisecond)

	s.Len(page.Values(), 5)

	// Settle and confirm no extra recompute sneaks in behind the ready
	// transition.
	time.Sleep(100 * time.Millisecond)
	s.Equal(before+1, l.dataCount())
}

func (s *IndicatorManagerTestSuite) TestSameParamsShareDerivedPage() {
	src := s.readySourcePage(3)

	a, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)

	b, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-2")
	s.Require().NoError(err)

	s.Same(a, b)

	c, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 5}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)
	s.NotSame(a, c)
}

func (s *IndicatorManagerTestSuite) TestComputeFailureIsolatedToPage() {
	src := s.readySourcePage(3)

	// Period zero is rejected by the series; only this page moves to error.
	bad, err := s.indicators.Subscribe(types.IndicatorTypeRSI, indicator.Params{}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)
	s.Equal(types.PageStateError, bad.State())

	pageErr, optErr := bad.LastError().Take()
	s.Require().NoError(optErr)
	s.NotEmpty(pageErr.Message)

	good, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)
	s.Equal(types.PageStateReady, good.State())
	s.Equal(types.PageStateReady, src.State())
}

func (s *IndicatorManagerTestSuite) TestUnknownIndicatorRejected() {
	src := s.readySourcePage(2)

	_, err := s.indicators.Subscribe(types.IndicatorType("macd"), indicator.Params{}, src.Key(), nil, "chart-1")
	s.True(errors.HasCode(err, errors.ErrCodeIndicatorNotFound))
}

func (s *IndicatorManagerTestSuite) TestSubscribeRequiresResidentSource() {
	ghost := NewPageKey(types.DataKindCandles, "BTCUSDT", "1h", s.hour(0), s.hour(2))

	_, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, ghost, nil, "chart-1")
	s.True(errors.HasCode(err, errors.ErrCodeIndicatorSourceGone))
}

func (s *IndicatorManagerTestSuite) TestSourceEvictionDestroysDerivedPages() {
	src := s.readySourcePage(2)

	page, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)
	s.Equal(types.PageStateReady, page.State())

	s.source.Release(src, nil, "chart-1")
	s.source.sweep(time.Now().Add(2 * time.Hour))

	_, resident := s.source.Lookup(src.Key())
	s.Require().False(resident)

	// The derived page went with its source; a new subscription fails until
	// the source is requested again.
	_, err = s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.True(errors.HasCode(err, errors.ErrCodeIndicatorSourceGone))

	s.Empty(s.indicators.Snapshot())
}

func (s *IndicatorManagerTestSuite) TestListenerKeysIdentifyDerivedPage() {
	src := s.readySourcePage(4)

	l := &keyedListener{}

	fast, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), l, "chart-1")
	s.Require().NoError(err)

	slow, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 3}, src.Key(), l, "chart-1")
	s.Require().NoError(err)

	// One listener over two indicators on the same source page can tell the
	// notifications apart, and apart from the source page's own.
	keys := l.data()
	s.Require().Len(keys, 2)
	s.Equal(fast.Key().PageKey(), keys[0])
	s.Equal(slow.Key().PageKey(), keys[1])
	s.NotEqual(keys[0], keys[1])

	for _, key := range keys {
		s.Equal(types.DataKindIndicator, key.Kind)
		s.NotEqual(src.Key(), key)
	}

	// A computation failure reports the failing indicator's key, not the
	// source page's.
	bad, err := s.indicators.Subscribe(types.IndicatorTypeRSI, indicator.Params{}, src.Key(), l, "chart-1")
	s.Require().NoError(err)
	s.Equal(types.PageStateError, bad.State())

	errKeys := l.errs()
	s.Require().Len(errKeys, 1)
	s.Equal(bad.Key().PageKey(), errKeys[0])
	s.NotEqual(src.Key(), errKeys[0])
}

func (s *IndicatorManagerTestSuite) TestReleaseLogsOnlyActualRemovals() {
	src := s.readySourcePage(2)

	page, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)

	key := page.Key()

	// Releasing an identity that never registered leaves no trace.
	s.indicators.Release(key, nil, "never-registered")
	s.Zero(s.removedEvents(key))

	s.indicators.Release(key, nil, "chart-1")
	s.Equal(1, s.removedEvents(key))

	// A second release of the same identity has the same effect as one.
	s.indicators.Release(key, nil, "chart-1")
	s.Equal(1, s.removedEvents(key))
}

func (s *IndicatorManagerTestSuite) removedEvents(key IndicatorKey) int {
	count := 0

	for _, ev := range s.indicators.PageLog(key) {
		if ev.Type == EventListenerRemoved {
			count++
		}
	}

	return count
}

func (s *IndicatorManagerTestSuite) TestReleaseUnknownKeyIsNoOp() {
	src := s.readySourcePage(2)

	key := IndicatorKey{Type: types.IndicatorTypeMA, Params: indicator.Params{Period: 9}, Source: src.Key()}
	s.indicators.Release(key, nil, "chart-1")
}

func (s *IndicatorManagerTestSuite) TestSnapshotListsDerivedPages() {
	src := s.readySourcePage(2)

	_, err := s.indicators.Subscribe(types.IndicatorTypeMA, indicator.Params{Period: 2}, src.Key(), nil, "chart-1")
	s.Require().NoError(err)

	infos := s.indicators.Snapshot()
	s.Require().Len(infos, 1)
	s.Equal(types.DataKindIndicator, infos[0].Kind)
	s.Equal(types.PageStateReady, infos[0].State)
	s.Equal(2, infos[0].Records)
	s.Equal([]string{"chart-1"}, infos[0].ConsumerLabels)
}

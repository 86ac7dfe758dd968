package cache

import (
	"sort"
	"time"

	"github.com/Schwaller/tradery/internal/types"
)

// PageInfo is a read-only, point-in-time projection of one page, consumed by
// observability surfaces. Building it never mutates cache state.
type PageInfo struct {
	Key            string          `json:"key"`
	Kind           types.DataKind  `json:"kind"`
	Symbol         string          `json:"symbol"`
	SubKey         string          `json:"sub_key"`
	RangeStart     time.Time       `json:"range_start"`
	RangeEnd       time.Time       `json:"range_end"`
	State          types.PageState `json:"state"`
	Consumers      int             `json:"consumers"`
	ConsumerLabels []string        `json:"consumer_labels"`
	Listeners      int             `json:"listeners"`
	Records        int             `json:"records"`
	Progress       int             `json:"progress"`
	Error          string          `json:"error,omitempty"`
	Retryable      bool            `json:"retryable,omitempty"`
	Coverage       []Span          `json:"coverage,omitempty"`
}

// Snapshot returns the current projection of every resident page, ordered by
// key for stable output.
func (m *Manager[R]) Snapshot() []PageInfo {
	m.mu.Lock()
	pages := make([]*Page[R], 0, len(m.pages))

	for _, page := range m.pages {
		pages = append(pages, page)
	}
	m.mu.Unlock()

	infos := make([]PageInfo, 0, len(pages))
	for _, page := range pages {
		infos = append(infos, snapshotPage(page))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos
}

func snapshotPage[R types.Record](p *Page[R]) PageInfo {
	p.mu.RLock()

	info := PageInfo{
		Key:        p.key.String(),
		Kind:       p.key.Kind,
		Symbol:     p.key.Symbol,
		SubKey:     p.key.SubKey,
		RangeStart: time.UnixMilli(p.startMs).UTC(),
		RangeEnd:   time.UnixMilli(p.endMs).UTC(),
		State:      p.state,
		Consumers:  len(p.consumers),
		Listeners:  len(p.listeners),
		Records:    len(p.records),
		Progress:   p.progress,
	}

	for label := range p.consumers {
		info.ConsumerLabels = append(info.ConsumerLabels, label)
	}

	if pageErr, err := p.lastErr.Take(); err == nil {
		info.Error = pageErr.Message
		info.Retryable = pageErr.Retryable
	}

	p.mu.RUnlock()

	sort.Strings(info.ConsumerLabels)
	info.Coverage = p.CoverageSpans()

	return info
}

// Package feed adapts the in-process response engine into the snapshot types
// the console scenes render. It is the only console package that touches the
// engine, so the scenes and the root model stay presentation-only.
package feed

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/response"
)

// DefaultRecentLimit caps the responses table when the scene does not ask
// for a specific window.
const DefaultRecentLimit = 100

// Engine is the slice of the response service the console reads.
type Engine interface {
	Stats() map[string]interface{}
	Active() []*response.Instance
	Pending() []*response.Instance
	History(q response.HistoryQuery) []*response.Instance
}

// ActionCatalog lists the registered action definitions.
type ActionCatalog interface {
	Definitions() []response.Definition
}

// Integration names one optional subsystem and how to read its counters.
// A nil Stats func marks the subsystem as disabled.
type Integration struct {
	Name  string
	Stats func() map[string]interface{}
}

// IntegrationStatus is one rendered integration row.
type IntegrationStatus struct {
	Name    string
	Enabled bool
	Detail  string
}

// Overview is a point-in-time snapshot of the engine counters.
type Overview struct {
	Running       bool
	Uptime        time.Duration
	Actions       int
	QueueDepth    int
	QueueCapacity int
	QueueDropped  uint64
	Pending       int
	Active        int
	HistoryLen    int
	HistoryCap    int
	Submitted     uint64
	Completed     uint64
	Failed        uint64
	Timeouts      uint64
	Cancelled     uint64
	Skipped       uint64
	Evicted       uint64
	Integrations  []IntegrationStatus
}

// Source reads the engine and wired integrations for the console scenes.
type Source struct {
	engine       Engine
	catalog      ActionCatalog
	integrations []Integration
	startedAt    time.Time
}

// NewSource creates a console data source over a running engine.
func NewSource(engine Engine, catalog ActionCatalog, integrations []Integration) *Source {
	return &Source{
		engine:       engine,
		catalog:      catalog,
		integrations: integrations,
		startedAt:    time.Now(),
	}
}

// Overview builds a dashboard snapshot from the engine counters.
func (s *Source) Overview() Overview {
	stats := s.engine.Stats()

	o := Overview{
		Running:       asBool(stats["running"]),
		Uptime:        time.Since(s.startedAt).Truncate(time.Second),
		Actions:       asInt(stats["registered_actions"]),
		QueueDepth:    asInt(stats["queue_depth"]),
		QueueCapacity: asInt(stats["queue_capacity"]),
		QueueDropped:  asUint64(stats["queue_dropped"]),
		Pending:       asInt(stats["pending"]),
		Active:        asInt(stats["active"]),
		HistoryLen:    asInt(stats["history"]),
		HistoryCap:    asInt(stats["history_cap"]),
		Submitted:     asUint64(stats["submitted"]),
		Completed:     asUint64(stats["completed"]),
		Failed:        asUint64(stats["failed"]),
		Timeouts:      asUint64(stats["timeouts"]),
		Cancelled:     asUint64(stats["cancelled"]),
		Skipped:       asUint64(stats["skipped"]),
		Evicted:       asUint64(stats["evicted"]),
	}

	for _, ing := range s.integrations {
		st := IntegrationStatus{Name: ing.Name, Enabled: ing.Stats != nil}
		if st.Enabled {
			st.Detail = formatCounters(ing.Stats())
		}
		o.Integrations = append(o.Integrations, st)
	}
	return o
}

// Recent returns instances for the responses table: executing first, then
// queued instances in drain order, then terminal outcomes newest first.
func (s *Source) Recent(limit int) []*response.Instance {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	out := s.engine.Active()

	pending := s.engine.Pending()
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	out = append(out, pending...)

	if len(out) < limit {
		out = append(out, s.engine.History(response.HistoryQuery{Limit: limit - len(out)})...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Actions returns the registered definitions sorted by name.
func (s *Source) Actions() []response.Definition {
	defs := s.catalog.Definitions()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// formatCounters renders an integration stats map as sorted key=value pairs.
func formatCounters(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// The engine publishes counters as map[string]interface{} for its logs; the
// helpers below narrow the values back to the types the scenes format.

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	}
	return 0
}

func asUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int:
		if n >= 0 {
			return uint64(n)
		}
	case int64:
		if n >= 0 {
			return uint64(n)
		}
	}
	return 0
}

package metrics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Kind is a series' fixed aggregation type, assigned on first Record and
// never changed afterward.
type Kind int

const (
	KindAvg Kind = iota
	KindMax
	KindMin
	KindInc
	KindCDF
)

func (k Kind) String() string {
	switch k {
	case KindAvg:
		return "avg"
	case KindMax:
		return "max"
	case KindMin:
		return "min"
	case KindInc:
		return "inc"
	case KindCDF:
		return "cdf"
	default:
		return "unknown"
	}
}

// Trend ring layout, in slot offsets. A series' trend array is a single
// 174-float ring holding, left to right, the last 30 days, the last 24
// hours, the last 60 minutes, then the last 60 seconds.
const (
	daySlots    = 30
	hourSlots   = 24
	minuteSlots = 60
	secondSlots = 60
	trendSlots  = daySlots + hourSlots + minuteSlots + secondSlots

	dayStart    = 0
	hourStart   = dayStart + daySlots
	minuteStart = hourStart + hourSlots
	secondStart = minuteStart + minuteSlots
	// secondStart+secondSlots == trendSlots == 174

	// ticksPerHour/ticksPerDay match original_source/monitor.h's ONE_HOUR
	// and ONE_DAY constants: the hour/day trend slots roll every 3600/86400
	// ticks of the per-second timer, not every minuteSlots/hourSlots-derived
	// product of ring widths.
	ticksPerHour = 3600
	ticksPerDay  = 86400
)

// cdfPercentiles are the fixed 20 offsets a CDF series reports: deciles
// 10..90, then 91..99, then 99.9 and 99.99.
var cdfPercentiles = [20]float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90,
	91, 92, 93, 94, 95, 96, 97, 98, 99,
	99.9, 99.99,
}

type event struct {
	second int64
	value  float64
}

// series is one named metric's aggregation state. Its event buffer, trend
// ring and CDF vector are each covered by the series' own lock, consistent
// with the per-series-own-lock policy used throughout the package.
type series struct {
	mu     sync.Mutex
	kind   Kind
	events []event
	trend  [trendSlots]float64
	cdf    [len(cdfPercentiles)]float64
	ticks  int64
}

// Aggregator is the process-wide registry of named metric series described
// by the engine: every series aggregates into a trend and/or CDF array once
// per second, on the aggregator's own scheduled timer, independent of
// request handling.
type Aggregator struct {
	mu     sync.RWMutex
	series map[string]*series
	log    *slog.Logger
}

// New creates an empty Aggregator. log may be nil, in which case
// slog.Default() is used for the "kind mismatch, dropped" diagnostic.
func New(log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{series: make(map[string]*series), log: log}
}

// Record appends value to name's event buffer, stamped with the current
// wall-clock second. It creates the series on first use with kind as its
// fixed aggregation type. A subsequent Record for the same name with a
// different kind is rejected: logged and dropped, never returned as an
// error, matching the aggregator's "internal aggregation never throws"
// failure semantics.
func (a *Aggregator) Record(name string, value float64, kind Kind) {
	s := a.getOrCreate(name, kind)
	if s == nil {
		return
	}
	now := time.Now().Unix()
	s.mu.Lock()
	s.events = append(s.events, event{second: now, value: value})
	s.mu.Unlock()
}

func (a *Aggregator) getOrCreate(name string, kind Kind) *series {
	a.mu.RLock()
	s, ok := a.series[name]
	a.mu.RUnlock()
	if ok {
		if s.kind != kind {
			a.log.Warn("metrics: rejected record with mismatched kind", "name", name, "have", s.kind, "got", kind)
			return nil
		}
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.series[name]; ok {
		if s.kind != kind {
			a.log.Warn("metrics: rejected record with mismatched kind", "name", name, "have", s.kind, "got", kind)
			return nil
		}
		return s
	}
	s = &series{kind: kind}
	a.series[name] = s
	return s
}

// Names lists every series name created so far.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.series))
	for n := range a.series {
		names = append(names, n)
	}
	return names
}

// Snapshot is the canonical JSON shape the monitor UI consumes: a label
// ("trend" or "cdf") and an ordered list of [offset, value] pairs.
type Snapshot struct {
	Label string       `json:"label"`
	Data  [][2]float64 `json:"data"`
}

// Snapshot returns name's current trend or CDF layout. An absent name
// returns an empty Snapshot.
func (a *Aggregator) Snapshot(name string) Snapshot {
	a.mu.RLock()
	s, ok := a.series[name]
	a.mu.RUnlock()
	if !ok {
		return Snapshot{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == KindCDF {
		data := make([][2]float64, len(cdfPercentiles))
		for i, p := range cdfPercentiles {
			data[i] = [2]float64{p, s.cdf[i]}
		}
		return Snapshot{Label: "cdf", Data: data}
	}

	data := make([][2]float64, trendSlots)
	for i := 0; i < trendSlots; i++ {
		data[i] = [2]float64{float64(i), s.trend[i]}
	}
	return Snapshot{Label: "trend", Data: data}
}

// DumpLoop periodically logs every series' current snapshot to log,
// standing in for the original monitor's DumpMetricsAgg log dump. It is
// meant to be started once, as a goroutine, alongside Run; it returns
// when ctx is done.
func (a *Aggregator) DumpLoop(ctx context.Context, log *slog.Logger, interval time.Duration) {
	if log == nil {
		log = a.log
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.dump(log)
		}
	}
}

func (a *Aggregator) dump(log *slog.Logger) {
	for _, name := range a.Names() {
		snap := a.Snapshot(name)
		log.Info("metrics.dump", "series", name, "label", snap.Label, "points", len(snap.Data))
	}
}

// Run ticks every registered series once per second until ctx is done.
// It is meant to be started once, as a goroutine, by the engine
// bootstrapper.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.tick(now.Unix())
		}
	}
}

func (a *Aggregator) tick(curSecond int64) {
	a.mu.RLock()
	snapshot := make([]*series, 0, len(a.series))
	for _, s := range a.series {
		snapshot = append(snapshot, s)
	}
	a.mu.RUnlock()

	for _, s := range snapshot {
		s.tickOnce(curSecond)
	}
}

// tickOnce runs the per-second algorithm for a single series: drop stale
// events, collect the window for the second that just elapsed, aggregate
// or compute the CDF, and roll the trend ring up through minute/hour/day
// boundaries as the tick counter crosses them.
func (s *series) tickOnce(curSecond int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := curSecond - 1

	kept := s.events[:0:0]
	var window []float64
	for _, e := range s.events {
		if e.second < prior {
			continue
		}
		if e.second == prior {
			window = append(window, e.value)
		}
		kept = append(kept, e)
	}
	s.events = kept

	if s.kind == KindCDF {
		computeCDF(window, &s.cdf)
		return
	}

	a := aggregate(window, s.kind)
	shiftLeftAppend(s.trend[secondStart:secondStart+secondSlots], a)
	s.ticks++

	if s.ticks%minuteSlots == 0 {
		minuteVal := mean(s.trend[secondStart : secondStart+secondSlots])
		shiftLeftAppend(s.trend[minuteStart:minuteStart+minuteSlots], minuteVal)
	}
	if s.ticks%ticksPerHour == 0 {
		hourVal := mean(s.trend[minuteStart : minuteStart+minuteSlots])
		shiftLeftAppend(s.trend[hourStart:hourStart+hourSlots], hourVal)
	}
	if s.ticks%ticksPerDay == 0 {
		dayVal := mean(s.trend[hourStart : hourStart+hourSlots])
		shiftLeftAppend(s.trend[dayStart:dayStart+daySlots], dayVal)
		s.ticks = 0
	}
}

func aggregate(window []float64, kind Kind) float64 {
	if len(window) == 0 {
		return 0.0
	}
	switch kind {
	case KindMax:
		m := window[0]
		for _, v := range window[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case KindMin:
		m := window[0]
		for _, v := range window[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case KindInc:
		var sum float64
		for _, v := range window {
			sum += v
		}
		return sum
	default: // KindAvg
		var sum float64
		for _, v := range window {
			sum += v
		}
		return sum / float64(len(window))
	}
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// shiftLeftAppend shifts ring left by one slot and writes v into the last
// slot, discarding the oldest value.
func shiftLeftAppend(ring []float64, v float64) {
	copy(ring, ring[1:])
	ring[len(ring)-1] = v
}

// computeCDF sorts window ascending and places the ceil-indexed percentile
// values into out at the fixed cdfPercentiles offsets. An empty window
// zeroes every slot.
func computeCDF(window []float64, out *[len(cdfPercentiles)]float64) {
	if len(window) == 0 {
		for i := range out {
			out[i] = 0.0
		}
		return
	}
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)

	n := len(sorted)
	for i, p := range cdfPercentiles {
		idx := int(math.Ceil(p/100.0*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		out[i] = sorted[idx]
	}
}

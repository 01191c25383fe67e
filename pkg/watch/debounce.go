package watch

import (
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// DefaultDebounceWindow is how long repeated modifies on one path are
// coalesced before the last one is forwarded.
const DefaultDebounceWindow = 2 * time.Second

// Debouncer coalesces repeated modify events on the same path.
//
// Multi-step rename implementations (write temp file, rename over target)
// produce bursts of modifies that would pollute match statistics. Only
// modifies are held back; creates and deletes pass through immediately, and
// a held modify for the same path is discarded when its delete or create
// arrives, so per-path ordering across the stage is preserved.
type Debouncer struct {
	proto   protocol.Protocol
	window  time.Duration
	emit    func(Event)
	metrics Metrics

	mu      sync.Mutex
	held    map[string]*heldModify
	stopped bool
}

type heldModify struct {
	ev    Event
	timer *time.Timer
}

// NewDebouncer builds a debounce stage forwarding into emit. A window of
// zero uses DefaultDebounceWindow.
func NewDebouncer(proto protocol.Protocol, window time.Duration, emit func(Event), metrics Metrics) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Debouncer{
		proto:   proto,
		window:  window,
		emit:    emit,
		metrics: metrics,
		held:    make(map[string]*heldModify),
	}
}

// Offer feeds one event through the stage.
func (d *Debouncer) Offer(ev Event) {
	if ev.Op != OpModify {
		d.mu.Lock()
		if held, ok := d.held[ev.Path]; ok {
			held.timer.Stop()
			delete(d.held, ev.Path)
			d.metrics.EventDebounced(d.proto)
		}
		d.mu.Unlock()
		d.emit(ev)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if held, ok := d.held[ev.Path]; ok {
		held.ev = ev
		held.timer.Reset(d.window)
		d.metrics.EventDebounced(d.proto)
		return
	}
	held := &heldModify{ev: ev}
	held.timer = time.AfterFunc(d.window, func() {
		d.fire(ev.Path)
	})
	d.held[ev.Path] = held
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	held, ok := d.held[path]
	if ok {
		delete(d.held, path)
	}
	d.mu.Unlock()
	if ok {
		d.emit(held.ev)
	}
}

// Flush forwards every held modify immediately. Called on shutdown so no
// observed event is lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	var out []Event
	for path, held := range d.held {
		held.timer.Stop()
		out = append(out, held.ev)
		delete(d.held, path)
	}
	d.stopped = true
	d.mu.Unlock()

	for _, ev := range out {
		d.emit(ev)
	}
}

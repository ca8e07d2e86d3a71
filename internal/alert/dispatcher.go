package alert

import (
	"context"
	"sync"

	"insider-tracker/pkg/types"
)

// Result is the per-channel outcome of one dispatch call.
type Result struct {
	Channel string
	Success bool
}

// AllSucceeded reports whether every channel delivered. An empty result set
// (no channels configured) counts as failure, not vacuous success.
func AllSucceeded(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// Dispatcher sends a FormattedAlert to every configured channel
// concurrently, gating each through its own circuit breaker.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	breakers map[string]*circuitBreaker
	cbCfg    CircuitBreakerConfig
}

// NewDispatcher constructs an empty Dispatcher; channels are attached via
// AddChannel.
func NewDispatcher(cbCfg CircuitBreakerConfig) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]Channel),
		breakers: make(map[string]*circuitBreaker),
		cbCfg:    cbCfg,
	}
}

// AddChannel registers ch under its own name, each with an independent
// circuit breaker.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
	d.breakers[ch.Name()] = newCircuitBreaker(d.cbCfg)
}

// Dispatch sends alert to every registered channel concurrently and returns
// one Result per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.FormattedAlert) []Result {
	d.mu.RLock()
	channels := make([]Channel, 0, len(d.channels))
	breakers := make([]*circuitBreaker, 0, len(d.channels))
	for name, ch := range d.channels {
		channels = append(channels, ch)
		breakers = append(breakers, d.breakers[name])
	}
	d.mu.RUnlock()

	results := make([]Result, len(channels))
	var wg sync.WaitGroup
	for i := range channels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, cb := channels[i], breakers[i]
			if !cb.allow() {
				cb.recordFailure()
				results[i] = Result{Channel: ch.Name(), Success: false}
				return
			}
			ok := ch.Send(ctx, alert)
			if ok {
				cb.recordSuccess()
			} else {
				cb.recordFailure()
			}
			results[i] = Result{Channel: ch.Name(), Success: ok}
		}(i)
	}
	wg.Wait()
	return results
}

// DispatchBatch sends each alert in order, one dispatch at a time.
func (d *Dispatcher) DispatchBatch(ctx context.Context, alerts []types.FormattedAlert) [][]Result {
	out := make([][]Result, len(alerts))
	for i, a := range alerts {
		out[i] = d.Dispatch(ctx, a)
	}
	return out
}

// CircuitStatus returns the operator-facing snapshot of every channel's
// circuit breaker.
func (d *Dispatcher) CircuitStatus() map[string]Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Status, len(d.breakers))
	for name, cb := range d.breakers {
		out[name] = cb.status()
	}
	return out
}

// ResetCircuit forces the named channel's breaker back to closed.
func (d *Dispatcher) ResetCircuit(name string) bool {
	d.mu.RLock()
	cb, ok := d.breakers[name]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	cb.reset()
	return true
}

package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrProbeUnavailable is returned by FakeProber for sources without a value
var ErrProbeUnavailable = errors.New("probe unavailable")

// FakeProber is a scriptable hardware prober. Values and errors are keyed by
// source name: machineId, cpuId, diskSerial, macAddress.
type FakeProber struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	delays map[string]time.Duration

	// IgnoreContext makes delayed probes sleep without watching ctx
	IgnoreContext bool

	calls atomic.Int64
}

// NewFakeProber creates a prober returning the given values
func NewFakeProber(values map[string]string) *FakeProber {
	v := make(map[string]string, len(values))
	for k, val := range values {
		v[k] = val
	}
	return &FakeProber{values: v, errs: map[string]error{}, delays: map[string]time.Duration{}}
}

// Set changes the value of a source
func (f *FakeProber) Set(source, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[source] = value
}

// Fail makes a source return err
func (f *FakeProber) Fail(source string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[source] = err
}

// Delay makes a source block for d before answering
func (f *FakeProber) Delay(source string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[source] = d
}

// Calls returns the total number of probe invocations
func (f *FakeProber) Calls() int64 {
	return f.calls.Load()
}

func (f *FakeProber) probe(ctx context.Context, source string) (string, error) {
	f.calls.Add(1)

	f.mu.Lock()
	value, ok := f.values[source]
	err := f.errs[source]
	delay := f.delays[source]
	f.mu.Unlock()

	if delay > 0 {
		if f.IgnoreContext {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrProbeUnavailable
	}
	return value, nil
}

// MachineID implements the prober contract
func (f *FakeProber) MachineID(ctx context.Context) (string, error) {
	return f.probe(ctx, "machineId")
}

// CPUID implements the prober contract
func (f *FakeProber) CPUID(ctx context.Context) (string, error) {
	return f.probe(ctx, "cpuId")
}

// DiskSerial implements the prober contract
func (f *FakeProber) DiskSerial(ctx context.Context) (string, error) {
	return f.probe(ctx, "diskSerial")
}

// MACAddress implements the prober contract
func (f *FakeProber) MACAddress(ctx context.Context) (string, error) {
	return f.probe(ctx, "macAddress")
}

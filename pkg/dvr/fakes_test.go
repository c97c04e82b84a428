/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dvr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/dvrsync/pkg/session"
)

// fakeClock hands out tickers that fire only when a test says so.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Ticker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTicker{interval: d, ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)

	return t
}

// armed reports whether a live ticker with the interval exists.
func (c *fakeClock) armed(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tickers {
		if t.interval == interval && !t.isStopped() {
			return true
		}
	}

	return false
}

// fire ticks the live ticker with the given interval, failing the
// test if none exists or nothing receives the tick.
func (c *fakeClock) fire(t *testing.T, interval time.Duration) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		c.mu.Lock()
		var target *fakeTicker

		for _, tk := range c.tickers {
			if tk.interval == interval && !tk.isStopped() {
				target = tk
				break
			}
		}

		now := c.now
		c.mu.Unlock()

		if target != nil {
			select {
			case target.ch <- now:
				return
			case <-deadline:
				t.Fatalf("nothing received tick for interval %v", interval)
			}
		}

		select {
		case <-deadline:
			t.Fatalf("no live ticker with interval %v", interval)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stopped
}

// fakeSession scripts the transport: canned documents per path, a
// switchable login error, and a gate to hold fetches in flight.
type fakeSession struct {
	mu        sync.Mutex
	online    bool
	closed    bool
	loginErr  error
	docs      map[string][]byte
	fetchErrs map[string]error
	fetchGate chan struct{}
	logins    int
	fetches   map[string]int

	events chan session.Event
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		docs: map[string][]byte{
			session.DevicesPath: []byte(`<devices></devices>`),
			session.StatsPath:   []byte(`<stats><message/></stats>`),
		},
		fetchErrs: make(map[string]error),
		fetches:   make(map[string]int),
		events:    make(chan session.Event, 16),
	}
}

func (f *fakeSession) setDoc(path, doc string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[path] = []byte(doc)
}

func (f *fakeSession) setFetchErr(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchErrs[path] = err
}

func (f *fakeSession) setLoginErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loginErr = err
}

// gateFetches makes every Fetch block until releaseFetches.
func (f *fakeSession) gateFetches() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchGate = make(chan struct{})
}

func (f *fakeSession) releaseFetches() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchGate != nil {
		close(f.fetchGate)
		f.fetchGate = nil
	}
}

func (f *fakeSession) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.logins
}

func (f *fakeSession) fetchCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fetches[path]
}

func (f *fakeSession) Login(_ context.Context, _, _ string) error {
	f.mu.Lock()
	f.logins++

	if f.loginErr != nil {
		err := f.loginErr
		f.mu.Unlock()

		return err
	}
	f.mu.Unlock()

	f.setOnline(true)

	return nil
}

func (f *fakeSession) Logout(_ context.Context) error {
	f.setOnline(false)
	return nil
}

// expire simulates the server invalidating the session.
func (f *fakeSession) expire() {
	f.setOnline(false)
}

// setOnline emits the transition under the lock so it serializes with
// Close. The buffer absorbs every send; no test produces more than a
// handful of transitions between reads.
func (f *fakeSession) setOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.online == online {
		return
	}

	f.online = online

	state := session.StateOffline
	if online {
		state = session.StateOnline
	}

	f.events <- session.Event{State: state}
}

func (f *fakeSession) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.online
}

func (f *fakeSession) Fetch(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	gate := f.fetchGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches[path]++

	if err := f.fetchErrs[path]; err != nil {
		return nil, err
	}

	doc, ok := f.docs[path]
	if !ok {
		return nil, fmt.Errorf("no document for %s", path)
	}

	return append([]byte(nil), doc...), nil
}

func (f *fakeSession) Events() <-chan session.Event {
	return f.events
}

func (f *fakeSession) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.events)
		f.mu.Unlock()
	})

	return nil
}

// eventCollector records bus traffic for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func collect(b *Bus) *eventCollector {
	c := &eventCollector{}
	b.Subscribe(func(ev Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.events = append(c.events, ev)
	})

	return c
}

func (c *eventCollector) count(tp EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, ev := range c.events {
		if ev.Type == tp {
			n++
		}
	}

	return n
}

func (c *eventCollector) last(tp EventType) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == tp {
			return c.events[i], true
		}
	}

	return Event{}, false
}

// cameraIDs lists the ids seen for one camera event type, in order.
func (c *eventCollector) cameraIDs(tp EventType) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int

	for _, ev := range c.events {
		if ev.Type == tp && ev.Camera != nil {
			ids = append(ids, ev.Camera.ID)
		}
	}

	return ids
}

package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/ai-digest/internal/adapter/timeline"
)

// capture collects timeline response bodies. Requests are tracked when their
// response headers arrive and read once loading finishes.
type capture struct {
	mu        sync.Mutex
	pending   map[network.RequestID]struct{}
	bodies    [][]byte
	errs      int
	first     chan struct{}
	firstOnce sync.Once
}

func newCapture() *capture {
	return &capture{
		pending: make(map[network.RequestID]struct{}),
		first:   make(chan struct{}),
	}
}

func (c *capture) track(ev *network.EventResponseReceived) bool {
	if ev == nil || ev.Response == nil || !timeline.IsTimelineURL(ev.Response.URL) {
		return false
	}
	c.mu.Lock()
	c.pending[ev.RequestID] = struct{}{}
	c.mu.Unlock()
	return true
}

// finish reports whether id was tracked and removes it.
func (c *capture) finish(id network.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *capture) add(body []byte, err error) {
	c.mu.Lock()
	if err != nil || len(body) == 0 {
		c.errs++
		c.mu.Unlock()
		return
	}
	c.bodies = append(c.bodies, append([]byte(nil), body...))
	c.mu.Unlock()
	c.firstOnce.Do(func() { close(c.first) })
}

func (c *capture) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.bodies...)
}

func (c *capture) failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}

func (c *capture) listener(ctx context.Context) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			c.track(e)
		case *network.EventLoadingFinished:
			if !c.finish(e.RequestID) {
				return
			}
			go func(id network.RequestID) {
				bodyCtx, cancel := context.WithTimeout(ctx, bodyFetchTimeout)
				defer cancel()
				c.add(network.GetResponseBody(id).Do(bodyCtx))
			}(e.RequestID)
		}
	}
}

package browser

import "sync"

type pendingResponse struct {
	url  string
	mime string
}

// tracker pairs responseReceived metadata with the loadingFinished event
// of the same request.
type tracker struct {
	mu      sync.Mutex
	pending map[string]pendingResponse
}

func newTracker() *tracker {
	return &tracker{pending: make(map[string]pendingResponse)}
}

func (t *tracker) received(id, url, mime string) {
	t.mu.Lock()
	t.pending[id] = pendingResponse{url: url, mime: mime}
	t.mu.Unlock()
}

func (t *tracker) finished(id string) (pendingResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	delete(t.pending, id)
	return p, ok
}

func (t *tracker) failed(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

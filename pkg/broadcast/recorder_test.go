package broadcast_test

import "sync"

type countingRecorder struct {
	mu        sync.Mutex
	delivered map[string]int
	dropped   map[string]int
	failed    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		delivered: make(map[string]int),
		dropped:   make(map[string]int),
		failed:    make(map[string]int),
	}
}

func (r *countingRecorder) Delivered(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[channel]++
}

func (r *countingRecorder) Dropped(channel string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[channel] += n
}

func (r *countingRecorder) PublishFailed(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[mode]++
}

func (r *countingRecorder) droppedOn(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[channel]
}

func (r *countingRecorder) deliveredOn(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered[channel]
}

func (r *countingRecorder) failedFor(mode string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[mode]
}

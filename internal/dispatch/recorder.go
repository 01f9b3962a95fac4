package dispatch

import (
	"context"
	"sync"
)

// Recorded 是 Recorder 记下的一次发布。
type Recorded struct {
	Room    string
	Event   string
	Payload interface{}
}

// Recorder 记录所有发布, 用于测试; Err 非空时每次发布都返回它。
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, room, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Room: room, Event: event, Payload: payload})
	return r.Err
}

// Events 返回记录的副本。
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Filter 返回指定事件名的记录。
func (r *Recorder) Filter(event string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空记录。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

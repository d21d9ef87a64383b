package audio

import (
	"time"

	"PhuzzyAudio/logger"

	"github.com/google/uuid"
)

// EventKind 引擎事件类型
type EventKind string

const (
	EventQueued      EventKind = "queued"
	EventStarted     EventKind = "started"
	EventCompleted   EventKind = "completed"
	EventErrored     EventKind = "errored"
	EventStopped     EventKind = "stopped"
	EventInteraction EventKind = "interaction"
	EventWarmedUp    EventKind = "warmed_up"
	EventPreloaded   EventKind = "preloaded"
)

// Event 推送给订阅者的播放事件
type Event struct {
	Kind      EventKind `json:"kind"`
	RequestID string    `json:"requestId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Key       string    `json:"key,omitempty"`
	Path      string    `json:"path,omitempty"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Subscribe 注册事件回调，返回取消函数。回调在触发事件的 goroutine 中同步执行，不要阻塞。
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}

	e.subMu.RLock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("事件订阅者异常", logger.Any("panic", r), logger.String("event", string(ev.Kind)))
				}
			}()
			fn(ev)
		}()
	}
}

func newUUID() string {
	return uuid.NewString()
}

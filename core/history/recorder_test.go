package history

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/model"
)

type memoryStore struct {
	mu      sync.Mutex
	records []*model.PlaybackRecord
	err     error
}

func (s *memoryStore) Create(ctx context.Context, rec *model.PlaybackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryStore) all() []*model.PlaybackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.PlaybackRecord(nil), s.records...)
}

// fakeBus 代替引擎的 Subscribe
type fakeBus struct {
	mu   sync.Mutex
	subs []func(audio.Event)
}

func (b *fakeBus) Subscribe(fn func(audio.Event)) func() {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.subs = nil
		b.mu.Unlock()
	}
}

func (b *fakeBus) emit(ev audio.Event) {
	b.mu.Lock()
	subs := append([]func(audio.Event){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func TestRecorderWritesFinishedPlayback(t *testing.T) {
	store := &memoryStore{}
	bus := &fakeBus{}
	r := NewRecorder(store)
	unsubscribe := r.Start(bus.Subscribe)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.emit(audio.Event{Kind: audio.EventStarted, RequestID: "a", Channel: "dialogue", Key: "002-001-title", Path: "/a.mp3", Time: start})
	bus.emit(audio.Event{Kind: audio.EventCompleted, RequestID: "a", Channel: "dialogue", Key: "002-001-title", Path: "/a.mp3", Time: start.Add(1500 * time.Millisecond)})

	bus.emit(audio.Event{Kind: audio.EventStarted, RequestID: "b", Time: start})
	bus.emit(audio.Event{Kind: audio.EventErrored, RequestID: "b", Error: "decode failed", Time: start.Add(time.Second)})

	// 排队中被清掉，没有开始过
	bus.emit(audio.Event{Kind: audio.EventStopped, RequestID: "c", Time: start})
	bus.emit(audio.Event{Kind: audio.EventQueued, RequestID: "d", Time: start})

	unsubscribe()
	bus.emit(audio.Event{Kind: audio.EventStarted, RequestID: "e", Time: start})
	r.Stop()

	recs := store.all()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	a := recs[0]
	if a.RequestID != "a" || a.Outcome != model.PlaybackCompleted || a.DurationMS != 1500 || a.AssetKey != "002-001-title" {
		t.Errorf("record a = %+v", a)
	}
	if b := recs[1]; b.Outcome != model.PlaybackErrored || b.Error != "decode failed" {
		t.Errorf("record b = %+v", b)
	}
}

func TestRecorderStoreErrorDoesNotBlock(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	r := NewRecorder(store)
	r.Start(func(func(audio.Event)) func() { return func() {} })

	r.Handle(audio.Event{Kind: audio.EventStarted, RequestID: "a"})
	r.Handle(audio.Event{Kind: audio.EventStopped, RequestID: "a"})
	r.Stop()
	if len(store.all()) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(&memoryStore{})
	// 不启动写循环，队列只进不出
	for i := 0; i < bufferSize+3; i++ {
		id := strconv.Itoa(i)
		r.Handle(audio.Event{Kind: audio.EventStarted, RequestID: id})
		r.Handle(audio.Event{Kind: audio.EventCompleted, RequestID: id})
	}
	if r.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", r.Dropped())
	}
}

func TestOutcome(t *testing.T) {
	tests := map[audio.EventKind]string{
		audio.EventCompleted: model.PlaybackCompleted,
		audio.EventErrored:   model.PlaybackErrored,
		audio.EventStopped:   model.PlaybackStopped,
	}
	for kind, want := range tests {
		if got := outcome(kind); got != want {
			t.Errorf("outcome(%s) = %s, want %s", kind, got, want)
		}
	}
}

package history

import (
	"context"
	"sync"
	"time"

	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/logger"
	"PhuzzyAudio/model"
)

const (
	bufferSize   = 256
	writeTimeout = 3 * time.Second
)

// Store 播放记录的持久化，repository.PlaybackRepository 实现了它
type Store interface {
	Create(ctx context.Context, rec *model.PlaybackRecord) error
}

// Recorder 订阅引擎事件，把每次播放的结束写入数据库。
// 事件回调只做入队，写库在单独的 goroutine 里进行，队列满时丢弃。
type Recorder struct {
	store Store

	mu      sync.Mutex
	started map[string]time.Time

	records  chan *model.PlaybackRecord
	stopChan chan struct{}
	wg       sync.WaitGroup
	dropped  int
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:    store,
		started:  make(map[string]time.Time),
		records:  make(chan *model.PlaybackRecord, bufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start 开始写库，返回的函数用于退订
func (r *Recorder) Start(subscribe func(func(audio.Event)) func()) func() {
	r.wg.Add(1)
	go r.writeLoop()
	return subscribe(r.Handle)
}

// Stop 写完队列中剩余的记录后返回
func (r *Recorder) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

// Handle 处理一个引擎事件
func (r *Recorder) Handle(ev audio.Event) {
	switch ev.Kind {
	case audio.EventStarted:
		r.mu.Lock()
		r.started[ev.RequestID] = ev.Time
		r.mu.Unlock()
		return
	case audio.EventCompleted, audio.EventStopped, audio.EventErrored:
	default:
		return
	}

	r.mu.Lock()
	started, ok := r.started[ev.RequestID]
	delete(r.started, ev.RequestID)
	r.mu.Unlock()
	if !ok {
		// 排队中被清掉的请求没有开始播放
		return
	}

	rec := &model.PlaybackRecord{
		RequestID:  ev.RequestID,
		Channel:    ev.Channel,
		AssetKey:   ev.Key,
		Path:       ev.Path,
		Outcome:    outcome(ev.Kind),
		Error:      ev.Error,
		StartedAt:  started,
		EndedAt:    ev.Time,
		DurationMS: ev.Time.Sub(started).Milliseconds(),
	}
	select {
	case r.records <- rec:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func outcome(kind audio.EventKind) string {
	switch kind {
	case audio.EventCompleted:
		return model.PlaybackCompleted
	case audio.EventErrored:
		return model.PlaybackErrored
	}
	return model.PlaybackStopped
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.records:
			r.write(rec)
		case <-r.stopChan:
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *model.PlaybackRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Create(ctx, rec); err != nil {
		logger.Warn("写入播放记录失败", logger.String("id", rec.RequestID), logger.ErrorField(err))
	}
}

// Dropped 因队列满被丢弃的记录数
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

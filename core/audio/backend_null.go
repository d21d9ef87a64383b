package audio

import (
	"context"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"

	"github.com/gopxl/beep"
)

// NullBackend 没有声卡时使用：照常解码得到时长，按时钟结束播放
type NullBackend struct {
	src  asset.Source
	rate beep.SampleRate
}

// NewNullBackend src 为 nil 时所有音频按估算时长处理
func NewNullBackend(src asset.Source) *NullBackend {
	return &NullBackend{src: src, rate: DefaultSampleRate}
}

func (b *NullBackend) Name() string { return "null" }

func (b *NullBackend) Resume(ctx context.Context) error { return ctx.Err() }

func (b *NullBackend) Prime(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *NullBackend) Load(ctx context.Context, rec asset.Record) (Clip, error) {
	if b.src == nil {
		return &timerClip{duration: 10 * time.Second}, nil
	}
	buf, err := decodeToBuffer(ctx, b.src, rec, b.rate)
	if err != nil {
		return nil, err
	}
	// 只需要时长，样本数据不保留
	return &timerClip{duration: b.rate.D(buf.Len())}, nil
}

func (b *NullBackend) Silence(d time.Duration) (Clip, error) {
	return &timerClip{duration: d}, nil
}

func (b *NullBackend) Tone(t Tone) (Clip, error) {
	return &timerClip{duration: t.Duration}, nil
}

func (b *NullBackend) Close() error { return nil }

type timerClip struct {
	duration time.Duration
}

func (c *timerClip) Duration() time.Duration { return c.duration }

func (c *timerClip) NewVoice() (Voice, error) {
	return &timerVoice{duration: c.duration}, nil
}

func (c *timerClip) Release() {}

type timerVoice struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
	stopped  bool
}

func (v *timerVoice) Start(loop bool, done func(error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var fire func()
	fire = func() {
		v.mu.Lock()
		if v.stopped {
			v.mu.Unlock()
			return
		}
		if loop {
			v.timer = time.AfterFunc(v.duration, fire)
			v.mu.Unlock()
			return
		}
		v.stopped = true
		v.mu.Unlock()
		done(nil)
	}
	if loop && v.duration <= 0 {
		return nil
	}
	v.timer = time.AfterFunc(v.duration, fire)
	return nil
}

func (v *timerVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	if v.timer != nil {
		v.timer.Stop()
	}
}

func (v *timerVoice) SetVolume(float64) {}

package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PhuzzyAudio/core/asset"
)

// fakeBackend 播放完全由测试控制：voice 只有在调用 finish 时才结束
type fakeBackend struct {
	mu        sync.Mutex
	loads     map[string]int
	voices    map[string][]*fakeVoice
	failLoad  map[string]error
	durations map[string]time.Duration
	gates     map[string]chan struct{} // Load 在 gate 关闭前阻塞
	closed    bool

	seq atomic.Int64 // voice 开始和停止的全局顺序
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		loads:     make(map[string]int),
		voices:    make(map[string][]*fakeVoice),
		failLoad:  make(map[string]error),
		durations: make(map[string]time.Duration),
		gates:     make(map[string]chan struct{}),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Resume(ctx context.Context) error { return nil }

func (b *fakeBackend) Prime(ctx context.Context, d time.Duration) error { return nil }

func (b *fakeBackend) Load(ctx context.Context, rec asset.Record) (Clip, error) {
	b.mu.Lock()
	b.loads[rec.Path]++
	err := b.failLoad[rec.Path]
	d := b.durations[rec.Path]
	gate := b.gates[rec.Path]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeClip{b: b, path: rec.Path, duration: d}, nil
}

func (b *fakeBackend) setDuration(path string, d time.Duration) {
	b.mu.Lock()
	b.durations[path] = d
	b.mu.Unlock()
}

func (b *fakeBackend) gate(path string) chan struct{} {
	g := make(chan struct{})
	b.mu.Lock()
	b.gates[path] = g
	b.mu.Unlock()
	return g
}

func (b *fakeBackend) voiceCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.voices[path])
}

func (b *fakeBackend) Silence(d time.Duration) (Clip, error) {
	return &fakeClip{b: b, path: "silence"}, nil
}

func (b *fakeBackend) Tone(t Tone) (Clip, error) {
	return &fakeClip{b: b, path: "tone:" + t.Name}, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) loadCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[path]
}

// voice 等待 path 的第 n 次播放开始
func (b *fakeBackend) voice(t *testing.T, path string, n int) *fakeVoice {
	t.Helper()
	var v *fakeVoice
	waitFor(t, fmt.Sprintf("voice %d of %s", n, path), func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(b.voices[path]) >= n {
			v = b.voices[path][n-1]
			return true
		}
		return false
	})
	return v
}

type fakeClip struct {
	b        *fakeBackend
	path     string
	duration time.Duration // 0 时跳过试播
	released atomic.Int32
}

func (c *fakeClip) Duration() time.Duration { return c.duration }

func (c *fakeClip) NewVoice() (Voice, error) {
	return &fakeVoice{b: c.b, path: c.path}, nil
}

func (c *fakeClip) Release() { c.released.Add(1) }

type fakeVoice struct {
	b    *fakeBackend
	path string

	mu       sync.Mutex
	volume   float64
	stopped  bool
	done     func(error)
	startSeq int64
	stopSeq  int64
	history  []float64 // 每次 SetVolume 的值
}

func (v *fakeVoice) Start(loop bool, done func(error)) error {
	v.mu.Lock()
	v.done = done
	if v.b != nil {
		v.startSeq = v.b.seq.Add(1)
	}
	v.mu.Unlock()
	if v.b != nil {
		v.b.mu.Lock()
		v.b.voices[v.path] = append(v.b.voices[v.path], v)
		v.b.mu.Unlock()
	}
	return nil
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	if !v.stopped && v.b != nil {
		v.stopSeq = v.b.seq.Add(1)
	}
	v.stopped = true
	v.mu.Unlock()
}

// order 返回开始和停止的序号，未停止时 stop 为 0
func (v *fakeVoice) order() (start, stop int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.startSeq, v.stopSeq
}

func (v *fakeVoice) SetVolume(vol float64) {
	v.mu.Lock()
	v.volume = vol
	v.history = append(v.history, vol)
	v.mu.Unlock()
}

func (v *fakeVoice) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

// steppedBetween 统计落在 (lo, hi) 之间的音量设置次数
func (v *fakeVoice) steppedBetween(lo, hi float64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, vol := range v.history {
		if vol > lo+1e-9 && vol < hi-1e-9 {
			n++
		}
	}
	return n
}

func (v *fakeVoice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// finish 模拟播放到结尾
func (v *fakeVoice) finish(err error) {
	v.mu.Lock()
	done, stopped := v.done, v.stopped
	v.mu.Unlock()
	if done != nil && !stopped {
		done(err)
	}
}

// fakeResolver 除了 "missing" 之外都能解析
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, spec asset.Spec) (asset.Record, error) {
	if spec.PathValue() == "missing" {
		return asset.Record{}, &asset.ResolutionError{Spec: spec, Key: "missing", Err: asset.ErrAssetNotFound}
	}
	return asset.Record{Key: spec.String(), Path: pathOf(spec), Verified: true}, nil
}

func pathOf(spec asset.Spec) string {
	return "/audio/" + spec.String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CrossfadeDuration = 0
	cfg.SequenceGap = 0
	cfg.SilentPrewarmDuration = 0
	cfg.BackgroundYield = 0
	cfg.PreloadBaseDelay = 10 * time.Millisecond
	cfg.PreloadMinDelay = time.Millisecond
	cfg.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	var n atomic.Int64
	e := New(cfg, fakeResolver{},
		WithBackend(b),
		WithFallbackBackend(b),
		WithIDGenerator(func() string { return fmt.Sprintf("req-%d", n.Add(1)) }),
	)
	t.Cleanup(func() { _ = e.Close() })
	return e, b
}

// newReadyEngine 已经收到用户交互并完成预热
func newReadyEngine(t *testing.T) (*Engine, *fakeBackend) {
	t.Helper()
	return newReadyEngineWith(t, testConfig())
}

func newReadyEngineWith(t *testing.T, cfg Config) (*Engine, *fakeBackend) {
	t.Helper()
	e, b := newTestEngine(t, cfg)
	e.Warmup().MarkInteraction()
	if err := e.Warmup().EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	return e, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitState(t *testing.T, req *Request, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to be %s", req.ID, want), func() bool { return req.State() == want })
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// fadeConfig 开启 20 步过渡和试播的配置
func fadeConfig() Config {
	cfg := testConfig()
	cfg.CrossfadeDuration = 100 * time.Millisecond
	cfg.PrimeDuration = 20 * time.Millisecond
	return cfg
}

var errDecode = errors.New("decode failed")

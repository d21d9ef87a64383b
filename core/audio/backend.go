package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PhuzzyAudio/core/asset"
)

// Backend 实际出声的后端。引擎初始化时选定一次：能打开声卡就用 speaker，否则用静默时钟后端。
type Backend interface {
	Name() string
	// Resume 确保输出设备处于可用状态
	Resume(ctx context.Context) error
	// Prime 播放一段几乎无声的缓冲并等待结束
	Prime(ctx context.Context, d time.Duration) error
	Load(ctx context.Context, rec asset.Record) (Clip, error)
	Silence(d time.Duration) (Clip, error)
	Tone(t Tone) (Clip, error)
	Close() error
}

// Clip 已解码、可重复播放的音频
type Clip interface {
	Duration() time.Duration
	NewVoice() (Voice, error)
	Release()
}

// Voice 一次播放。done 必须异步调用，且 Stop 之后不再调用。
type Voice interface {
	Start(loop bool, done func(error)) error
	Stop()
	SetVolume(v float64)
}

// clipHandle 缓存里保存的句柄，记录是否已经试播过
type clipHandle struct {
	Clip
	path string

	primeMu sync.Mutex
	primed  atomic.Bool
	refs    atomic.Int32
}

func newClipHandle(path string, c Clip) *clipHandle {
	return &clipHandle{Clip: c, path: path}
}

func (h *clipHandle) acquire() { h.refs.Add(1) }
func (h *clipHandle) release() { h.refs.Add(-1) }
func (h *clipHandle) inUse() bool {
	return h.refs.Load() > 0
}

package audio

import (
	"context"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"
)

// State 播放请求状态
type State string

const (
	StateCreated      State = "created"
	StateQueued       State = "queued"
	StateInterrupting State = "interrupting"
	StatePlaying      State = "playing"
	StateCompleted    State = "completed"
	StateErrored      State = "errored"
	StateStopped      State = "stopped"
	StateDeclined     State = "declined"
)

// Terminal 是否是终态
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateErrored, StateStopped, StateDeclined:
		return true
	}
	return false
}

// PlayOptions Play 的可选参数，零值表示使用通道默认值
type PlayOptions struct {
	Channel  string
	Priority *int     // nil 表示使用通道优先级
	Policy   Policy   // 空表示 smart
	Volume   *float64 // nil 表示使用通道音量，0 是合法的静音
	FadeIn   bool
	Loop     bool

	// Crossfade 打断当前流时新旧两个流同时过渡，只在开启了交叉淡入淡出的通道上生效
	Crossfade bool

	OnComplete func(id string)
	OnError    func(id string, err error)
}

// Prio 返回优先级覆盖值
func Prio(p int) *int { return &p }

// Vol 返回音量覆盖值
func Vol(v float64) *float64 { return &v }

// Request 一次播放请求。开始播放后即为活动流，Done 在进入终态时关闭。
type Request struct {
	ID       string
	Spec     asset.Spec
	Asset    asset.Record
	Channel  string
	Priority int
	Policy   Policy
	Volume   float64
	FadeIn   bool
	Loop     bool
	Created  time.Time

	onComplete func(id string)
	onError    func(id string, err error)

	mu      sync.Mutex
	state   State
	err     error
	started time.Time
	voice   Voice
	clip    *clipHandle
	preset  *clipHandle // 合成音效直接带着音频进来
	duck    float64 // 被 duck 策略压在底层时小于 1
	done    chan struct{}
}

func newRequest(id string, spec asset.Spec, rec asset.Record, opts PlayOptions) *Request {
	return &Request{
		ID:         id,
		Spec:       spec,
		Asset:      rec,
		Channel:    opts.Channel,
		Policy:     opts.Policy,
		FadeIn:     opts.FadeIn,
		Loop:       opts.Loop,
		Created:    time.Now(),
		onComplete: opts.OnComplete,
		onError:    opts.OnError,
		state:      StateCreated,
		duck:       1,
		done:       make(chan struct{}),
	}
}

// State 当前状态
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err 出错时的原因
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// StartTime 开始播放的时间，未开始为零值
func (r *Request) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Done 进入终态时关闭
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait 等待请求结束。只返回 ctx 的错误，播放失败的原因见 Err。
func (r *Request) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

func (r *Request) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// finish 只有第一次进入终态生效
func (r *Request) finish(s State, err error) bool {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.state = s
	r.err = err
	clip := r.clip
	r.clip = nil
	r.mu.Unlock()

	if clip != nil {
		clip.release()
	}
	close(r.done)
	return true
}

func (r *Request) currentVoice() Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.voice
}

// StreamState 活动流快照
type StreamState struct {
	ID       string  `json:"id"`
	Key      string  `json:"key"`
	Path     string  `json:"path"`
	Priority int     `json:"priority"`
	Volume   float64 `json:"volume"`
	State    State   `json:"state"`
	Loop     bool    `json:"loop,omitempty"`
	Ducked   bool    `json:"ducked,omitempty"`
	Started  int64   `json:"started,omitempty"`
}

func (r *Request) snapshot() StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := StreamState{
		ID:       r.ID,
		Key:      r.Asset.Key,
		Path:     r.Asset.Path,
		Priority: r.Priority,
		Volume:   r.Volume,
		State:    r.state,
		Loop:     r.Loop,
		Ducked:   r.duck < 1,
	}
	if !r.started.IsZero() {
		st.Started = r.started.UnixMilli()
	}
	return st
}

package audio

import (
	"context"
	"sort"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"

	"go.uber.org/zap"
)

// AssetResolver 由 asset.Resolver 实现
type AssetResolver interface {
	Resolve(ctx context.Context, spec asset.Spec) (asset.Record, error)
}

// BackendFactory 创建主后端，返回错误时引擎退回静默后端
type BackendFactory func(ctx context.Context) (Backend, error)

// Engine 多通道播放引擎。通道、缓存、预加载和预热都归同一个实例所有。
type Engine struct {
	cfg      Config
	resolver AssetResolver
	cache    *Cache
	log      *zap.Logger

	preloader *Preloader
	warmup    *WarmupController

	initOnce sync.Once
	factory  BackendFactory
	backMu   sync.RWMutex
	primary  Backend
	fallback Backend

	mu        sync.Mutex
	channels  map[string]*Channel
	order     []string
	active    map[string]*Request
	sequences map[string]*sequenceToken
	master    float64
	muted     bool
	closed    bool

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	newID func() string
}

// Option 引擎构造选项
type Option func(*Engine)

// WithBackend 固定使用指定后端，跳过探测
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		e.factory = func(context.Context) (Backend, error) { return b, nil }
	}
}

// WithBackendFactory 初始化时调用 f 创建主后端
func WithBackendFactory(f BackendFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithFallbackBackend 替换默认的静默后端
func WithFallbackBackend(b Backend) Option {
	return func(e *Engine) { e.fallback = b }
}

// WithNetworkProbe 预加载用来判断网速的探测函数
func WithNetworkProbe(probe func(ctx context.Context) error) Option {
	return func(e *Engine) { e.preloader.probe = probe }
}

// WithIDGenerator 测试中使用固定 ID
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New 创建引擎，需要在收到用户交互之后才能出声
func New(cfg Config, resolver AssetResolver, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		resolver:  resolver,
		cache:     NewCache(cfg.MemoryLimit),
		log:       logger.Named("engine"),
		fallback:  NewNullBackend(nil),
		channels:  make(map[string]*Channel, len(cfg.Channels)),
		active:    make(map[string]*Request),
		sequences: make(map[string]*sequenceToken),
		master:    cfg.MasterVolume,
		subs:      make(map[int]func(Event)),
		newID:     newUUID,
	}
	for _, ch := range cfg.Channels {
		e.channels[ch.Name] = newChannel(ch)
		e.order = append(e.order, ch.Name)
	}
	e.preloader = newPreloader(e)
	e.warmup = NewWarmupController(e.warmupSteps()...)
	e.warmup.onEvent = e.emit
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config 生效中的参数
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Cache() *Cache { return e.cache }

func (e *Engine) Preloader() *Preloader { return e.preloader }

func (e *Engine) Warmup() *WarmupController { return e.warmup }

// Initialize 选定主后端，只执行一次
func (e *Engine) Initialize(ctx context.Context) {
	e.initOnce.Do(func() {
		var primary Backend
		if e.factory != nil {
			b, err := e.factory(ctx)
			if err != nil {
				e.log.Warn("主音频后端不可用，使用静默后端", logger.ErrorField(err))
			} else {
				primary = b
			}
		}
		if primary == nil {
			primary = e.fallback
		}

		e.backMu.Lock()
		e.primary = primary
		e.backMu.Unlock()
		e.log.Info("音频引擎初始化完成", logger.String("backend", primary.Name()))
	})
}

func (e *Engine) backend() Backend {
	e.backMu.RLock()
	defer e.backMu.RUnlock()
	if e.primary == nil {
		return e.fallback
	}
	return e.primary
}

// BackendName 当前使用的后端
func (e *Engine) BackendName() string {
	e.backMu.RLock()
	defer e.backMu.RUnlock()
	if e.primary == nil {
		return ""
	}
	return e.primary.Name()
}

func (e *Engine) warmupSteps() []WarmupStep {
	return []WarmupStep{
		{Name: "resume", Run: func(ctx context.Context) error {
			e.Initialize(ctx)
			return e.backend().Resume(ctx)
		}},
		{Name: "prime-primary", Run: func(ctx context.Context) error {
			return e.backend().Prime(ctx, e.cfg.SilentPrewarmDuration)
		}},
		{Name: "prime-fallback", Run: func(ctx context.Context) error {
			if e.fallback == e.backend() {
				return nil
			}
			return e.fallback.Prime(ctx, e.cfg.SilentPrewarmDuration)
		}},
	}
}

// Close 停止所有播放和后台任务
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.preloader.shutdown()
	e.warmup.Disarm()
	e.Stop(StopAll)
	e.cache.Clear()

	e.backMu.RLock()
	primary := e.primary
	e.backMu.RUnlock()
	if primary != nil {
		return primary.Close()
	}
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Channels 通道名，按配置顺序
func (e *Engine) Channels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// EngineState 调试用快照
type EngineState struct {
	Backend       string         `json:"backend"`
	Warmup        WarmupState    `json:"warmup"`
	MasterVolume  float64        `json:"masterVolume"`
	Muted         bool           `json:"muted"`
	Channels      []ChannelState `json:"channels"`
	ActiveStreams []string       `json:"activeStreams"`
	Sequences     int            `json:"sequences"`
	Cache         CacheStats     `json:"cache"`
}

// State 当前通道、活动流和缓存状态
func (e *Engine) State() EngineState {
	e.mu.Lock()
	st := EngineState{
		Backend:      e.BackendName(),
		Warmup:       e.warmup.State(),
		MasterVolume: e.master,
		Muted:        e.muted,
		Sequences:    len(e.sequences),
	}
	for _, name := range e.order {
		st.Channels = append(st.Channels, e.channels[name].snapshot())
	}
	st.ActiveStreams = make([]string, 0, len(e.active))
	for id := range e.active {
		st.ActiveStreams = append(st.ActiveStreams, id)
	}
	e.mu.Unlock()

	sort.Strings(st.ActiveStreams)
	st.Cache = e.cache.Stats()
	return st
}

// IsActive 流是否仍在活动集合中
func (e *Engine) IsActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

// SetMasterVolume 范围 0~1，立即作用于所有正在播放的流
func (e *Engine) SetMasterVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.master = v
	e.applyAllLocked()
	e.mu.Unlock()
	e.log.Debug("主音量调整", logger.Float64("volume", v))
}

// SetMuted 不指定通道时作用于全局
func (e *Engine) SetMuted(muted bool, channels ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(channels) == 0 {
		e.muted = muted
		e.applyAllLocked()
		return nil
	}
	for _, name := range channels {
		ch, ok := e.channels[name]
		if !ok {
			return ErrUnknownChannel
		}
		ch.muted = muted
		e.applyChannelLocked(ch)
	}
	return nil
}

// effectiveVolumeLocked 请求音量 × 通道压低 × 主音量，静音时为 0
func (e *Engine) effectiveVolumeLocked(ch *Channel, req *Request) float64 {
	if e.muted || ch.muted {
		return 0
	}
	req.mu.Lock()
	duck := req.duck
	req.mu.Unlock()
	return req.Volume * duck * ch.duckGain * e.master
}

func (e *Engine) applyChannelLocked(ch *Channel) {
	for _, req := range ch.streams() {
		if v := req.currentVoice(); v != nil {
			v.SetVolume(e.effectiveVolumeLocked(ch, req))
		}
	}
}

func (e *Engine) applyAllLocked() {
	for _, ch := range e.channels {
		e.applyChannelLocked(ch)
	}
}

// ramp 20 步线性过渡，d <= 0 时直接设置目标值
func ramp(ctx context.Context, d time.Duration, from, to float64, apply func(v float64)) {
	const steps = 20
	if d <= 0 {
		apply(to)
		return
	}
	ticker := time.NewTicker(d / steps)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			apply(to)
			return
		case <-ticker.C:
		}
		apply(from + (to-from)*float64(i)/steps)
	}
}

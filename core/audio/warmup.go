package audio

import (
	"context"
	"sync"

	"PhuzzyAudio/logger"
)

// WarmupState 预热状态
type WarmupState string

const (
	WarmupArmed               WarmupState = "armed"
	WarmupInteractionReceived WarmupState = "interactionReceived"
	WarmupWarmingUp           WarmupState = "warmingUp"
	WarmupWarmedUp            WarmupState = "warmedUp"
)

// InteractionEvents 视为首次用户交互的事件
var InteractionEvents = []string{"click", "touchstart", "keydown", "mousedown"}

// InteractionSource 用户交互事件来源，AddListener 返回移除函数
type InteractionSource interface {
	AddListener(event string, fn func()) (remove func())
}

// WarmupStep 预热步骤，失败只记日志
type WarmupStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// WarmupController 等待第一次用户交互，然后依次执行预热步骤
type WarmupController struct {
	steps []WarmupStep

	mu       sync.Mutex
	state    WarmupState
	removers []func()
	running  chan struct{}
	onEvent  func(Event)
}

// NewWarmupController 初始状态为 armed
func NewWarmupController(steps ...WarmupStep) *WarmupController {
	return &WarmupController{steps: steps, state: WarmupArmed}
}

// State 当前状态
func (w *WarmupController) State() WarmupState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Arm 在 src 上监听交互事件，第一次触发后全部移除
func (w *WarmupController) Arm(src InteractionSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WarmupArmed {
		return
	}
	for _, ev := range InteractionEvents {
		w.removers = append(w.removers, src.AddListener(ev, w.MarkInteraction))
	}
}

// Disarm 移除尚未触发的监听
func (w *WarmupController) Disarm() {
	w.mu.Lock()
	removers := w.removers
	w.removers = nil
	w.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
}

// MarkInteraction 记录首次交互并在后台开始预热，重复调用无效果
func (w *WarmupController) MarkInteraction() {
	w.mu.Lock()
	if w.state != WarmupArmed {
		w.mu.Unlock()
		return
	}
	w.state = WarmupInteractionReceived
	removers := w.removers
	w.removers = nil
	onEvent := w.onEvent
	w.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	logger.Info("收到首次用户交互，开始预热音频")
	if onEvent != nil {
		onEvent(Event{Kind: EventInteraction})
	}
	go w.Warmup(context.Background())
}

// Warmup 执行预热步骤。并发调用时等待同一次预热结束。
func (w *WarmupController) Warmup(ctx context.Context) {
	w.mu.Lock()
	switch w.state {
	case WarmupWarmedUp:
		w.mu.Unlock()
		return
	case WarmupWarmingUp:
		running := w.running
		w.mu.Unlock()
		select {
		case <-running:
		case <-ctx.Done():
		}
		return
	}
	w.state = WarmupWarmingUp
	running := make(chan struct{})
	w.running = running
	w.mu.Unlock()

	for _, step := range w.steps {
		if err := step.Run(ctx); err != nil {
			logger.Warn("预热步骤失败", logger.String("step", step.Name), logger.ErrorField(err))
			continue
		}
		logger.Debug("预热步骤完成", logger.String("step", step.Name))
	}

	w.mu.Lock()
	w.state = WarmupWarmedUp
	onEvent := w.onEvent
	w.mu.Unlock()
	close(running)

	logger.Info("音频预热完成")
	if onEvent != nil {
		onEvent(Event{Kind: EventWarmedUp})
	}
}

// EnsureReady 未收到交互时立即返回 ErrAudioNotReady，否则等待预热结束
func (w *WarmupController) EnsureReady(ctx context.Context) error {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	switch state {
	case WarmupArmed:
		return ErrAudioNotReady
	case WarmupWarmedUp:
		return nil
	}
	w.Warmup(ctx)
	return ctx.Err()
}

// InteractionBus 进程内的交互事件分发，HTTP 和 WebSocket 收到的交互从这里进入
type InteractionBus struct {
	mu        sync.Mutex
	listeners map[string]map[int]func()
	next      int
}

func NewInteractionBus() *InteractionBus {
	return &InteractionBus{listeners: make(map[string]map[int]func())}
}

func (b *InteractionBus) AddListener(event string, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[event] == nil {
		b.listeners[event] = make(map[int]func())
	}
	id := b.next
	b.next++
	b.listeners[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners[event], id)
			b.mu.Unlock()
		})
	}
}

// Dispatch 触发事件，返回调用的监听器数量
func (b *InteractionBus) Dispatch(event string) int {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.listeners[event]))
	for _, fn := range b.listeners[event] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// ListenerCount 某事件当前的监听器数量
func (b *InteractionBus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

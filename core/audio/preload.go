package audio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

// PreloadMode 预加载方式
type PreloadMode string

const (
	// ModeImmediate 并行加载并等待全部结束
	ModeImmediate PreloadMode = "immediate"
	// ModeBackground 放入后台队列逐个加载，立即返回
	ModeBackground PreloadMode = "background"
)

// NetworkSpeed 网络速度分级，每个会话只测一次
type NetworkSpeed string

const (
	NetworkUnknown NetworkSpeed = "unknown"
	NetworkFast    NetworkSpeed = "fast"
	NetworkMedium  NetworkSpeed = "medium"
	NetworkSlow    NetworkSpeed = "slow"
)

const (
	fastNetworkThreshold = 100 * time.Millisecond
	slowNetworkThreshold = time.Second
	longQueueThreshold   = 5
	memoryPressureRatio  = 0.8
)

// ScenarioInfo 游戏中的一个场景
type ScenarioInfo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// GameState 后台预加载读取的游戏进度
type GameState struct {
	PackID               int            `json:"packId"`
	CurrentScenarioIndex int            `json:"currentScenarioIndex"`
	Scenarios            []ScenarioInfo `json:"scenarios"`
}

// GameStateProvider 每个周期调用一次，返回 nil 表示暂时没有进度
type GameStateProvider func() *GameState

// PreloadItem 后台预加载队列中的一项
type PreloadItem struct {
	Pack          int        `json:"pack"`
	Scenario      int        `json:"scenario"`
	Part          asset.Part `json:"type"`
	Priority      int        `json:"priority"`
	ScenarioTitle string     `json:"scenarioTitle,omitempty"`
}

// Spec 对应的音频描述
func (it PreloadItem) Spec() asset.Spec {
	return asset.PackN(it.Pack, it.Scenario, it.Part)
}

// PreloadStatus 预加载状态快照
type PreloadStatus struct {
	Running      bool          `json:"running"`
	NetworkSpeed NetworkSpeed  `json:"networkSpeed"`
	Distance     int           `json:"distance"`
	CurrentIndex int           `json:"currentIndex"`
	Queue        []PreloadItem `json:"queue"`
	Background   int           `json:"background"`
	Loaded       int           `json:"loaded"`
	Failed       int           `json:"failed"`
}

// Preloader 提前解析并加载即将用到的音频，和播放共用缓存与解析器
type Preloader struct {
	e     *Engine
	log   *zap.Logger
	probe func(ctx context.Context) error

	mu        sync.Mutex
	queue     []PreloadItem
	lastIndex int
	lastPack  int
	speed     NetworkSpeed
	loaded    int
	failed    int
	stopChan  chan struct{}
	speedOnce sync.Once

	bgMu      sync.Mutex
	bgQueue   []asset.Spec
	bgRunning bool
	bgWg      sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func newPreloader(e *Engine) *Preloader {
	return &Preloader{
		e:         e,
		log:       logger.Named("preload"),
		lastIndex: -1,
		speed:     NetworkUnknown,
		quit:      make(chan struct{}),
	}
}

// Preload 立即模式返回成功加载的记录；后台模式立即返回 nil
func (e *Engine) Preload(ctx context.Context, specs []asset.Spec, mode PreloadMode) ([]asset.Record, error) {
	return e.preloader.Preload(ctx, specs, mode)
}

// StartBackgroundPreloading 按游戏进度自适应地预加载后续场景
func (e *Engine) StartBackgroundPreloading(provider GameStateProvider) {
	e.preloader.StartBackgroundPreloading(provider)
}

func (e *Engine) StopBackgroundPreloading() {
	e.preloader.StopBackgroundPreloading()
}

// PreloadStatus 预加载状态
func (e *Engine) PreloadStatus() PreloadStatus {
	return e.preloader.Status()
}

// Preload 见 Engine.Preload
func (p *Preloader) Preload(ctx context.Context, specs []asset.Spec, mode PreloadMode) ([]asset.Record, error) {
	if p.e.isClosed() {
		return nil, ErrEngineClosed
	}
	switch mode {
	case ModeImmediate, "":
		return p.preloadImmediate(ctx, specs), nil
	case ModeBackground:
		p.enqueueBackground(specs)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown preload mode %q", mode)
}

func (p *Preloader) preloadImmediate(ctx context.Context, specs []asset.Spec) []asset.Record {
	if len(specs) == 0 {
		return nil
	}
	p.e.Initialize(ctx)

	results := make([]*asset.Record, len(specs))
	swg := sizedwaitgroup.New(p.e.cfg.PreloadConcurrency)
	for i, spec := range specs {
		swg.Add()
		go func(i int, spec asset.Spec) {
			defer swg.Done()
			itemCtx, cancel := context.WithTimeout(ctx, p.e.cfg.PreloadTimeout)
			defer cancel()
			rec, err := p.load(itemCtx, spec)
			if err != nil {
				p.log.Warn("预加载失败", logger.String("spec", spec.String()), logger.ErrorField(err))
				return
			}
			results[i] = &rec
		}(i, spec)
	}
	swg.Wait()

	out := make([]asset.Record, 0, len(specs))
	for _, rec := range results {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	p.log.Info("批量预加载完成",
		logger.Int("requested", len(specs)),
		logger.Int("loaded", len(out)))
	return out
}

// load 解析后加载进缓存，不持有句柄
func (p *Preloader) load(ctx context.Context, spec asset.Spec) (asset.Record, error) {
	rec, err := p.e.resolver.Resolve(ctx, spec)
	if err != nil {
		p.countResult(false)
		return asset.Record{}, &PreloadError{Key: spec.String(), Err: err}
	}
	h, err := p.e.loadClip(ctx, rec)
	if err != nil {
		p.countResult(false)
		return asset.Record{}, &PreloadError{Key: rec.Key, Err: err}
	}
	h.release()
	p.countResult(true)
	p.e.emit(Event{Kind: EventPreloaded, Key: rec.Key, Path: rec.Path})
	return rec, nil
}

func (p *Preloader) countResult(ok bool) {
	p.mu.Lock()
	if ok {
		p.loaded++
	} else {
		p.failed++
	}
	p.mu.Unlock()
}

func (p *Preloader) enqueueBackground(specs []asset.Spec) {
	p.bgMu.Lock()
	defer p.bgMu.Unlock()
	p.bgQueue = append(p.bgQueue, specs...)
	if p.bgRunning || len(p.bgQueue) == 0 {
		return
	}
	p.bgRunning = true
	p.bgWg.Add(1)
	go p.drainBackground()
}

// drainBackground 先进先出，每项之间让出一段时间
func (p *Preloader) drainBackground() {
	defer p.bgWg.Done()
	for {
		p.bgMu.Lock()
		select {
		case <-p.quit:
			// 关闭后不再取下一项
			p.bgQueue = nil
			p.bgRunning = false
			p.bgMu.Unlock()
			return
		default:
		}
		if len(p.bgQueue) == 0 {
			p.bgRunning = false
			p.bgMu.Unlock()
			return
		}
		spec := p.bgQueue[0]
		p.bgQueue = p.bgQueue[1:]
		p.bgMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.e.cfg.PreloadTimeout)
		if _, err := p.load(ctx, spec); err != nil {
			p.log.Debug("后台预加载失败", logger.String("spec", spec.String()), logger.ErrorField(err))
		}
		cancel()

		if p.e.cfg.BackgroundYield > 0 {
			select {
			case <-p.quit:
				p.bgMu.Lock()
				p.bgQueue = nil
				p.bgRunning = false
				p.bgMu.Unlock()
				return
			case <-time.After(p.e.cfg.BackgroundYield):
			}
		}
	}
}

// StartBackgroundPreloading 重复调用无效果
func (p *Preloader) StartBackgroundPreloading(provider GameStateProvider) {
	if provider == nil {
		return
	}
	p.mu.Lock()
	if p.stopChan != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stopChan = stop
	p.mu.Unlock()

	p.log.Info("后台预加载启动")
	p.wg.Add(1)
	go p.run(stop, provider)
}

// StopBackgroundPreloading 等待当前周期结束
func (p *Preloader) StopBackgroundPreloading() {
	p.mu.Lock()
	stop := p.stopChan
	p.stopChan = nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	p.wg.Wait()
	p.log.Info("后台预加载已停止")
}

// shutdown 引擎关闭时调用，同时丢弃后台队列
func (p *Preloader) shutdown() {
	p.quitOnce.Do(func() { close(p.quit) })
	p.StopBackgroundPreloading()
	p.bgWg.Wait()
}

func (p *Preloader) run(stop chan struct{}, provider GameStateProvider) {
	defer p.wg.Done()

	p.classifyNetwork()
	for {
		delay := p.cycle(provider)
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-p.quit:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle 一个预加载周期，返回下次等待时间。出错或 panic 时退避。
func (p *Preloader) cycle(provider GameStateProvider) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("后台预加载周期异常", logger.Any("panic", r))
			delay = p.e.cfg.ErrorBackoff
		}
	}()

	state := provider()
	if state == nil {
		return p.nextDelay()
	}
	p.refresh(state)

	item, ok := p.pop()
	if !ok {
		return p.nextDelay()
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.e.cfg.PreloadTimeout)
	defer cancel()
	rec, err := p.load(ctx, item.Spec())
	if err != nil {
		p.log.Warn("后台预加载失败",
			logger.Int("pack", item.Pack),
			logger.Int("scenario", item.Scenario),
			logger.String("type", string(item.Part)),
			logger.ErrorField(err))
		return p.e.cfg.ErrorBackoff
	}
	p.log.Debug("后台预加载完成",
		logger.String("key", rec.Key),
		logger.Int("priority", item.Priority),
		logger.Int("remaining", p.queueLen()))
	return p.nextDelay()
}

// refresh 进度变化时重建队列
func (p *Preloader) refresh(state *GameState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.CurrentScenarioIndex == p.lastIndex && state.PackID == p.lastPack {
		return
	}
	p.lastIndex = state.CurrentScenarioIndex
	p.lastPack = state.PackID
	p.queue = buildQueue(state, p.distanceLocked())
	p.log.Debug("预加载队列已重建",
		logger.Int("current", state.CurrentScenarioIndex),
		logger.Int("items", len(p.queue)))
}

// buildQueue 当前场景之后 n 个场景的标题、正文、结论，越近优先级越高
func buildQueue(state *GameState, n int) []PreloadItem {
	var items []PreloadItem
	for i := 1; i <= n; i++ {
		idx := state.CurrentScenarioIndex + i
		if idx < 0 || idx >= len(state.Scenarios) {
			break
		}
		sc := state.Scenarios[idx]
		pack, scenario := state.PackID, sc.ID%asset.ScenariosPerPack
		if pack <= 0 {
			pack = sc.ID / asset.ScenariosPerPack
		}
		for _, part := range []asset.Part{asset.PartTitle, asset.PartContent, asset.PartClaim} {
			items = append(items, PreloadItem{
				Pack:          pack,
				Scenario:      scenario,
				Part:          part,
				Priority:      (n-(i-1))*10 + part.Weight(),
				ScenarioTitle: sc.Title,
			})
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Priority > items[b].Priority
	})
	return items
}

func (p *Preloader) pop() (PreloadItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return PreloadItem{}, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

func (p *Preloader) queueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// distanceLocked 慢速网络减半（至少 1），快速网络加倍，不超过上限
func (p *Preloader) distanceLocked() int {
	n := p.e.cfg.PreloadDistance
	switch p.speed {
	case NetworkSlow:
		n = max(1, n/2)
	case NetworkFast:
		n *= 2
	}
	if p.e.cfg.MaxPreloadDistance > 0 {
		n = min(n, p.e.cfg.MaxPreloadDistance)
	}
	return n
}

// nextDelay 快速网络或队列较长时缩短，慢速网络或内存紧张时延长
func (p *Preloader) nextDelay() time.Duration {
	p.mu.Lock()
	speed := p.speed
	queued := len(p.queue)
	p.mu.Unlock()

	d := p.e.cfg.PreloadBaseDelay
	if speed == NetworkFast || queued > longQueueThreshold {
		d /= 2
	}
	if speed == NetworkSlow {
		d *= 2
	}
	if p.e.cache.Ratio() > memoryPressureRatio {
		d *= 3
	}
	return max(d, p.e.cfg.PreloadMinDelay)
}

// classifyNetwork 用一次很小的请求计时，出错按中速处理
func (p *Preloader) classifyNetwork() {
	p.speedOnce.Do(func() {
		speed := NetworkMedium
		if p.probe != nil {
			ctx, cancel := context.WithTimeout(context.Background(), slowNetworkThreshold*5)
			start := time.Now()
			err := p.probe(ctx)
			elapsed := time.Since(start)
			cancel()
			switch {
			case err != nil:
				p.log.Warn("网络测速失败，按中速处理", logger.ErrorField(err))
			case elapsed < fastNetworkThreshold:
				speed = NetworkFast
			case elapsed > slowNetworkThreshold:
				speed = NetworkSlow
			}
			p.log.Info("网络测速完成",
				logger.String("speed", string(speed)),
				logger.Duration("elapsed", elapsed))
		}
		p.mu.Lock()
		p.speed = speed
		p.mu.Unlock()
	})
}

// Speed 测速结果，未测速时为 unknown
func (p *Preloader) Speed() NetworkSpeed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Status 见 Engine.PreloadStatus
func (p *Preloader) Status() PreloadStatus {
	p.mu.Lock()
	st := PreloadStatus{
		Running:      p.stopChan != nil,
		NetworkSpeed: p.speed,
		Distance:     p.distanceLocked(),
		CurrentIndex: p.lastIndex,
		Queue:        append([]PreloadItem{}, p.queue...),
		Loaded:       p.loaded,
		Failed:       p.failed,
	}
	p.mu.Unlock()

	p.bgMu.Lock()
	st.Background = len(p.bgQueue)
	p.bgMu.Unlock()
	return st
}

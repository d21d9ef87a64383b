package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"
)

// StopAll 传给 Stop 时停止所有通道并清空队列
const StopAll = "all"

// Play 解析资源并按通道的打断策略播放。排队或被拒绝的请求立即返回，调用方通过 Request.Wait 等待结果。
func (e *Engine) Play(ctx context.Context, spec asset.Spec, opts PlayOptions) (*Request, error) {
	if err := e.preflight(ctx); err != nil {
		return nil, err
	}

	rec, err := e.resolver.Resolve(ctx, spec)
	if err != nil {
		e.log.Warn("音频解析失败", logger.String("spec", spec.String()), logger.ErrorField(err))
		if opts.OnError != nil {
			opts.OnError("", err)
		}
		return nil, err
	}
	return e.playRecord(ctx, spec, rec, nil, opts)
}

// PlayUISound 合成并播放界面音效，同时视为一次用户交互
func (e *Engine) PlayUISound(ctx context.Context, name string) (*Request, error) {
	tone, ok := UITones[name]
	if !ok {
		return nil, fmt.Errorf("unknown ui sound %q", name)
	}
	e.warmup.MarkInteraction()
	if err := e.preflight(ctx); err != nil {
		return nil, err
	}

	clip, err := e.backend().Tone(tone)
	if err != nil {
		return nil, &PlaybackError{Path: "tone:" + name, Err: err}
	}
	rec := asset.Record{Key: "ui-" + name, Path: "tone:" + name, Type: asset.PartTone, Verified: true}
	h := newClipHandle(rec.Path, clip)
	h.primed.Store(true)
	return e.playRecord(ctx, asset.Path(rec.Path), rec, h, PlayOptions{
		Channel: ChannelUI,
		Policy:  PolicyImmediate,
		Volume:  Vol(1),
	})
}

func (e *Engine) preflight(ctx context.Context) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	e.Initialize(ctx)
	return e.warmup.EnsureReady(ctx)
}

func (e *Engine) playRecord(ctx context.Context, spec asset.Spec, rec asset.Record, clip *clipHandle, opts PlayOptions) (*Request, error) {
	if opts.Channel == "" {
		opts.Channel = ChannelDialogue
	}
	if opts.Policy == "" {
		opts.Policy = PolicySmart
	}
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("unknown interrupt policy %q", opts.Policy)
	}

	e.mu.Lock()
	ch, ok := e.channels[opts.Channel]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, opts.Channel)
	}
	req := newRequest(e.newID(), spec, rec, opts)
	req.Priority = ch.priority
	if opts.Priority != nil {
		req.Priority = *opts.Priority
	}
	req.Volume = ch.volume
	if opts.Volume != nil {
		req.Volume = min(max(*opts.Volume, 0), 1)
	}
	req.preset = clip
	cur := ch.current

	var displaced *Request
	fadeDisplaced := false
	crossfade := false

	switch {
	case cur == nil:
		e.reserveLocked(ch, req)

	case opts.Policy == PolicyNone:
		e.mu.Unlock()
		req.finish(StateDeclined, nil)
		e.log.Debug("通道忙，请求被拒绝", logger.String("channel", ch.name), logger.String("id", req.ID))
		return req, nil

	case opts.Policy == PolicyQueue,
		opts.Policy == PolicySmart && req.Priority <= cur.Priority:
		req.setState(StateQueued)
		ch.enqueue(req)
		e.mu.Unlock()
		e.emit(Event{Kind: EventQueued, RequestID: req.ID, Channel: ch.name, Key: rec.Key, Path: rec.Path})
		e.log.Debug("请求进入队列",
			logger.String("channel", ch.name),
			logger.String("id", req.ID),
			logger.Int("queue", len(ch.queue)))
		return req, nil

	case opts.Policy == PolicyImmediate:
		displaced = cur
		e.reserveLocked(ch, req)

	case opts.Policy == PolicySmart:
		displaced = cur
		fadeDisplaced = true
		crossfade = opts.Crossfade && ch.crossfade
		cur.setState(StateInterrupting)
		e.reserveLocked(ch, req)

	case opts.Policy == PolicyDuck:
		before := e.effectiveVolumeLocked(ch, cur)
		cur.mu.Lock()
		cur.duck = e.cfg.DuckingLevel
		cur.mu.Unlock()
		ch.underlay = append(ch.underlay, cur)
		e.reserveLocked(ch, req)
		if v := cur.currentVoice(); v != nil {
			go ramp(context.Background(), e.cfg.CrossfadeDuration, before, e.effectiveVolumeLocked(ch, cur), v.SetVolume)
		}
	}
	e.mu.Unlock()

	if displaced != nil {
		switch {
		case crossfade:
			// 新流从 0 淡入，旧流同时淡出
			req.FadeIn = true
			go e.halt(displaced, e.cfg.CrossfadeDuration)
		case fadeDisplaced:
			// 先淡出停止当前流，再开始新流
			e.halt(displaced, e.cfg.CrossfadeDuration)
		default:
			e.halt(displaced, 0)
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()
	if err := e.start(loadCtx, req); err != nil {
		e.fail(req, err)
		return req, err
	}
	return req, nil
}

// reserveLocked 在加载之前占住通道
func (e *Engine) reserveLocked(ch *Channel, req *Request) {
	ch.current = req
	e.active[req.ID] = req
	req.setState(StatePlaying)
}

// start 取得音频（缓存优先）、首次试播、创建 voice 并开始播放
func (e *Engine) start(ctx context.Context, req *Request) error {
	clip := req.preset
	if clip == nil {
		var err error
		clip, err = e.loadClip(ctx, req.Asset)
		if err != nil {
			return &PlaybackError{RequestID: req.ID, Path: req.Asset.Path, Err: err}
		}
	} else {
		clip.acquire()
	}

	e.primeClip(ctx, clip)

	voice, err := clip.NewVoice()
	if err != nil {
		clip.release()
		return &PlaybackError{RequestID: req.ID, Path: req.Asset.Path, Err: err}
	}

	e.mu.Lock()
	if req.State().Terminal() {
		// 加载期间被停止
		e.mu.Unlock()
		clip.release()
		return nil
	}
	ch := e.channels[req.Channel]
	target := e.effectiveVolumeLocked(ch, req)
	initial := target
	if req.FadeIn {
		initial = 0
	}
	voice.SetVolume(initial)

	req.mu.Lock()
	req.voice = voice
	req.clip = clip
	req.started = time.Now()
	req.mu.Unlock()

	if err := voice.Start(req.Loop, func(err error) { e.onVoiceDone(req, err) }); err != nil {
		e.mu.Unlock()
		return &PlaybackError{RequestID: req.ID, Path: req.Asset.Path, Err: err}
	}
	e.mu.Unlock()

	e.log.Info("开始播放",
		logger.String("id", req.ID),
		logger.String("channel", req.Channel),
		logger.String("path", req.Asset.Path),
		logger.Int("priority", req.Priority))
	e.emit(Event{Kind: EventStarted, RequestID: req.ID, Channel: req.Channel, Key: req.Asset.Key, Path: req.Asset.Path})

	if req.FadeIn {
		go ramp(context.Background(), e.cfg.CrossfadeDuration, 0, 1, func(p float64) {
			e.mu.Lock()
			if req.State() == StatePlaying {
				voice.SetVolume(e.effectiveVolumeLocked(ch, req) * p)
			}
			e.mu.Unlock()
		})
	}
	return nil
}

// loadClip 缓存未命中时从后端加载，加载前先腾出空间。返回的句柄已被引用，用完需要 release。
func (e *Engine) loadClip(ctx context.Context, rec asset.Record) (*clipHandle, error) {
	cacheKey := rec.Path
	if rec.IsSilent() {
		cacheKey = "silent"
	}
	if h, ok := e.cache.acquire(cacheKey); ok {
		return h, nil
	}

	e.cache.EnsureCapacity(EstimateSize(0))

	type result struct {
		clip Clip
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var c Clip
		var err error
		if rec.IsSilent() {
			c, err = e.backend().Silence(e.cfg.SilentDuration)
		} else {
			c, err = e.backend().Load(ctx, rec)
		}
		ch <- result{c, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", rec.Path, ctx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	h := newClipHandle(cacheKey, res.clip)
	h.acquire()
	e.cache.Put(cacheKey, h, EstimateSize(res.clip.Duration()))
	return h, nil
}

// primeClip 每个句柄第一次播放前用几乎无声的音量试播一次
func (e *Engine) primeClip(ctx context.Context, h *clipHandle) {
	if h.primed.Load() {
		return
	}
	h.primeMu.Lock()
	defer h.primeMu.Unlock()
	if h.primed.Load() {
		return
	}
	defer h.primed.Store(true)

	d := min(e.cfg.PrimeDuration, h.Duration())
	if d <= 0 {
		return
	}
	voice, err := h.NewVoice()
	if err != nil {
		return
	}
	voice.SetVolume(e.cfg.PrimeVolume)

	primeCtx, cancel := context.WithTimeout(ctx, e.cfg.PrimeTimeout)
	defer cancel()
	ended := make(chan struct{}, 1)
	if err := voice.Start(false, func(error) { ended <- struct{}{} }); err != nil {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ended:
	case <-primeCtx.Done():
	}
	voice.Stop()
}

// PrimeForImmediatePlay 提前加载并试播，序列开始前调用可以消除首个片段的延迟
func (e *Engine) PrimeForImmediatePlay(ctx context.Context, spec asset.Spec) error {
	if err := e.preflight(ctx); err != nil {
		return err
	}
	rec, err := e.resolver.Resolve(ctx, spec)
	if err != nil {
		return err
	}
	primeCtx, cancel := context.WithTimeout(ctx, e.cfg.PrimeTimeout)
	defer cancel()
	h, err := e.loadClip(primeCtx, rec)
	if err != nil {
		return err
	}
	defer h.release()
	e.primeClip(primeCtx, h)
	e.log.Debug("音频已预备", logger.String("path", rec.Path))
	return nil
}

func (e *Engine) onVoiceDone(req *Request, err error) {
	if err != nil {
		e.fail(req, &PlaybackError{RequestID: req.ID, Path: req.Asset.Path, Err: err})
		return
	}
	e.complete(req, StateCompleted, nil)
}

func (e *Engine) fail(req *Request, err error) {
	e.log.Error("播放失败", logger.String("id", req.ID), logger.String("path", req.Asset.Path), logger.ErrorField(err))
	e.complete(req, StateErrored, err)
}

// complete 释放通道、移出活动集合、推进队列，回调在锁外执行
func (e *Engine) complete(req *Request, state State, err error) {
	e.mu.Lock()
	if req.State().Terminal() {
		e.mu.Unlock()
		return
	}
	delete(e.active, req.ID)
	ch := e.channels[req.Channel]
	ch.removeQueued(req)
	ch.removeUnderlay(req)

	var next *Request
	if ch.current == req {
		ch.current = nil
		next = e.advanceLocked(ch)
	}
	req.finish(state, err)
	// start 可能在 halt 读取 voice 之后才装上 voice，这里在锁内取出再停
	voice := req.currentVoice()
	e.mu.Unlock()

	if voice != nil && state != StateCompleted {
		voice.Stop()
	}

	kind := EventCompleted
	switch state {
	case StateErrored:
		kind = EventErrored
		if req.onError != nil {
			req.onError(req.ID, err)
		}
	case StateStopped:
		kind = EventStopped
	case StateCompleted:
		if req.onComplete != nil {
			req.onComplete(req.ID)
		}
	}
	e.emit(Event{Kind: kind, RequestID: req.ID, Channel: req.Channel, Key: req.Asset.Key, Path: req.Asset.Path, Err: err})

	if next != nil {
		go e.startQueued(next)
	}
}

// advanceLocked 通道空出后取队首；队列为空时把被压低的流恢复为当前流
func (e *Engine) advanceLocked(ch *Channel) *Request {
	if next := ch.dequeue(); next != nil {
		e.reserveLocked(ch, next)
		return next
	}
	if n := len(ch.underlay); n > 0 {
		restored := ch.underlay[n-1]
		ch.underlay = ch.underlay[:n-1]
		ch.current = restored
		restored.mu.Lock()
		from := restored.duck
		restored.duck = 1
		restored.mu.Unlock()
		if v := restored.currentVoice(); v != nil {
			target := e.effectiveVolumeLocked(ch, restored)
			go ramp(context.Background(), e.cfg.CrossfadeDuration, target*from, target, v.SetVolume)
		}
	}
	return nil
}

func (e *Engine) startQueued(req *Request) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LoadTimeout)
	defer cancel()
	if err := e.start(ctx, req); err != nil {
		e.fail(req, err)
	}
}

// halt 停止一个流，不触发完成回调；fade > 0 时先淡出
func (e *Engine) halt(req *Request, fade time.Duration) {
	if voice := req.currentVoice(); voice != nil {
		if fade > 0 {
			e.mu.Lock()
			ch := e.channels[req.Channel]
			from := e.effectiveVolumeLocked(ch, req)
			e.mu.Unlock()
			ramp(context.Background(), fade, from, 0, voice.SetVolume)
		}
		voice.Stop()
	}
	e.complete(req, StateStopped, nil)
}

// Stop target 可以是 "all"、通道名或流 ID
func (e *Engine) Stop(target string) error {
	if target == StopAll {
		for _, name := range e.Channels() {
			_ = e.StopChannelAndClearQueue(name)
		}
		return nil
	}

	e.mu.Lock()
	_, isChannel := e.channels[target]
	req, isStream := e.active[target]
	if !isStream {
		req = e.findQueuedLocked(target)
		isStream = req != nil
	}
	e.mu.Unlock()

	switch {
	case isChannel:
		return e.StopChannel(target, false)
	case isStream:
		e.halt(req, 0)
		return nil
	}
	return ErrStreamNotFound
}

func (e *Engine) findQueuedLocked(id string) *Request {
	for _, ch := range e.channels {
		for _, q := range ch.queue {
			if q.ID == id {
				return q
			}
		}
	}
	return nil
}

// StopChannel 停止当前流和被压低的流，队列保留并继续推进
func (e *Engine) StopChannel(name string, fadeOut bool) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownChannel
	}
	streams := ch.streams()
	e.mu.Unlock()

	fade := time.Duration(0)
	if fadeOut {
		fade = e.cfg.CrossfadeDuration
	}
	// 先停底层流，避免当前流结束时把底层流恢复出来
	for i := len(streams) - 1; i >= 0; i-- {
		e.halt(streams[i], fade)
	}
	return nil
}

// StopChannelAndClearQueue 打断该通道上的序列、清空队列并停止播放
func (e *Engine) StopChannelAndClearQueue(name string) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownChannel
	}
	for _, tok := range e.sequences {
		if tok.channel == name {
			tok.interrupt()
		}
	}
	queued := ch.queue
	ch.queue = nil
	streams := ch.streams()
	e.mu.Unlock()

	for _, req := range queued {
		e.complete(req, StateStopped, nil)
	}
	for i := len(streams) - 1; i >= 0; i-- {
		e.halt(streams[i], 0)
	}
	if len(queued) > 0 || len(streams) > 0 {
		e.log.Info("通道已清空",
			logger.String("channel", name),
			logger.Int("queued", len(queued)),
			logger.Int("stopped", len(streams)))
	}
	return nil
}

// Duck 把通道音量压到 DuckingLevel，不暂停播放
func (e *Engine) Duck(ctx context.Context, name string) error {
	return e.rampChannel(ctx, name, e.cfg.DuckingLevel)
}

// Unduck 恢复通道音量
func (e *Engine) Unduck(ctx context.Context, name string) error {
	return e.rampChannel(ctx, name, 1)
}

func (e *Engine) rampChannel(ctx context.Context, name string, to float64) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownChannel
	}
	ch.duckGen++
	gen := ch.duckGen
	from := ch.duckGain
	e.mu.Unlock()

	ramp(ctx, e.cfg.CrossfadeDuration, from, to, func(v float64) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if ch.duckGen != gen {
			// 已有新的过渡开始
			return
		}
		ch.duckGain = v
		e.applyChannelLocked(ch)
	})
	return ctx.Err()
}

// stopIDs 停止仍在活动集合里的流
func (e *Engine) stopIDs(ids []string) {
	for _, id := range ids {
		if err := e.Stop(id); err != nil && !errors.Is(err, ErrStreamNotFound) {
			e.log.Warn("停止流失败", logger.String("id", id), logger.ErrorField(err))
		}
	}
}

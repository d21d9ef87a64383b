package asset

import (
	"context"
	"strconv"
	"sync"
	"time"

	"PhuzzyAudio/logger"

	"go.uber.org/zap"
)

// FallbackIntelligent 找不到资源时依次尝试同包其他场景、占位音频、静音
const FallbackIntelligent = "intelligent"

// VerifyStore 跨进程共享的校验结果，比如 Redis
type VerifyStore interface {
	// Get found=false 表示没有记录
	Get(ctx context.Context, path string) (exists bool, found bool, err error)
	// Put ttl 为 0 表示不过期
	Put(ctx context.Context, path string, exists bool, ttl time.Duration) error
}

// Resolver 把 Spec 解析成 Record
type Resolver struct {
	registry *Registry
	titles   *TitleIndex
	source   Source
	store    VerifyStore

	strategy     string
	probeTimeout time.Duration
	negativeTTL  time.Duration
	now          func() time.Time
	log          *zap.Logger

	mu     sync.Mutex
	misses map[string]time.Time
}

// ResolverOption 构造选项
type ResolverOption func(*Resolver)

// WithVerifyStore 校验结果同时写入外部存储
func WithVerifyStore(store VerifyStore) ResolverOption {
	return func(r *Resolver) { r.store = store }
}

// WithFallbackStrategy 非 intelligent 时找不到资源直接报错
func WithFallbackStrategy(strategy string) ResolverOption {
	return func(r *Resolver) { r.strategy = strategy }
}

// WithProbeTimeout 单次存在性探测超时
func WithProbeTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.probeTimeout = d }
}

// WithNegativeTTL 探测失败的结果在这段时间内不重复探测
func WithNegativeTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.negativeTTL = d }
}

// NewResolver source 为 nil 时不做存在性校验，所有登记过的条目都视为可用
func NewResolver(registry *Registry, titles *TitleIndex, source Source, opts ...ResolverOption) *Resolver {
	if titles == nil {
		titles = NewTitleIndex()
	}
	r := &Resolver{
		registry:     registry,
		titles:       titles,
		source:       source,
		strategy:     FallbackIntelligent,
		probeTimeout: 5 * time.Second,
		negativeTTL:  time.Minute,
		now:          time.Now,
		log:          logger.Named("resolver"),
		misses:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Registry() *Registry { return r.registry }
func (r *Resolver) Titles() *TitleIndex { return r.titles }
func (r *Resolver) Source() Source { return r.source }

// Resolve 解析顺序：直接路径 -> 注册表 -> 同包回退 -> 占位 -> 静音
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Record, error) {
	switch spec.Kind() {
	case KindPath:
		if spec.IsDirect() {
			return DirectRecord(spec.PathValue()), nil
		}
		key := spec.PathValue()
		if rec, ok := r.lookupVerified(ctx, key); ok {
			return rec, nil
		}
		if pack, _, part, ok := ParseKey(key); ok {
			return r.fallback(ctx, spec, key, pack, part)
		}
		return r.fallback(ctx, spec, key, "", PartContent)

	case KindTitle:
		ref, ok := r.titles.Lookup(spec.TitleValue())
		if !ok {
			r.log.Warn("标题没有对应的音频映射", logger.String("title", spec.TitleValue()))
			return r.fallback(ctx, spec, "", "", spec.Part())
		}
		return r.resolvePack(ctx, spec, ref.Pack, ref.Scenario, spec.Part())

	case KindPack:
		return r.resolvePack(ctx, spec, spec.PackID(), spec.ScenarioID(), spec.Part())
	}
	return Record{}, &ResolutionError{Spec: spec, Err: ErrAssetNotFound}
}

func (r *Resolver) resolvePack(ctx context.Context, spec Spec, pack, scenario string, part Part) (Record, error) {
	key := Key(pack, scenario, part)
	if rec, ok := r.lookupVerified(ctx, key); ok {
		return rec, nil
	}
	return r.fallback(ctx, spec, key, pack, part)
}

func (r *Resolver) lookupVerified(ctx context.Context, key string) (Record, bool) {
	rec, ok := r.registry.Lookup(key)
	if !ok {
		return Record{}, false
	}
	if !r.verify(ctx, rec) {
		return Record{}, false
	}
	rec.Verified = true
	return rec, true
}

func (r *Resolver) fallback(ctx context.Context, spec Spec, key, pack string, part Part) (Record, error) {
	if r.strategy != FallbackIntelligent {
		return Record{}, &ResolutionError{Spec: spec, Key: key, Err: ErrAssetNotFound}
	}

	if pack != "" {
		for i := 0; i < ScenariosPerPack; i++ {
			candidate := Key(pack, Pad3(strconv.Itoa(i)), part)
			if candidate == key {
				continue
			}
			if rec, ok := r.lookupVerified(ctx, candidate); ok {
				r.log.Warn("使用同包其他场景的音频",
					logger.String("requested", key),
					logger.String("fallback", rec.Key))
				return rec, nil
			}
		}
	}

	if rec, ok := r.lookupVerified(ctx, PlaceholderKey(part)); ok {
		r.log.Warn("使用占位音频", logger.String("requested", spec.String()), logger.String("fallback", rec.Key))
		return rec, nil
	}

	r.log.Warn("没有可用音频，使用静音", logger.String("requested", spec.String()))
	return SilentRecord(), nil
}

// Verify 对已登记的记录做存在性校验
func (r *Resolver) Verify(ctx context.Context, key string) bool {
	_, ok := r.lookupVerified(ctx, key)
	return ok
}

// verify 成功结果永久记在注册表上；失败结果在 negativeTTL 内不重复探测
func (r *Resolver) verify(ctx context.Context, rec Record) bool {
	if rec.Verified || r.source == nil {
		return true
	}

	r.mu.Lock()
	missedAt, missed := r.misses[rec.Path]
	r.mu.Unlock()
	if missed && r.now().Sub(missedAt) < r.negativeTTL {
		return false
	}

	if r.store != nil {
		exists, found, err := r.store.Get(ctx, rec.Path)
		if err != nil {
			r.log.Debug("读取校验缓存失败", logger.String("path", rec.Path), logger.ErrorField(err))
		} else if found {
			if exists {
				r.registry.MarkVerified(rec.Key)
				return true
			}
			r.recordMiss(rec.Path)
			return false
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	exists, err := r.source.Exists(probeCtx, rec.Path)
	if err != nil {
		r.log.Warn("音频存在性探测失败", logger.String("path", rec.Path), logger.ErrorField(err))
		r.recordMiss(rec.Path)
		return false
	}

	if exists {
		r.registry.MarkVerified(rec.Key)
		r.remember(ctx, rec.Path, true, 0)
		return true
	}
	r.recordMiss(rec.Path)
	r.remember(ctx, rec.Path, false, r.negativeTTL)
	return false
}

func (r *Resolver) recordMiss(path string) {
	r.mu.Lock()
	r.misses[path] = r.now()
	r.mu.Unlock()
}

func (r *Resolver) remember(ctx context.Context, path string, exists bool, ttl time.Duration) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, path, exists, ttl); err != nil {
		r.log.Debug("写入校验缓存失败", logger.String("path", path), logger.ErrorField(err))
	}
}

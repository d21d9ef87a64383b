package cmd

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"PhuzzyAudio/cache"
	"PhuzzyAudio/config"
	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/core/history"
	"PhuzzyAudio/core/scenario"
	"PhuzzyAudio/db"
	"PhuzzyAudio/logger"
	"PhuzzyAudio/repository"
	"PhuzzyAudio/storage"

	"github.com/gopxl/beep"
)

// app 一次命令运行所需的全部组件
type app struct {
	cfg         *config.Config
	registry    *asset.Registry
	resolver    *asset.Resolver
	source      asset.Source
	minio       *storage.MinioSource
	engine      *audio.Engine
	bus         *audio.InteractionBus
	integration *scenario.Integration
	history     repository.PlaybackRepository

	closers []func()
}

type appOptions struct {
	backend     string // 覆盖 AUDIO_BACKEND
	scenarios   bool   // 加载场景包并构建映射
	watch       bool   // 监听本地目录
	history     bool   // 写播放历史
	interactive bool   // 命令行调用本身算一次用户交互
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, bus: audio.NewInteractionBus()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.buildRegistry(ctx); err != nil {
		return nil, err
	}

	resolverOpts := []asset.ResolverOption{
		asset.WithFallbackStrategy(cfg.FallbackStrategy),
		asset.WithNegativeTTL(cfg.NegativeTTL),
	}
	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis 不可用，校验结果只保存在内存中", logger.ErrorField(err))
		} else {
			a.closers = append(a.closers, func() { _ = cache.CloseRedis() })
			resolverOpts = append(resolverOpts, asset.WithVerifyStore(cache.NewAssetCache(cache.RedisClient, cfg.VerifyTTL)))
		}
	}

	titles := asset.NewTitleIndex()
	a.resolver = asset.NewResolver(a.registry, titles, a.source, resolverOpts...)

	backend := cfg.AudioBackend
	if opts.backend != "" {
		backend = opts.backend
	}
	engineOpts := []audio.Option{
		audio.WithFallbackBackend(audio.NewNullBackend(a.source)),
		audio.WithNetworkProbe(a.networkProbe),
	}
	switch backend {
	case "null":
		engineOpts = append(engineOpts, audio.WithBackend(audio.NewNullBackend(a.source)))
	case "speaker", "auto", "":
		engineOpts = append(engineOpts, audio.WithBackendFactory(a.speakerFactory))
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
	a.engine = audio.New(cfg.EngineConfig(), a.resolver, engineOpts...)
	a.closers = append(a.closers, func() { _ = a.engine.Close() })
	a.engine.Warmup().Arm(a.bus)
	if opts.interactive {
		a.engine.Warmup().MarkInteraction()
	}

	if opts.scenarios {
		a.buildIntegration(ctx, titles)
	}
	if opts.watch && cfg.WatchAssets && cfg.SourceKind() == "file" {
		a.startWatcher()
	}
	if opts.history && cfg.DBEnabled {
		a.startHistory()
	}

	ok = true
	return a, nil
}

// buildRegistry 选定资源来源并登记已知音频
func (a *app) buildRegistry(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.SourceKind() {
	case "minio":
		client, err := storage.InitMinio(cfg)
		if err != nil {
			return err
		}
		// 对象名由 MinioSource 加前缀，注册表里只保存相对路径
		a.registry = asset.NewRegistry("")
		a.minio = storage.NewMinioSource(client, cfg.MinioBucket, cfg.MinioPrefix)
		a.source = a.minio
		a.registry.Discover(cfg.AudioPacks)
		if _, err := a.minio.SyncRegistry(ctx, a.registry); err != nil {
			logger.Warn("同步存储桶登记失败", logger.ErrorField(err))
		}
	case "http":
		a.registry = asset.NewRegistry(cfg.AudioBasePath)
		a.source = asset.NewHTTPSource(nil, cfg.ProbeRPS, cfg.ProbeBurst)
		a.registry.Discover(cfg.AudioPacks)
	case "file":
		a.registry = asset.NewRegistry(cfg.AudioBasePath)
		a.source = asset.FileSource{}
		a.registry.Discover(cfg.AudioPacks)
		n, err := a.registry.ScanDir(cfg.AudioBasePath)
		if err != nil {
			logger.Warn("扫描音频目录失败", logger.String("dir", cfg.AudioBasePath), logger.ErrorField(err))
		} else {
			logger.Info("音频目录扫描完成", logger.Int("files", n))
		}
	default:
		return fmt.Errorf("unknown audio source %q", cfg.SourceKind())
	}
	logger.Info("音频登记完成",
		logger.String("source", cfg.SourceKind()),
		logger.Int("entries", a.registry.Len()))
	return nil
}

func (a *app) speakerFactory(ctx context.Context) (audio.Backend, error) {
	buffer := time.Duration(a.cfg.SpeakerBufferMS) * time.Millisecond
	return audio.NewSpeakerBackend(a.source, beep.SampleRate(a.cfg.SampleRate), buffer)
}

// networkProbe 读一个很小的文件来估计网速
func (a *app) networkProbe(ctx context.Context) error {
	if a.cfg.NetworkProbePath == "" {
		return fmt.Errorf("no probe path")
	}
	rc, err := a.source.Open(ctx, a.resolvePath(a.cfg.NetworkProbePath))
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// resolvePath 相对路径拼到资源根目录下
func (a *app) resolvePath(p string) string {
	if p == "" || strings.HasPrefix(p, "/") || asset.IsRemote(p) {
		return p
	}
	return asset.JoinPath(a.registry.Base(), p)
}

func (a *app) buildIntegration(ctx context.Context, titles *asset.TitleIndex) {
	ids := make([]int, 0, len(a.cfg.AudioPacks))
	for _, p := range a.cfg.AudioPacks {
		if id, err := strconv.Atoi(p); err == nil {
			ids = append(ids, id)
		}
	}
	packs := scenario.LoadPacks(a.cfg.ScenarioDir, ids)
	scenarios := scenario.Flatten(packs)

	a.integration = scenario.NewIntegration(a.engine, titles,
		scenario.WithVerifier(a.resolver),
		scenario.WithAmbientDir(a.resolvePath(path.Clean(a.cfg.AmbientDir))),
	)
	n := a.integration.BuildMappings(ctx, scenarios)
	logger.Info("场景映射构建完成", logger.Int("packs", len(packs)), logger.Int("mappings", n))

	a.engine.StartBackgroundPreloading(a.integration.GameState)
}

func (a *app) startWatcher() {
	w, err := asset.NewWatcher(a.registry, a.cfg.AudioBasePath)
	if err != nil {
		logger.Warn("无法监听音频目录", logger.ErrorField(err))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	a.closers = append(a.closers, func() {
		cancel()
		_ = w.Close()
	})
}

func (a *app) startHistory() {
	if err := db.ConnectGormDB(a.cfg); err != nil {
		logger.Warn("数据库不可用，不记录播放历史", logger.ErrorField(err))
		return
	}
	if err := db.AutoMigrate(); err != nil {
		logger.Warn("播放历史表迁移失败", logger.ErrorField(err))
	}
	a.history = repository.NewGormPlaybackRepository(db.GormDB)
	rec := history.NewRecorder(a.history)
	unsubscribe := rec.Start(a.engine.Subscribe)
	// 先退订再停写，保证队列里的记录写完
	a.closers = append(a.closers, func() {
		unsubscribe()
		rec.Stop()
		_ = db.CloseGormDB()
	})
}

// Close 按创建的逆序释放
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

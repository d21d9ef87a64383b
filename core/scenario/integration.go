package scenario

import (
	"context"
	"errors"
	"path"
	"strconv"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/logger"

	"github.com/remeh/sizedwaitgroup"
)

// ErrNoAudio 场景没有可用的语音
var ErrNoAudio = errors.New("scenario has no audio")

// NoID 表示调用方没有提供场景号或包号
const NoID = -1

const (
	sequenceGap     = 800 * time.Millisecond
	upcomingCount   = 5
	ambientVolume   = 0.3
	verifyParallel  = 8
	selfTestPause   = 500 * time.Millisecond
	defaultAmbients = "ambient"
)

// Player 引擎上被游戏层用到的部分，*audio.Engine 实现了它
type Player interface {
	Play(ctx context.Context, spec asset.Spec, opts audio.PlayOptions) (*audio.Request, error)
	PlaySequence(ctx context.Context, specs []asset.Spec, opts audio.SequenceOptions) (audio.SequenceResult, error)
	Preload(ctx context.Context, specs []asset.Spec, mode audio.PreloadMode) ([]asset.Record, error)
	PlayUISound(ctx context.Context, name string) (*audio.Request, error)
	Stop(target string) error
	SetMasterVolume(v float64)
	IsActive(id string) bool
	State() audio.EngineState
}

// Verifier 判断某个登记键对应的文件是否存在
type Verifier interface {
	Verify(ctx context.Context, key string) bool
}

// Mapping 场景标题对应的音频位置
type Mapping struct {
	Title    string `json:"title"`
	Pack     int    `json:"pack"`
	Scenario int    `json:"scenario"`
	ID       int    `json:"id"`
	HasAudio bool   `json:"hasAudio"`
}

// Ref 旧接口的播放参数：场景号、包号、标题，缺省的数字用 NoID
type Ref struct {
	ScenarioID int
	PackID     int
	Title      string
}

// Current 最近一次单段播放
type Current struct {
	PlayID      string `json:"playId"`
	ContentType string `json:"contentType"`
	Title       string `json:"title,omitempty"`
}

// Integration 游戏层和音频引擎之间的适配：标题映射、内容类型到通道的映射、场景序列
type Integration struct {
	player     Player
	titles     *asset.TitleIndex
	verifier   Verifier
	ambientDir string

	mu       sync.RWMutex
	mappings map[string]*Mapping
	order    []string
	current  *Current
	index    int
}

// IntegrationOption 构造选项
type IntegrationOption func(*Integration)

// WithVerifier 构建映射时检查哪些场景有语音；不设置时全部视为有
func WithVerifier(v Verifier) IntegrationOption {
	return func(in *Integration) { in.verifier = v }
}

// WithAmbientDir 环境音所在目录
func WithAmbientDir(dir string) IntegrationOption {
	return func(in *Integration) { in.ambientDir = dir }
}

func NewIntegration(player Player, titles *asset.TitleIndex, opts ...IntegrationOption) *Integration {
	in := &Integration{
		player:     player,
		titles:     titles,
		ambientDir: defaultAmbients,
		mappings:   make(map[string]*Mapping),
		index:      -1,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// BuildMappings 用已加载的场景建立标题映射并检查语音；没有场景时使用内置的旧映射
func (in *Integration) BuildMappings(ctx context.Context, scenarios []Scenario) int {
	mappings := make(map[string]*Mapping, len(scenarios))
	order := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		if s.Title == "" {
			continue
		}
		if _, dup := mappings[s.Title]; !dup {
			order = append(order, s.Title)
		}
		mappings[s.Title] = &Mapping{Title: s.Title, Pack: s.Pack, Scenario: s.Index, ID: s.ID}
	}
	if len(mappings) == 0 {
		logger.Warn("没有可用的场景数据，使用内置映射")
		mappings, order = fallbackMappings()
	}

	in.verifyAudio(ctx, mappings)

	available := 0
	for _, title := range order {
		m := mappings[title]
		if in.titles != nil {
			in.titles.Set(title, strconv.Itoa(m.Pack), strconv.Itoa(m.Scenario))
		}
		if m.HasAudio {
			available++
		}
	}

	in.mu.Lock()
	in.mappings = mappings
	in.order = order
	in.mu.Unlock()

	logger.Info("场景音频映射已建立",
		logger.Int("mappings", len(mappings)),
		logger.Int("available", available))
	return len(mappings)
}

func fallbackMappings() (map[string]*Mapping, []string) {
	known := []string{
		"My Own Boss Blues",
		"The Algorithm Whisperer",
		"Balanced Climate Report",
		"The Ethical Closet Confession",
		"The Package Thief Vigilante",
	}
	m := make(map[string]*Mapping, len(known))
	for i, title := range known {
		m[title] = &Mapping{Title: title, Pack: 0, Scenario: i, ID: i, HasAudio: true}
	}
	return m, known
}

// verifyAudio 任意一段语音存在即视为该场景有音频
func (in *Integration) verifyAudio(ctx context.Context, mappings map[string]*Mapping) {
	if in.verifier == nil {
		for _, m := range mappings {
			m.HasAudio = true
		}
		return
	}

	swg := sizedwaitgroup.New(verifyParallel)
	for _, m := range mappings {
		swg.Add()
		go func(m *Mapping) {
			defer swg.Done()
			pack := asset.Pad3(strconv.Itoa(m.Pack))
			scen := asset.Pad3(strconv.Itoa(m.Scenario))
			for _, part := range asset.Parts {
				if in.verifier.Verify(ctx, asset.Key(pack, scen, part)) {
					m.HasAudio = true
					return
				}
			}
		}(m)
	}
	swg.Wait()
}

// Mapping 按标题查映射
func (in *Integration) Mapping(title string) (Mapping, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	m, ok := in.mappings[title]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// MapContentType 旧的内容类型映射到语音片段
func MapContentType(contentType string) asset.Part {
	switch contentType {
	case "title":
		return asset.PartTitle
	case "claim":
		return asset.PartClaim
	default:
		// description/content/post 以及未知类型
		return asset.PartContent
	}
}

// ChannelForContentType 标题走旁白通道，其余走对白通道
func ChannelForContentType(contentType string) string {
	if contentType == "title" {
		return audio.ChannelNarration
	}
	return audio.ChannelDialogue
}

// BuildSpec 依次尝试标题映射、包号+场景号、仅场景号
func (in *Integration) BuildSpec(ref Ref, contentType string) (asset.Spec, bool) {
	part := MapContentType(contentType)
	if ref.Title != "" {
		if m, ok := in.Mapping(ref.Title); ok {
			return asset.PackN(m.Pack, m.Scenario, part), true
		}
	}
	if ref.ScenarioID == NoID {
		return asset.Spec{}, false
	}
	if ref.PackID != NoID {
		return asset.PackN(ref.PackID, ref.ScenarioID%asset.ScenariosPerPack, part), true
	}
	return asset.PackN(ref.ScenarioID/asset.ScenariosPerPack, ref.ScenarioID%asset.ScenariosPerPack, part), true
}

// Play 旧接口：播放场景的一段语音，标题淡入
func (in *Integration) Play(ctx context.Context, ref Ref, contentType string) (*audio.Request, error) {
	spec, ok := in.BuildSpec(ref, contentType)
	if !ok {
		logger.Warn("找不到音频映射", logger.String("title", ref.Title), logger.Int("scenario", ref.ScenarioID))
		return nil, ErrNoAudio
	}

	req, err := in.player.Play(ctx, spec, audio.PlayOptions{
		Channel: ChannelForContentType(contentType),
		Policy:  audio.PolicySmart,
		FadeIn:  contentType == "title",
		OnComplete: func(id string) {
			logger.Debug("片段播放完成", logger.String("type", contentType), logger.String("title", ref.Title))
		},
		OnError: func(id string, err error) {
			logger.Warn("片段播放失败", logger.String("type", contentType), logger.ErrorField(err))
		},
	})
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	in.current = &Current{PlayID: req.ID, ContentType: contentType, Title: ref.Title}
	in.mu.Unlock()
	return req, nil
}

// PlayScenario 按 标题 -> 正文 -> 结论 播放一个场景
func (in *Integration) PlayScenario(ctx context.Context, title string, opts audio.SequenceOptions) (audio.SequenceResult, error) {
	m, ok := in.Mapping(title)
	if !ok || !m.HasAudio {
		logger.Warn("场景没有音频", logger.String("title", title))
		return audio.SequenceResult{}, ErrNoAudio
	}

	specs := make([]asset.Spec, 0, len(asset.Parts))
	for _, part := range asset.Parts {
		specs = append(specs, asset.PackN(m.Pack, m.Scenario, part))
	}
	if opts.Channel == "" {
		opts.Channel = audio.ChannelDialogue
	}
	if opts.Gap == 0 {
		opts.Gap = sequenceGap
	}

	logger.Info("开始播放场景", logger.String("title", title), logger.Int("pack", m.Pack), logger.Int("scenario", m.Scenario))
	return in.player.PlaySequence(ctx, specs, opts)
}

// PreloadUpcoming 预加载当前场景之后 5 个有音频的场景
func (in *Integration) PreloadUpcoming(ctx context.Context, current int) ([]asset.Record, error) {
	in.mu.RLock()
	var specs []asset.Spec
	start := current + 1
	if start < 0 {
		start = 0
	}
	end := min(start+upcomingCount, len(in.order))
	for _, title := range in.order[min(start, end):end] {
		m := in.mappings[title]
		if !m.HasAudio {
			continue
		}
		for _, part := range asset.Parts {
			specs = append(specs, asset.PackN(m.Pack, m.Scenario, part))
		}
	}
	in.mu.RUnlock()

	if len(specs) == 0 {
		return nil, nil
	}
	logger.Info("预加载后续场景音频", logger.Int("files", len(specs)))
	return in.player.Preload(ctx, specs, audio.ModeImmediate)
}

// PlayAmbient 循环播放环境音，压低而不打断通道上已有的声音
func (in *Integration) PlayAmbient(ctx context.Context, name string) (*audio.Request, error) {
	return in.player.Play(ctx, asset.Path(path.Join(in.ambientDir, name+".mp3")), audio.PlayOptions{
		Channel: audio.ChannelAmbient,
		Loop:    true,
		Volume:  audio.Vol(ambientVolume),
		FadeIn:  true,
		Policy:  audio.PolicyDuck,
	})
}

// PlayUISound 界面音效，同时算作一次用户交互
func (in *Integration) PlayUISound(ctx context.Context, name string) (*audio.Request, error) {
	return in.player.PlayUISound(ctx, name)
}

// Stop 停止所有声音
func (in *Integration) Stop() error {
	in.mu.Lock()
	in.current = nil
	in.mu.Unlock()
	return in.player.Stop(audio.StopAll)
}

// Pause 停止最近一次单段播放。引擎不支持续播，恢复需要重新播放。
func (in *Integration) Pause() error {
	in.mu.RLock()
	cur := in.current
	in.mu.RUnlock()
	if cur == nil {
		return nil
	}
	err := in.player.Stop(cur.PlayID)
	if errors.Is(err, audio.ErrStreamNotFound) {
		return nil
	}
	return err
}

func (in *Integration) SetVolume(v float64) {
	in.player.SetMasterVolume(v)
}

// IsPlaying 最近一次单段播放是否还在进行
func (in *Integration) IsPlaying() bool {
	in.mu.RLock()
	cur := in.current
	in.mu.RUnlock()
	return cur != nil && in.player.IsActive(cur.PlayID)
}

// SetCurrentIndex 游戏推进到第 i 个场景（按映射顺序）
func (in *Integration) SetCurrentIndex(i int) {
	in.mu.Lock()
	in.index = i
	in.mu.Unlock()
}

// GameState 供后台预加载使用。场景号按每包 10 个场景编码。
func (in *Integration) GameState() *audio.GameState {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.index < 0 || len(in.order) == 0 {
		return nil
	}
	st := &audio.GameState{
		CurrentScenarioIndex: in.index,
		Scenarios:            make([]audio.ScenarioInfo, 0, len(in.order)),
	}
	for _, title := range in.order {
		m := in.mappings[title]
		st.Scenarios = append(st.Scenarios, audio.ScenarioInfo{
			ID:    m.Pack*asset.ScenariosPerPack + m.Scenario,
			Title: title,
		})
	}
	return st
}

// DebugInfo 调试信息
type DebugInfo struct {
	Engine    audio.EngineState `json:"engineState"`
	Mappings  int               `json:"mappings"`
	Available int               `json:"availableAudio"`
	Current   *Current          `json:"currentlyPlaying"`
	Index     int               `json:"currentIndex"`
}

func (in *Integration) DebugInfo() DebugInfo {
	in.mu.RLock()
	info := DebugInfo{Mappings: len(in.mappings), Current: in.current, Index: in.index}
	for _, m := range in.mappings {
		if m.HasAudio {
			info.Available++
		}
	}
	in.mu.RUnlock()
	info.Engine = in.player.State()
	return info
}

// SelfTest 播放一个界面音效，然后播放第一个有音频的场景
func (in *Integration) SelfTest(ctx context.Context) error {
	if _, err := in.PlayUISound(ctx, "button"); err != nil {
		return err
	}
	select {
	case <-time.After(selfTestPause):
	case <-ctx.Done():
		return ctx.Err()
	}

	in.mu.RLock()
	title := ""
	for _, t := range in.order {
		if in.mappings[t].HasAudio {
			title = t
			break
		}
	}
	in.mu.RUnlock()
	if title == "" {
		logger.Info("没有可用于测试的场景音频")
		return nil
	}
	_, err := in.PlayScenario(ctx, title, audio.SequenceOptions{})
	return err
}

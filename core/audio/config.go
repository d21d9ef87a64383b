package audio

import "time"

// Policy 新请求遇到通道正在播放时的处理方式
type Policy string

const (
	PolicyImmediate Policy = "immediate"
	PolicySmart     Policy = "smart"
	PolicyQueue     Policy = "queue"
	PolicyDuck      Policy = "duck"
	PolicyNone      Policy = "none"
)

// Valid 是否是已知策略
func (p Policy) Valid() bool {
	switch p {
	case PolicyImmediate, PolicySmart, PolicyQueue, PolicyDuck, PolicyNone:
		return true
	}
	return false
}

// 通道名
const (
	ChannelDialogue  = "dialogue"
	ChannelNarration = "narration"
	ChannelEffects   = "effects"
	ChannelAmbient   = "ambient"
	ChannelUI        = "ui"
	ChannelMusic     = "music"
)

// ChannelConfig 通道默认参数
type ChannelConfig struct {
	Name      string  `yaml:"name" json:"name"`
	Volume    float64 `yaml:"volume" json:"volume"`
	Priority  int     `yaml:"priority" json:"priority"`
	Crossfade bool    `yaml:"crossfade" json:"crossfade"`
}

// DefaultChannels 六个内置通道
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: ChannelDialogue, Volume: 1.0, Priority: 100, Crossfade: true},
		{Name: ChannelNarration, Volume: 0.9, Priority: 90, Crossfade: true},
		{Name: ChannelEffects, Volume: 0.7, Priority: 50, Crossfade: false},
		{Name: ChannelAmbient, Volume: 0.4, Priority: 20, Crossfade: true},
		{Name: ChannelUI, Volume: 0.8, Priority: 75, Crossfade: false},
		{Name: ChannelMusic, Volume: 0.6, Priority: 10, Crossfade: true},
	}
}

// Config 引擎参数
type Config struct {
	MemoryLimit        int64   // 缓存上限，字节
	PreloadDistance    int     // 后台预加载向后看几个场景
	MaxPreloadDistance int     // 网络快时翻倍后的上限
	DuckingLevel       float64 // 压低后的音量比例
	MasterVolume       float64

	CrossfadeDuration     time.Duration
	SilentPrewarmDuration time.Duration // 预热时播放的静音长度
	PrimeDuration         time.Duration // 每个音频首次播放前的静音试播
	PrimeVolume           float64
	SilentDuration        time.Duration // 静音兜底的长度
	SequenceGap           time.Duration

	LoadTimeout    time.Duration
	PreloadTimeout time.Duration
	PrimeTimeout   time.Duration

	PreloadConcurrency int
	BackgroundYield    time.Duration // 逐个加载模式下两项之间的间隔
	PreloadBaseDelay   time.Duration
	PreloadMinDelay    time.Duration
	ErrorBackoff       time.Duration
	NetworkProbePath   string

	Channels []ChannelConfig
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		MemoryLimit:           50 * 1024 * 1024,
		PreloadDistance:       3,
		MaxPreloadDistance:    10,
		DuckingLevel:          0.3,
		MasterVolume:          1.0,
		CrossfadeDuration:     500 * time.Millisecond,
		SilentPrewarmDuration: 100 * time.Millisecond,
		PrimeDuration:         time.Second,
		PrimeVolume:           0.001,
		SilentDuration:        500 * time.Millisecond,
		SequenceGap:           500 * time.Millisecond,
		LoadTimeout:           5 * time.Second,
		PreloadTimeout:        10 * time.Second,
		PrimeTimeout:          3 * time.Second,
		PreloadConcurrency:    4,
		BackgroundYield:       100 * time.Millisecond,
		PreloadBaseDelay:      time.Second,
		PreloadMinDelay:       100 * time.Millisecond,
		ErrorBackoff:          5 * time.Second,
		Channels:              DefaultChannels(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = d.MemoryLimit
	}
	if c.PreloadDistance <= 0 {
		c.PreloadDistance = d.PreloadDistance
	}
	if c.MaxPreloadDistance < c.PreloadDistance {
		c.MaxPreloadDistance = c.PreloadDistance * 2
	}
	if c.DuckingLevel < 0 || c.DuckingLevel > 1 {
		c.DuckingLevel = d.DuckingLevel
	}
	if c.MasterVolume <= 0 || c.MasterVolume > 1 {
		c.MasterVolume = d.MasterVolume
	}
	if c.PrimeVolume <= 0 {
		c.PrimeVolume = d.PrimeVolume
	}
	if c.SilentDuration <= 0 {
		c.SilentDuration = d.SilentDuration
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.PreloadTimeout <= 0 {
		c.PreloadTimeout = d.PreloadTimeout
	}
	if c.PrimeTimeout <= 0 {
		c.PrimeTimeout = d.PrimeTimeout
	}
	if c.PreloadConcurrency <= 0 {
		c.PreloadConcurrency = d.PreloadConcurrency
	}
	if c.PreloadBaseDelay <= 0 {
		c.PreloadBaseDelay = d.PreloadBaseDelay
	}
	if c.PreloadMinDelay <= 0 {
		c.PreloadMinDelay = d.PreloadMinDelay
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if len(c.Channels) == 0 {
		c.Channels = d.Channels
	}
	return c
}

// EstimateSize 按 128kbps 估算内存占用，时长未知时按 10 秒算
func EstimateSize(d time.Duration) int64 {
	if d <= 0 {
		d = 10 * time.Second
	}
	return int64(d.Seconds() * 128000 / 8)
}

package asset

import (
	"fmt"
	"strconv"
	"strings"
)

// Part 音频片段类型
type Part string

const (
	PartTitle   Part = "title"
	PartContent Part = "content"
	PartClaim   Part = "claim"

	// 以下几种只出现在解析结果里
	PartDirect Part = "direct"
	PartSilent Part = "silent"
	PartTone   Part = "tone"
)

// Parts 一个场景的三段语音，按预加载优先级从高到低
var Parts = []Part{PartTitle, PartContent, PartClaim}

// Weight 预加载时同一场景内的片段权重
func (p Part) Weight() int {
	switch p {
	case PartTitle:
		return 3
	case PartContent:
		return 2
	case PartClaim:
		return 1
	default:
		return 0
	}
}

// Kind 标识 Spec 的构造方式
type Kind int

const (
	KindPath Kind = iota
	KindPack
	KindTitle
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindPack:
		return "pack"
	case KindTitle:
		return "title"
	default:
		return "unknown"
	}
}

// Spec 描述要播放的音频。只能通过 Path、Pack、Title 构造。
type Spec struct {
	kind     Kind
	path     string
	pack     string
	scenario string
	title    string
	part     Part
}

// Path 直接路径（带 .mp3/.wav 扩展名）或注册表 key
func Path(p string) Spec {
	return Spec{kind: KindPath, path: strings.TrimSpace(p)}
}

// Pack 按包号和场景号定位，part 为空时默认 content
func Pack(pack, scenario string, part Part) Spec {
	if part == "" {
		part = PartContent
	}
	return Spec{kind: KindPack, pack: Pad3(pack), scenario: Pad3(scenario), part: part}
}

// PackN 是 Pack 的整数版本
func PackN(pack, scenario int, part Part) Spec {
	return Pack(strconv.Itoa(pack), strconv.Itoa(scenario), part)
}

// Title 通过场景标题查找，part 为空时默认 content
func Title(title string, part Part) Spec {
	if part == "" {
		part = PartContent
	}
	return Spec{kind: KindTitle, title: title, part: part}
}

func (s Spec) Kind() Kind { return s.kind }
func (s Spec) PathValue() string { return s.path }
func (s Spec) PackID() string { return s.pack }
func (s Spec) ScenarioID() string { return s.scenario }
func (s Spec) TitleValue() string { return s.title }
func (s Spec) Part() Part { return s.part }
func (s Spec) IsZero() bool { return s == Spec{} }
func (s Spec) IsDirect() bool { return s.kind == KindPath && IsDirectPath(s.path) }

func (s Spec) String() string {
	switch s.kind {
	case KindPack:
		return Key(s.pack, s.scenario, s.part)
	case KindTitle:
		return fmt.Sprintf("title:%s/%s", s.title, s.part)
	default:
		return s.path
	}
}

// IsDirectPath 以已知音频扩展名结尾的字符串视为直接路径
func IsDirectPath(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".wav")
}

// Pad3 左侧补零到三位，"2" -> "002"
func Pad3(s string) string {
	s = strings.TrimSpace(s)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

// Key 注册表 key，形如 "002-000-content"
func Key(pack, scenario string, part Part) string {
	return Pad3(pack) + "-" + Pad3(scenario) + "-" + string(part)
}

// ParseKey 拆分 Key 生成的字符串
func ParseKey(key string) (pack, scenario string, part Part, ok bool) {
	fields := strings.SplitN(key, "-", 3)
	if len(fields) != 3 || len(fields[0]) != 3 || len(fields[1]) != 3 {
		return "", "", "", false
	}
	for _, f := range fields[:2] {
		if _, err := strconv.Atoi(f); err != nil {
			return "", "", "", false
		}
	}
	return fields[0], fields[1], Part(fields[2]), true
}

// PlaceholderKey 某类片段的占位音频 key
func PlaceholderKey(part Part) string {
	return "placeholder-" + string(part)
}

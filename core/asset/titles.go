package asset

import "sync"

// TitleRef 标题对应的包和场景
type TitleRef struct {
	Pack     string `json:"pack"`
	Scenario string `json:"scenario"`
}

// 最早一批场景按标题引用音频，保留这张表兼容旧调用方
var legacyTitles = map[string]TitleRef{
	"My Own Boss Blues":             {Pack: "000", Scenario: "000"},
	"The Algorithm Whisperer":       {Pack: "000", Scenario: "001"},
	"Balanced Climate Report":       {Pack: "000", Scenario: "002"},
	"The Ethical Closet Confession": {Pack: "000", Scenario: "003"},
	"The Package Thief Vigilante":   {Pack: "000", Scenario: "004"},
}

// TitleIndex 标题到包/场景的映射
type TitleIndex struct {
	mu     sync.RWMutex
	titles map[string]TitleRef
}

// NewTitleIndex 预置旧标题表
func NewTitleIndex() *TitleIndex {
	idx := &TitleIndex{titles: make(map[string]TitleRef, len(legacyTitles))}
	for title, ref := range legacyTitles {
		idx.titles[title] = ref
	}
	return idx
}

// Set 覆盖已有映射
func (t *TitleIndex) Set(title, pack, scenario string) {
	t.mu.Lock()
	t.titles[title] = TitleRef{Pack: Pad3(pack), Scenario: Pad3(scenario)}
	t.mu.Unlock()
}

func (t *TitleIndex) Lookup(title string) (TitleRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.titles[title]
	return ref, ok
}

func (t *TitleIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.titles)
}

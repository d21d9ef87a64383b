package asset

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var folderPattern = regexp.MustCompile(`^pack-(\d{3})-scenario-(\d{3})$`)

// ScenariosPerPack 每个包固定 10 个场景
const ScenariosPerPack = 10

// Registry 已知音频资源表，条目只增不删
type Registry struct {
	mu      sync.RWMutex
	base    string
	records map[string]*Record
}

// NewRegistry base 可以是本地目录、URL 前缀或对象存储前缀
func NewRegistry(base string) *Registry {
	return &Registry{
		base:    base,
		records: make(map[string]*Record),
	}
}

// Base 资源根路径
func (r *Registry) Base() string {
	return r.base
}

// Register 已存在的 key 保留原记录（包括校验状态），返回是否新增
func (r *Registry) Register(rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Key]; ok {
		return false
	}
	cp := rec
	r.records[rec.Key] = &cp
	return true
}

// Lookup 返回记录副本
func (r *Registry) Lookup(key string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// MarkVerified 校验通过后置位，之后不再复位
func (r *Registry) MarkVerified(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		rec.Verified = true
	}
}

// Len 条目数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Records 按 key 排序的快照
func (r *Registry) Records() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ScenarioPath 约定的文件布局 base/pack-NNN-scenario-NNN/<part>.mp3
func (r *Registry) ScenarioPath(pack, scenario string, part Part) string {
	return JoinPath(r.base, ScenarioFolder(pack, scenario), string(part)+".mp3")
}

// Discover 为每个包预登记 10 个场景 × 三段语音以及占位音频，返回新增数量
func (r *Registry) Discover(packs []string) int {
	added := 0
	for _, pack := range packs {
		pack = Pad3(pack)
		for i := 0; i < ScenariosPerPack; i++ {
			scenario := Pad3(strconv.Itoa(i))
			for _, part := range Parts {
				if r.Register(Record{
					Key:      Key(pack, scenario, part),
					Path:     r.ScenarioPath(pack, scenario, part),
					Pack:     pack,
					Scenario: scenario,
					Type:     part,
				}) {
					added++
				}
			}
		}
	}
	for _, part := range Parts {
		if r.Register(Record{
			Key:  PlaceholderKey(part),
			Path: JoinPath(r.base, "placeholder", string(part)+".mp3"),
			Type: part,
		}) {
			added++
		}
	}
	return added
}

// ScanDir 扫描本地目录下已部署的场景文件夹，磁盘上存在的文件直接记为已校验
func (r *Registry) ScanDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	found := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := r.ScanFolder(filepath.Join(dir, entry.Name()))
		if err != nil {
			return found, err
		}
		found += n
	}
	return found, nil
}

// ScanFolder 登记单个 pack-NNN-scenario-NNN 目录里的文件
func (r *Registry) ScanFolder(folder string) (int, error) {
	m := folderPattern.FindStringSubmatch(filepath.Base(folder))
	if m == nil {
		return 0, nil
	}
	pack, scenario := m[1], m[2]

	found := 0
	for _, part := range Parts {
		if _, err := os.Stat(filepath.Join(folder, string(part)+".mp3")); err != nil {
			continue
		}
		key := Key(pack, scenario, part)
		r.Register(Record{
			Key:      key,
			Path:     r.ScenarioPath(pack, scenario, part),
			Pack:     pack,
			Scenario: scenario,
			Type:     part,
		})
		r.MarkVerified(key)
		found++
	}
	return found, nil
}

// RegisterFile 登记一个已确认存在的文件，rel 形如 [前缀/]pack-NNN-scenario-NNN/<part>.mp3
func (r *Registry) RegisterFile(rel string) bool {
	m := folderPattern.FindStringSubmatch(path.Base(path.Dir(rel)))
	if m == nil || path.Ext(rel) != ".mp3" {
		return false
	}
	part := Part(strings.TrimSuffix(path.Base(rel), ".mp3"))
	if part.Weight() == 0 {
		return false
	}
	key := Key(m[1], m[2], part)
	r.Register(Record{
		Key:      key,
		Path:     r.ScenarioPath(m[1], m[2], part),
		Pack:     m[1],
		Scenario: m[2],
		Type:     part,
	})
	r.MarkVerified(key)
	return true
}

// ScenarioFolder pack-NNN-scenario-NNN
func ScenarioFolder(pack, scenario string) string {
	return "pack-" + Pad3(pack) + "-scenario-" + Pad3(scenario)
}

// JoinPath 用 "/" 拼接，保留 URL 里的 "://"
func JoinPath(base string, elems ...string) string {
	if base == "" {
		return strings.Join(elems, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(elems, "/")
}

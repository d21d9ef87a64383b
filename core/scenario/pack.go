package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"
)

// Scenario 场景包里的一个场景。Pack/Index 在加载时填入，不来自 JSON。
type Scenario struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Claim   string `json:"claim"`

	Pack  int `json:"-"`
	Index int `json:"-"`
}

// Pack 一个 scenario-generated-NNN.json 文件
type Pack struct {
	ID        int        `json:"-"`
	Scenarios []Scenario `json:"scenarios"`
}

// PackFile 场景包文件路径
func PackFile(dir string, id int) string {
	return filepath.Join(dir, "scenario-generated-"+asset.Pad3(strconv.Itoa(id))+".json")
}

// LoadPack 读取单个场景包，并按文件中的顺序填入包内序号
func LoadPack(dir string, id int) (*Pack, error) {
	data, err := os.ReadFile(PackFile(dir, id))
	if err != nil {
		return nil, err
	}
	var p Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("解析场景包 %03d 失败: %w", id, err)
	}
	p.ID = id
	for i := range p.Scenarios {
		p.Scenarios[i].Pack = id
		p.Scenarios[i].Index = i
	}
	return &p, nil
}

// LoadPacks 依次读取场景包，不存在的包跳过，解析失败的包记日志后跳过
func LoadPacks(dir string, ids []int) []*Pack {
	var packs []*Pack
	for _, id := range ids {
		p, err := LoadPack(dir, id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("场景包不存在", logger.Int("pack", id))
			} else {
				logger.Warn("加载场景包失败", logger.Int("pack", id), logger.ErrorField(err))
			}
			continue
		}
		packs = append(packs, p)
	}
	logger.Info("场景包加载完成", logger.Int("requested", len(ids)), logger.Int("loaded", len(packs)))
	return packs
}

// Flatten 按包顺序展开为一个场景列表
func Flatten(packs []*Pack) []Scenario {
	var out []Scenario
	for _, p := range packs {
		out = append(out, p.Scenarios...)
	}
	return out
}

// IndexTitles 把场景标题登记到标题表，返回登记数量
func IndexTitles(idx *asset.TitleIndex, scenarios []Scenario) int {
	n := 0
	for _, s := range scenarios {
		if s.Title == "" {
			continue
		}
		idx.Set(s.Title, strconv.Itoa(s.Pack), strconv.Itoa(s.Index))
		n++
	}
	return n
}

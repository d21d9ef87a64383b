package config

import (
	"fmt"
	"os"

	"PhuzzyAudio/core/audio"

	"gopkg.in/yaml.v3"
)

// channelFile 通道表文件格式：
//
//	channels:
//	  - name: dialogue
//	    volume: 1.0
//	    priority: 100
//	    crossfade: true
type channelFile struct {
	Channels []audio.ChannelConfig `yaml:"channels"`
}

// LoadChannels 读取通道表。同名通道覆盖 base 中的配置，新通道追加在后面。
func LoadChannels(path string, base []audio.ChannelConfig) ([]audio.ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseChannels(data, base)
}

// ParseChannels 见 LoadChannels
func ParseChannels(data []byte, base []audio.ChannelConfig) ([]audio.ChannelConfig, error) {
	var f channelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析通道表失败: %w", err)
	}

	out := append([]audio.ChannelConfig(nil), base...)
	pos := make(map[string]int, len(out))
	for i, ch := range out {
		pos[ch.Name] = i
	}
	seen := make(map[string]bool, len(f.Channels))
	for _, ch := range f.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("通道缺少 name")
		}
		if seen[ch.Name] {
			return nil, fmt.Errorf("通道 %s 重复定义", ch.Name)
		}
		seen[ch.Name] = true
		if ch.Volume < 0 || ch.Volume > 1 {
			return nil, fmt.Errorf("通道 %s 音量 %.2f 超出 0~1", ch.Name, ch.Volume)
		}
		if i, ok := pos[ch.Name]; ok {
			out[i] = ch
			continue
		}
		pos[ch.Name] = len(out)
		out = append(out, ch)
	}
	return out, nil
}

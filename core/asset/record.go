package asset

// Record 解析后的具体音频资源
type Record struct {
	Key      string `json:"key"`
	Path     string `json:"path"`
	Pack     string `json:"pack,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Type     Part   `json:"type"`
	Verified bool   `json:"verified"`
}

// IsSilent 所有回退都失败时返回的静音占位
func (r Record) IsSilent() bool {
	return r.Type == PartSilent
}

// SilentRecord 静音兜底记录，不对应任何文件
func SilentRecord() Record {
	return Record{Key: "silent", Type: PartSilent, Verified: true}
}

// DirectRecord 直接路径，不经过注册表和存在性校验
func DirectRecord(path string) Record {
	return Record{Key: path, Path: path, Type: PartDirect}
}

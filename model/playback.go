package model

import "time"

// 播放记录的结果
const (
	PlaybackCompleted = "completed"
	PlaybackStopped   = "stopped"
	PlaybackErrored   = "errored"
)

// PlaybackRecord 一次播放的结束记录
type PlaybackRecord struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID  string    `json:"requestId" gorm:"size:36;uniqueIndex"`
	Channel    string    `json:"channel" gorm:"size:32;index"`
	AssetKey   string    `json:"assetKey" gorm:"size:64;index"`
	Path       string    `json:"path" gorm:"size:512"`
	Outcome    string    `json:"outcome" gorm:"size:16;index"`
	Error      string    `json:"error,omitempty" gorm:"size:512"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt" gorm:"index"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName 指定表名
func (PlaybackRecord) TableName() string {
	return "playback_records"
}

// AssetPlayCount 按音频统计的播放次数
type AssetPlayCount struct {
	AssetKey string `json:"assetKey"`
	Count    int64  `json:"count"`
}

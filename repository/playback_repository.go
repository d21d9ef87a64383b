package repository

import (
	"context"

	"PhuzzyAudio/model"

	"gorm.io/gorm"
)

// PlaybackRepository 播放历史数据访问接口
type PlaybackRepository interface {
	Create(ctx context.Context, rec *model.PlaybackRecord) error
	Recent(ctx context.Context, channel string, limit int) ([]*model.PlaybackRecord, error)
	CountByAsset(ctx context.Context, limit int) ([]model.AssetPlayCount, error)
}

// gormPlaybackRepository GORM 实现
type gormPlaybackRepository struct {
	db *gorm.DB
}

// NewGormPlaybackRepository 创建 GORM 播放历史仓库
func NewGormPlaybackRepository(db *gorm.DB) PlaybackRepository {
	return &gormPlaybackRepository{db: db}
}

func (r *gormPlaybackRepository) Create(ctx context.Context, rec *model.PlaybackRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Recent 最近的播放记录，channel 为空时不过滤
func (r *gormPlaybackRepository) Recent(ctx context.Context, channel string, limit int) ([]*model.PlaybackRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var records []*model.PlaybackRecord
	q := r.db.WithContext(ctx).Order("ended_at DESC").Limit(limit)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountByAsset 完整播放次数最多的音频
func (r *gormPlaybackRepository) CountByAsset(ctx context.Context, limit int) ([]model.AssetPlayCount, error) {
	if limit <= 0 {
		limit = 20
	}
	var counts []model.AssetPlayCount
	err := r.db.WithContext(ctx).Model(&model.PlaybackRecord{}).
		Select("asset_key, COUNT(*) AS count").
		Where("outcome = ?", model.PlaybackCompleted).
		Group("asset_key").
		Order("count DESC").
		Limit(limit).
		Scan(&counts).Error
	return counts, err
}

package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByExt        map[string]int64
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ListObjects 递归列出 prefix 下的对象。audioOnly 时只保留 .mp3/.wav。
func (s *MinioSource) ListObjects(ctx context.Context, prefix string, audioOnly bool) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{ByExt: make(map[string]int64)}
	var objects []ObjectInfo

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.ObjectName(prefix),
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		if audioOnly && !asset.IsDirectPath(object.Key) {
			continue
		}

		stats.TotalObjects++
		stats.TotalSize += object.Size
		stats.ByExt[extOf(object.Key)]++
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, stats, nil
}

func extOf(key string) string {
	if ext := strings.ToLower(path.Ext(key)); ext != "" {
		return ext
	}
	return "unknown"
}

// SyncRegistry 把存储桶里已有的场景音频登记为已校验，返回登记数量
func (s *MinioSource) SyncRegistry(ctx context.Context, reg *asset.Registry) (int, error) {
	objects, _, err := s.ListObjects(ctx, reg.Base(), true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, obj := range objects {
		if reg.RegisterFile(obj.Key) {
			n++
		}
	}
	logger.Info("已从存储桶同步音频登记", logger.Int("objects", len(objects)), logger.Int("registered", n))
	return n, nil
}

// PrintBucketStatus 打印存储桶状态和文件列表
func (s *MinioSource) PrintBucketStatus(ctx context.Context, w io.Writer, prefix string, listFiles bool) error {
	objects, stats, err := s.ListObjects(ctx, prefix, false)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "存储桶: %s\n", s.bucket)
	fmt.Fprintf(w, "前缀: %s\n", s.ObjectName(prefix))
	fmt.Fprintf(w, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "总大小: %s\n", humanize.IBytes(uint64(stats.TotalSize)))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后更新: %s (%s)\n", stats.LastModified.Format("2006-01-02 15:04:05"), humanize.Time(stats.LastModified))
	}

	exts := make([]string, 0, len(stats.ByExt))
	for ext := range stats.ByExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	fmt.Fprintln(w, "\n文件类型统计:")
	for _, ext := range exts {
		fmt.Fprintf(w, "  %s: %d 个文件\n", ext, stats.ByExt[ext])
	}

	if listFiles {
		fmt.Fprintln(w, "\n文件列表:")
		for _, obj := range objects {
			fmt.Fprintf(w, "  %s (%s)\n", obj.Key, humanize.IBytes(uint64(obj.Size)))
		}
	}
	return nil
}

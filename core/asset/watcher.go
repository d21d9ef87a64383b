package asset

import (
	"context"
	"os"
	"path/filepath"

	"PhuzzyAudio/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听本地资源目录，新部署的场景目录自动登记到注册表
type Watcher struct {
	registry *Registry
	dir      string
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher dir 下已有的场景目录也会一并加入监听
func NewWatcher(registry *Registry, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() && folderPattern.MatchString(entry.Name()) {
				_ = fsw.Add(filepath.Join(dir, entry.Name()))
			}
		}
	}

	return &Watcher{
		registry: registry,
		dir:      dir,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run 阻塞直到 ctx 取消或 Close
func (w *Watcher) Run(ctx context.Context) {
	logger.Info("开始监听音频目录", logger.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("音频目录监听出错", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	folder := event.Name
	if !info.IsDir() {
		folder = filepath.Dir(event.Name)
	} else if folderPattern.MatchString(filepath.Base(folder)) {
		// 新目录里的文件可能稍后才写入
		if err := w.fsw.Add(folder); err != nil {
			logger.Warn("添加目录监听失败", logger.String("folder", folder), logger.ErrorField(err))
		}
	}

	n, err := w.registry.ScanFolder(folder)
	if err != nil {
		logger.Warn("扫描新音频目录失败", logger.String("folder", folder), logger.ErrorField(err))
		return
	}
	if n > 0 {
		logger.Info("登记新部署的音频", logger.String("folder", filepath.Base(folder)), logger.Int("files", n))
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}

package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrAudioNotReady 还没有收到用户交互，不能出声
	ErrAudioNotReady = errors.New("audio requires user interaction before playback")
	// ErrUnknownChannel 通道名不存在
	ErrUnknownChannel = errors.New("unknown audio channel")
	// ErrStreamNotFound Stop 指定的流不存在或已结束
	ErrStreamNotFound = errors.New("audio stream not found")
	// ErrEngineClosed 引擎已关闭
	ErrEngineClosed = errors.New("audio engine closed")
)

// PlaybackError 后端加载或播放失败
type PlaybackError struct {
	RequestID string
	Path      string
	Err       error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s (%s): %v", e.RequestID, e.Path, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// PreloadError 预加载单项失败，只记日志不向上抛
type PreloadError struct {
	Key string
	Err error
}

func (e *PreloadError) Error() string {
	return fmt.Sprintf("preload %s: %v", e.Key, e.Err)
}

func (e *PreloadError) Unwrap() error { return e.Err }

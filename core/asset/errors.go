package asset

import (
	"errors"
	"fmt"
)

// ErrAssetNotFound 所有回退层级都没有可用音频
var ErrAssetNotFound = errors.New("audio asset not found")

// ResolutionError 记录解析失败的 spec 和最后尝试的 key
type ResolutionError struct {
	Spec Spec
	Key  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("resolve %s (key %s): %v", e.Spec, e.Key, e.Err)
	}
	return fmt.Sprintf("resolve %s: %v", e.Spec, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

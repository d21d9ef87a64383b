package audio

import (
	"context"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/logger"
)

// sequenceToken 序列的取消标记，只会从 false 变为 true
type sequenceToken struct {
	id        string
	channel   string
	startTime time.Time

	once sync.Once
	done chan struct{}
}

func newSequenceToken(id, channel string) *sequenceToken {
	return &sequenceToken{id: id, channel: channel, startTime: time.Now(), done: make(chan struct{})}
}

func (t *sequenceToken) interrupt() {
	t.once.Do(func() { close(t.done) })
}

func (t *sequenceToken) interrupted() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// SequenceOptions 第一个片段使用 Policy，之后的片段一律排队
type SequenceOptions struct {
	PlayOptions
	Gap time.Duration // 0 使用默认间隔，负数表示不留间隔

	OnProgress func(done, total int)
	OnComplete func(result SequenceResult)
}

// SequenceResult 序列结果。被打断不算错误，只置 Interrupted。
type SequenceResult struct {
	ID          string   `json:"id"`
	PlayedIDs   []string `json:"playedIds"`
	Interrupted bool     `json:"interrupted"`
}

// PlaySequence 在同一通道上依次播放并等待每个片段结束。
// 单个片段播放失败不会中止序列；Play 本身返回错误时停止已播放的片段并返回该错误。
func (e *Engine) PlaySequence(ctx context.Context, specs []asset.Spec, opts SequenceOptions) (SequenceResult, error) {
	if opts.Channel == "" {
		opts.Channel = ChannelDialogue
	}
	gap := opts.Gap
	if gap == 0 {
		gap = e.cfg.SequenceGap
	}

	tok := newSequenceToken(e.newID(), opts.Channel)
	result := SequenceResult{ID: tok.id, PlayedIDs: make([]string, 0, len(specs))}

	e.mu.Lock()
	e.sequences[tok.id] = tok
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.sequences, tok.id)
		e.mu.Unlock()
	}()

	for i, spec := range specs {
		if tok.interrupted() {
			result.Interrupted = true
			e.log.Info("序列被打断", logger.String("sequence", tok.id), logger.Int("played", len(result.PlayedIDs)))
			return result, nil
		}

		item := opts.PlayOptions
		item.OnComplete = nil
		if i > 0 {
			item.Policy = PolicyQueue
		}

		req, err := e.Play(ctx, spec, item)
		if err != nil {
			e.stopIDs(result.PlayedIDs)
			return result, err
		}
		result.PlayedIDs = append(result.PlayedIDs, req.ID)

		if _, err := req.Wait(ctx); err != nil {
			e.stopIDs(result.PlayedIDs)
			return result, err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(specs))
		}

		if i < len(specs)-1 && gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-timer.C:
			case <-tok.done:
			case <-ctx.Done():
				timer.Stop()
				e.stopIDs(result.PlayedIDs)
				return result, ctx.Err()
			}
			timer.Stop()
		}
	}

	if tok.interrupted() {
		result.Interrupted = true
		return result, nil
	}
	if opts.OnComplete != nil {
		opts.OnComplete(result)
	}
	return result, nil
}

// InterruptSequences 打断某通道上正在进行的序列，不停止当前播放
func (e *Engine) InterruptSequences(channel string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, tok := range e.sequences {
		if tok.channel == channel && !tok.interrupted() {
			tok.interrupt()
			n++
		}
	}
	return n
}

package audio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"PhuzzyAudio/core/asset"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
)

// DefaultSampleRate 输出采样率
const DefaultSampleRate = beep.SampleRate(44100)

const resampleQuality = 4

// decode 按扩展名选择解码器，未知扩展名按 mp3 处理
func decode(rc io.ReadCloser, path string) (beep.StreamSeekCloser, beep.Format, error) {
	if strings.HasSuffix(strings.ToLower(path), ".wav") {
		return wav.Decode(rc)
	}
	return mp3.Decode(rc)
}

// decodeToBuffer 解码并重采样到 rate，整段放进内存
func decodeToBuffer(ctx context.Context, src asset.Source, rec asset.Record, rate beep.SampleRate) (*beep.Buffer, error) {
	if src == nil {
		return nil, fmt.Errorf("no audio source configured")
	}
	rc, err := src.Open(ctx, rec.Path)
	if err != nil {
		return nil, err
	}
	streamer, format, err := decode(rc, rec.Path)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(s)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
	}
	return buf, nil
}

// SpeakerBackend 通过 beep/speaker 输出到声卡
type SpeakerBackend struct {
	src  asset.Source
	rate beep.SampleRate
}

// NewSpeakerBackend 初始化声卡，失败时调用方应退回静默后端
func NewSpeakerBackend(src asset.Source, rate beep.SampleRate, bufferSize time.Duration) (*SpeakerBackend, error) {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	if err := speaker.Init(rate, rate.N(bufferSize)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &SpeakerBackend{src: src, rate: rate}, nil
}

func (b *SpeakerBackend) Name() string { return "speaker" }

func (b *SpeakerBackend) Resume(ctx context.Context) error {
	return ctx.Err()
}

func (b *SpeakerBackend) Prime(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	silent := &effects.Gain{Streamer: beep.Silence(b.rate.N(d)), Gain: 0.001 - 1}
	speaker.Play(beep.Seq(silent, beep.Callback(func() { close(done) })))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SpeakerBackend) Load(ctx context.Context, rec asset.Record) (Clip, error) {
	buf, err := decodeToBuffer(ctx, b.src, rec, b.rate)
	if err != nil {
		return nil, err
	}
	return &bufferClip{buf: buf}, nil
}

func (b *SpeakerBackend) Silence(d time.Duration) (Clip, error) {
	buf := beep.NewBuffer(beep.Format{SampleRate: b.rate, NumChannels: 2, Precision: 2})
	buf.Append(beep.Silence(b.rate.N(d)))
	return &bufferClip{buf: buf}, nil
}

func (b *SpeakerBackend) Tone(t Tone) (Clip, error) {
	buf := beep.NewBuffer(beep.Format{SampleRate: b.rate, NumChannels: 2, Precision: 2})
	buf.Append(newToneStreamer(t, b.rate))
	return &bufferClip{buf: buf}, nil
}

func (b *SpeakerBackend) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

type bufferClip struct {
	mu  sync.Mutex
	buf *beep.Buffer
}

func (c *bufferClip) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf == nil {
		return 0
	}
	return c.buf.Format().SampleRate.D(c.buf.Len())
}

func (c *bufferClip) NewVoice() (Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf == nil {
		return nil, fmt.Errorf("clip released")
	}
	return &speakerVoice{buf: c.buf, volume: 1}, nil
}

// Release 释放解码数据，正在播放的 voice 仍持有自己的引用
func (c *bufferClip) Release() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

type speakerVoice struct {
	buf     *beep.Buffer
	ctrl    *beep.Ctrl
	gain    *effects.Gain
	volume  float64
	stopped bool
	done    func(error)
}

func (v *speakerVoice) Start(loop bool, done func(error)) error {
	var s beep.Streamer = v.buf.Streamer(0, v.buf.Len())
	if loop {
		s = beep.Loop(-1, v.buf.Streamer(0, v.buf.Len()))
	}

	speaker.Lock()
	v.ctrl = &beep.Ctrl{Streamer: s}
	v.gain = &effects.Gain{Streamer: v.ctrl, Gain: v.volume - 1}
	v.done = done
	speaker.Unlock()

	// Callback 在 speaker 的锁里执行，这里切到新的 goroutine
	speaker.Play(beep.Seq(v.gain, beep.Callback(func() {
		if v.stopped || v.done == nil {
			return
		}
		go v.done(nil)
	})))
	return nil
}

func (v *speakerVoice) Stop() {
	speaker.Lock()
	v.stopped = true
	if v.ctrl != nil {
		v.ctrl.Streamer = nil
	}
	speaker.Unlock()
}

func (v *speakerVoice) SetVolume(vol float64) {
	speaker.Lock()
	v.volume = vol
	if v.gain != nil {
		v.gain.Gain = vol - 1
	}
	speaker.Unlock()
}

package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

// Waveform 振荡器波形
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSquare   Waveform = "square"
	WaveTriangle Waveform = "triangle"
	WaveSawtooth Waveform = "sawtooth"
)

// Tone 合成的界面提示音
type Tone struct {
	Name      string
	Frequency float64
	Wave      Waveform
	Duration  time.Duration
	Volume    float64
}

const (
	toneAttack = 10 * time.Millisecond
	toneFloor  = 0.001
)

// UITones 内置界面音效
var UITones = map[string]Tone{
	"button":     {Name: "button", Frequency: 800, Wave: WaveSine, Duration: 100 * time.Millisecond, Volume: 0.3},
	"correct":    {Name: "correct", Frequency: 523, Wave: WaveSine, Duration: 300 * time.Millisecond, Volume: 0.3},
	"incorrect":  {Name: "incorrect", Frequency: 200, Wave: WaveSquare, Duration: 200 * time.Millisecond, Volume: 0.3},
	"hint":       {Name: "hint", Frequency: 659, Wave: WaveTriangle, Duration: 150 * time.Millisecond, Volume: 0.3},
	"transition": {Name: "transition", Frequency: 440, Wave: WaveSawtooth, Duration: 200 * time.Millisecond, Volume: 0.3},
}

// toneStreamer 振荡器加包络：10ms 线性起音，然后指数衰减到 0.001
type toneStreamer struct {
	tone     Tone
	rate     beep.SampleRate
	phase    float64
	position int
	total    int
	attack   int
}

func newToneStreamer(t Tone, rate beep.SampleRate) *toneStreamer {
	return &toneStreamer{
		tone:   t,
		rate:   rate,
		total:  rate.N(t.Duration),
		attack: rate.N(toneAttack),
	}
}

func (s *toneStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.position >= s.total {
			return i, i > 0
		}

		val := s.sample() * s.envelope()
		samples[i][0] = val
		samples[i][1] = val

		s.phase += s.tone.Frequency / float64(s.rate)
		s.phase -= math.Floor(s.phase)
		s.position++
	}
	return len(samples), true
}

func (s *toneStreamer) Err() error { return nil }

func (s *toneStreamer) sample() float64 {
	switch s.tone.Wave {
	case WaveSquare:
		if s.phase < 0.5 {
			return 1
		}
		return -1
	case WaveTriangle:
		return 1 - 4*math.Abs(s.phase-0.5)
	case WaveSawtooth:
		return 2 * (s.phase - 0.5)
	default:
		return math.Sin(2 * math.Pi * s.phase)
	}
}

func (s *toneStreamer) envelope() float64 {
	vol := s.tone.Volume
	if vol <= 0 {
		vol = 0.3
	}
	if s.position < s.attack {
		return vol * float64(s.position) / float64(s.attack)
	}
	decay := s.total - s.attack
	if decay <= 0 {
		return vol
	}
	// vol * (floor/vol)^t，t 从 0 到 1
	t := float64(s.position-s.attack) / float64(decay)
	return vol * math.Pow(toneFloor/vol, t)
}

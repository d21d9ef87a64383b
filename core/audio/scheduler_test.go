package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PhuzzyAudio/core/asset"
)

func TestPlayRequiresInteraction(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	_, err := e.Play(context.Background(), asset.Path("a"), PlayOptions{})
	if !errors.Is(err, ErrAudioNotReady) {
		t.Fatalf("Play before interaction: err = %v, want ErrAudioNotReady", err)
	}
	if e.Warmup().State() != WarmupArmed {
		t.Errorf("warmup state = %s", e.Warmup().State())
	}
}

func TestPlayCompletes(t *testing.T) {
	e, b := newReadyEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []EventKind
	unsubscribe := e.Subscribe(func(ev Event) {
		if ev.RequestID == "" {
			return
		}
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	completed := make(chan string, 1)
	req, err := e.Play(ctx, asset.Path("a"), PlayOptions{OnComplete: func(id string) { completed <- id }})
	if err != nil {
		t.Fatal(err)
	}
	if req.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", req.State())
	}
	if req.Channel != ChannelDialogue || req.Priority != 100 || req.Volume != 1.0 {
		t.Errorf("defaults not applied: %+v", req)
	}
	if !e.IsActive(req.ID) {
		t.Error("playing request should be active")
	}

	b.voice(t, pathOf(asset.Path("a")), 1).finish(nil)
	state, err := req.Wait(ctx)
	if state != StateCompleted || err != nil {
		t.Fatalf("Wait = %s, %v", state, err)
	}
	if id := <-completed; id != req.ID {
		t.Errorf("OnComplete id = %s", id)
	}
	if e.IsActive(req.ID) {
		t.Error("completed request still active")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventStarted || kinds[1] != EventCompleted {
		t.Errorf("events = %v", kinds)
	}
}

func TestPlayUsesCache(t *testing.T) {
	e, b := newReadyEngine(t)
	ctx := context.Background()
	path := pathOf(asset.Path("a"))

	for i := 1; i <= 2; i++ {
		req, err := e.Play(ctx, asset.Path("a"), PlayOptions{})
		if err != nil {
			t.Fatal(err)
		}
		b.voice(t, path, i).finish(nil)
		waitState(t, req, StateCompleted)
	}
	if n := b.loadCount(path); n != 1 {
		t.Errorf("loaded %d times, want 1", n)
	}
	if !e.Cache().Contains(path) {
		t.Error("clip not cached")
	}
}

func TestPrimeForImmediatePlay(t *testing.T) {
	ctx := context.Background()
	cold, _ := newTestEngine(t, testConfig())
	if err := cold.PrimeForImmediatePlay(ctx, asset.Path("a")); !errors.Is(err, ErrAudioNotReady) {
		t.Errorf("err = %v, want ErrAudioNotReady", err)
	}

	e, b := newReadyEngineWith(t, fadeConfig())
	path := pathOf(asset.Path("a"))
	b.setDuration(path, time.Second)
	if err := e.PrimeForImmediatePlay(ctx, asset.Path("a")); err != nil {
		t.Fatal(err)
	}
	if !e.Cache().Contains(path) {
		t.Fatal("primed clip not cached")
	}
	prime := b.voice(t, path, 1)
	if !prime.Stopped() || !approx(prime.Volume(), e.cfg.PrimeVolume) {
		t.Errorf("prime voice: stopped=%v volume=%v", prime.Stopped(), prime.Volume())
	}

	req, err := e.Play(ctx, asset.Path("a"), PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// 已经试播过，播放只创建一个 voice
	if n := b.voiceCount(path); n != 2 {
		t.Fatalf("voices = %d, want 2", n)
	}
	b.voice(t, path, 2).finish(nil)
	waitState(t, req, StateCompleted)
	if n := b.loadCount(path); n != 1 {
		t.Errorf("loaded %d times, want 1", n)
	}
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("queue", func(t *testing.T) {
		e, b := newReadyEngine(t)
		first, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		second, err := e.Play(ctx, asset.Path("b"), PlayOptions{Policy: PolicyQueue, Priority: Prio(500)})
		if err != nil {
			t.Fatal(err)
		}
		if second.State() != StateQueued {
			t.Fatalf("second = %s, want queued", second.State())
		}
		b.voice(t, pathOf(asset.Path("a")), 1).finish(nil)
		waitState(t, first, StateCompleted)
		b.voice(t, pathOf(asset.Path("b")), 1)
		waitState(t, second, StatePlaying)
	})

	t.Run("smart lower priority waits", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		first, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		second, err := e.Play(ctx, asset.Path("b"), PlayOptions{Priority: Prio(50)})
		if err != nil {
			t.Fatal(err)
		}
		if second.State() != StateQueued || first.State() != StatePlaying {
			t.Errorf("first = %s, second = %s", first.State(), second.State())
		}
	})

	t.Run("smart higher priority interrupts", func(t *testing.T) {
		e, b := newReadyEngine(t)
		first, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		waiting, _ := e.Play(ctx, asset.Path("b"), PlayOptions{Priority: Prio(50)})
		urgent, err := e.Play(ctx, asset.Path("c"), PlayOptions{Priority: Prio(200)})
		if err != nil {
			t.Fatal(err)
		}
		waitState(t, first, StateStopped)
		if !b.voice(t, pathOf(asset.Path("a")), 1).Stopped() {
			t.Error("interrupted voice not stopped")
		}
		if urgent.State() != StatePlaying {
			t.Errorf("urgent = %s", urgent.State())
		}
		if waiting.State() != StateQueued {
			t.Errorf("queued request should stay queued, got %s", waiting.State())
		}
		// 新流不淡入，直接用通道音量
		if v := b.voice(t, pathOf(asset.Path("c")), 1); !approx(v.Volume(), 1.0) {
			t.Errorf("urgent volume = %v", v.Volume())
		}
	})

	t.Run("immediate", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		opts := PlayOptions{Channel: ChannelEffects, Policy: PolicyImmediate}
		first, _ := e.Play(ctx, asset.Path("a"), opts)
		second, _ := e.Play(ctx, asset.Path("b"), opts)
		third, err := e.Play(ctx, asset.Path("c"), opts)
		if err != nil {
			t.Fatal(err)
		}
		if first.State() != StateStopped || second.State() != StateStopped {
			t.Errorf("displaced = %s, %s", first.State(), second.State())
		}
		st := e.State()
		if len(st.ActiveStreams) != 1 || st.ActiveStreams[0] != third.ID {
			t.Errorf("active = %v, want only %s", st.ActiveStreams, third.ID)
		}
	})

	t.Run("none declines", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		first, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		second, err := e.Play(ctx, asset.Path("b"), PlayOptions{Policy: PolicyNone, Priority: Prio(999)})
		if err != nil {
			t.Fatalf("declined request should not error: %v", err)
		}
		if second.State() != StateDeclined || first.State() != StatePlaying {
			t.Errorf("first = %s, second = %s", first.State(), second.State())
		}
		select {
		case <-second.Done():
		default:
			t.Error("declined request should be done")
		}
	})

	t.Run("duck", func(t *testing.T) {
		e, b := newReadyEngine(t)
		opts := PlayOptions{Channel: ChannelMusic}
		bed, _ := e.Play(ctx, asset.Path("bed"), opts)
		bedVoice := b.voice(t, pathOf(asset.Path("bed")), 1)

		opts.Policy = PolicyDuck
		over, err := e.Play(ctx, asset.Path("over"), opts)
		if err != nil {
			t.Fatal(err)
		}
		waitFor(t, "duck", func() bool { return approx(bedVoice.Volume(), 0.6*0.3) })
		if bed.State() != StatePlaying || over.State() != StatePlaying {
			t.Errorf("bed = %s, over = %s", bed.State(), over.State())
		}

		b.voice(t, pathOf(asset.Path("over")), 1).finish(nil)
		waitState(t, over, StateCompleted)
		waitFor(t, "restore", func() bool { return approx(bedVoice.Volume(), 0.6) })
		if cur := e.State().Channels[5].Current; cur == nil || cur.ID != bed.ID {
			t.Errorf("ducked stream should become current again, got %+v", cur)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		if _, err := e.Play(ctx, asset.Path("a"), PlayOptions{Policy: "loudest"}); err == nil {
			t.Error("unknown policy should fail")
		}
		if _, err := e.Play(ctx, asset.Path("a"), PlayOptions{Channel: "radio"}); !errors.Is(err, ErrUnknownChannel) {
			t.Errorf("err = %v, want ErrUnknownChannel", err)
		}
	})
}

func TestPlayErrors(t *testing.T) {
	e, b := newReadyEngine(t)
	ctx := context.Background()

	var gotErr error
	_, err := e.Play(ctx, asset.Path("missing"), PlayOptions{OnError: func(id string, err error) { gotErr = err }})
	if !errors.Is(err, asset.ErrAssetNotFound) {
		t.Fatalf("err = %v, want ErrAssetNotFound", err)
	}
	if gotErr == nil {
		t.Error("OnError not called")
	}

	b.failLoad[pathOf(asset.Path("broken"))] = errDecode
	req, err := e.Play(ctx, asset.Path("broken"), PlayOptions{})
	var pe *PlaybackError
	if !errors.As(err, &pe) || !errors.Is(err, errDecode) {
		t.Fatalf("err = %v, want PlaybackError", err)
	}
	if req.State() != StateErrored {
		t.Errorf("state = %s", req.State())
	}
	// 失败后通道空出
	next, err := e.Play(ctx, asset.Path("a"), PlayOptions{Policy: PolicyNone})
	if err != nil || next.State() != StatePlaying {
		t.Errorf("channel not released: %v %v", next.State(), err)
	}
}

func TestExplicitZeroOptions(t *testing.T) {
	e, b := newReadyEngine(t)
	ctx := context.Background()

	silent, err := e.Play(ctx, asset.Path("a"), PlayOptions{Volume: Vol(0)})
	if err != nil {
		t.Fatal(err)
	}
	if silent.Volume != 0 {
		t.Errorf("request volume = %v, want 0", silent.Volume)
	}
	if v := b.voice(t, pathOf(asset.Path("a")), 1); v.Volume() != 0 {
		t.Errorf("voice volume = %v, want 0", v.Volume())
	}

	low, err := e.Play(ctx, asset.Path("b"), PlayOptions{Priority: Prio(0)})
	if err != nil {
		t.Fatal(err)
	}
	if low.Priority != 0 || low.State() != StateQueued {
		t.Errorf("priority = %d, state = %s", low.Priority, low.State())
	}

	loud, _ := e.Play(ctx, asset.Path("c"), PlayOptions{Channel: ChannelEffects, Volume: Vol(4)})
	if loud.Volume != 1 {
		t.Errorf("volume should clamp to 1, got %v", loud.Volume)
	}
}

func TestCompleteStopsLateVoice(t *testing.T) {
	e, b := newReadyEngine(t)
	req, err := e.Play(context.Background(), asset.Path("a"), PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v := b.voice(t, pathOf(asset.Path("a")), 1)

	// halt 没看到 voice 就直接结束请求
	e.complete(req, StateStopped, nil)
	if req.State() != StateStopped {
		t.Fatalf("state = %s", req.State())
	}
	if !v.Stopped() {
		t.Error("voice still playing after request stopped")
	}
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	t.Run("all", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		a, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		queued, _ := e.Play(ctx, asset.Path("b"), PlayOptions{Policy: PolicyQueue})
		music, _ := e.Play(ctx, asset.Path("m"), PlayOptions{Channel: ChannelMusic})

		if err := e.Stop(StopAll); err != nil {
			t.Fatal(err)
		}
		for _, req := range []*Request{a, queued, music} {
			if req.State() != StateStopped {
				t.Errorf("%s = %s, want stopped", req.ID, req.State())
			}
		}
		st := e.State()
		if len(st.ActiveStreams) != 0 {
			t.Errorf("active = %v", st.ActiveStreams)
		}
		for _, ch := range st.Channels {
			if ch.Current != nil || len(ch.Queue) != 0 {
				t.Errorf("channel %s not cleared", ch.Name)
			}
		}
	})

	t.Run("by id", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		a, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		b, _ := e.Play(ctx, asset.Path("b"), PlayOptions{Policy: PolicyQueue})

		if err := e.Stop(b.ID); err != nil {
			t.Fatal(err)
		}
		if b.State() != StateStopped || a.State() != StatePlaying {
			t.Errorf("a = %s, b = %s", a.State(), b.State())
		}
		if err := e.Stop(b.ID); !errors.Is(err, ErrStreamNotFound) {
			t.Errorf("second stop err = %v", err)
		}
	})

	t.Run("channel keeps queue", func(t *testing.T) {
		e, b := newReadyEngine(t)
		a, _ := e.Play(ctx, asset.Path("a"), PlayOptions{})
		next, _ := e.Play(ctx, asset.Path("b"), PlayOptions{Policy: PolicyQueue})

		if err := e.Stop(ChannelDialogue); err != nil {
			t.Fatal(err)
		}
		waitState(t, a, StateStopped)
		b.voice(t, pathOf(asset.Path("b")), 1)
		waitState(t, next, StatePlaying)
	})

	t.Run("unknown", func(t *testing.T) {
		e, _ := newReadyEngine(t)
		if err := e.Stop("nothing"); !errors.Is(err, ErrStreamNotFound) {
			t.Errorf("err = %v", err)
		}
		if err := e.StopChannel("radio", true); !errors.Is(err, ErrUnknownChannel) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestVolumeAndMute(t *testing.T) {
	e, b := newReadyEngine(t)
	ctx := context.Background()
	if _, err := e.Play(ctx, asset.Path("a"), PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	v := b.voice(t, pathOf(asset.Path("a")), 1)

	e.SetMasterVolume(0.5)
	if !approx(v.Volume(), 0.5) {
		t.Errorf("master volume: %v", v.Volume())
	}
	e.SetMasterVolume(3)
	if !approx(v.Volume(), 1) {
		t.Errorf("master volume should clamp to 1, got %v", v.Volume())
	}

	if err := e.SetMuted(true); err != nil {
		t.Fatal(err)
	}
	if v.Volume() != 0 {
		t.Errorf("muted volume = %v", v.Volume())
	}
	_ = e.SetMuted(false, ChannelDialogue)
	if v.Volume() != 0 {
		t.Error("global mute should win over channel unmute")
	}
	_ = e.SetMuted(false)
	if !approx(v.Volume(), 1) {
		t.Errorf("unmuted volume = %v", v.Volume())
	}

	if err := e.Duck(ctx, ChannelDialogue); err != nil {
		t.Fatal(err)
	}
	if !approx(v.Volume(), 0.3) {
		t.Errorf("ducked volume = %v", v.Volume())
	}
	if err := e.Unduck(ctx, ChannelDialogue); err != nil {
		t.Fatal(err)
	}
	if !approx(v.Volume(), 1) {
		t.Errorf("unducked volume = %v", v.Volume())
	}
	if err := e.SetMuted(true, "radio"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("err = %v", err)
	}
}

func TestPlayUISoundCountsAsInteraction(t *testing.T) {
	e, b := newTestEngine(t, testConfig())

	req, err := e.PlayUISound(context.Background(), "correct")
	if err != nil {
		t.Fatal(err)
	}
	if req.Channel != ChannelUI || req.Asset.Type != asset.PartTone {
		t.Errorf("request = %+v", req)
	}
	b.voice(t, "tone:correct", 1)
	if e.Warmup().State() == WarmupArmed {
		t.Error("ui sound should count as interaction")
	}
	if _, err := e.PlayUISound(context.Background(), "fanfare"); err == nil {
		t.Error("unknown ui sound should fail")
	}
}

func TestClosedEngine(t *testing.T) {
	e, b := newReadyEngine(t)
	a, _ := e.Play(context.Background(), asset.Path("a"), PlayOptions{})
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateStopped {
		t.Errorf("state after close = %s", a.State())
	}
	if _, err := e.Play(context.Background(), asset.Path("a"), PlayOptions{}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("err = %v, want ErrEngineClosed", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		t.Error("backend not closed")
	}
}

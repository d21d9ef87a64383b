package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"

	"github.com/hako/durafmt"
	"github.com/spf13/cobra"
)

var (
	playPack     int
	playScenario int
	playPart     string
	playTitle    string
	playChannel  string
	playPolicy   string
	playVolume   float64
	playLoop     bool
	playFade     bool
	playSequence bool
	playStory    string
	playUI       string
	playSelfTest bool
)

var playCmd = &cobra.Command{
	Use:   "play [path|key]",
	Short: "在终端播放音频",
	Long: `播放一个直接路径或注册表 key，或者用 --pack/--scenario、--title 定位场景语音。
--sequence 依次播放 标题 -> 正文 -> 结论，--story 按场景标题播放整段，--ui 播放界面音效，--self-test 做一次自检。
Ctrl-C 停止所有声音后退出。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, appOptions{
			backend:     backendFlag,
			scenarios:   playStory != "" || playSelfTest || playTitle != "",
			interactive: true,
		})
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		defer func() {
			fmt.Printf("用时 %s\n", durafmt.Parse(time.Since(start).Round(time.Millisecond)).LimitFirstN(2))
		}()

		switch {
		case playSelfTest:
			if err := a.integration.SelfTest(ctx); err != nil {
				return err
			}
			return waitIdle(ctx, a.engine)
		case playUI != "":
			req, err := a.engine.PlayUISound(ctx, playUI)
			if err != nil {
				return err
			}
			return waitRequest(ctx, a.engine, req)
		case playStory != "":
			result, err := a.integration.PlayScenario(ctx, playStory, audio.SequenceOptions{})
			printSequence(result)
			return err
		}

		opts := audio.PlayOptions{
			Channel:   playChannel,
			Policy:    audio.Policy(playPolicy),
			Loop:      playLoop,
			Crossfade: playFade,
		}
		if cmd.Flags().Changed("volume") {
			opts.Volume = audio.Vol(playVolume)
		}

		if playSequence {
			if playPack < 0 || playScenario < 0 {
				return errors.New("--sequence 需要 --pack 和 --scenario")
			}
			specs := make([]asset.Spec, 0, len(asset.Parts))
			for _, part := range asset.Parts {
				specs = append(specs, asset.PackN(playPack, playScenario, part))
			}
			if err := a.engine.PrimeForImmediatePlay(ctx, specs[0]); err != nil {
				fmt.Printf("预热失败: %v\n", err)
			}
			result, err := a.engine.PlaySequence(ctx, specs, audio.SequenceOptions{PlayOptions: opts})
			printSequence(result)
			return err
		}

		spec, err := playSpec(args)
		if err != nil {
			return err
		}
		req, err := a.engine.Play(ctx, spec, opts)
		if err != nil {
			return err
		}
		fmt.Printf("播放 %s -> %s (%s)\n", spec, req.Asset.Path, req.ID)
		return waitRequest(ctx, a.engine, req)
	},
}

func init() {
	playCmd.Flags().IntVar(&playPack, "pack", -1, "包号")
	playCmd.Flags().IntVar(&playScenario, "scenario", -1, "场景号 0-9")
	playCmd.Flags().StringVar(&playPart, "part", "content", "title|content|claim")
	playCmd.Flags().StringVar(&playTitle, "title", "", "按场景标题定位")
	playCmd.Flags().StringVar(&playChannel, "channel", audio.ChannelDialogue, "通道")
	playCmd.Flags().StringVar(&playPolicy, "policy", string(audio.PolicySmart), "immediate|smart|queue|duck|none")
	playCmd.Flags().Float64Var(&playVolume, "volume", 0, "音量 0-1，不指定时使用通道音量")
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "循环播放，直到 Ctrl-C")
	playCmd.Flags().BoolVar(&playFade, "crossfade", false, "打断当前流时交叉淡入淡出")
	playCmd.Flags().BoolVar(&playSequence, "sequence", false, "依次播放场景的三段语音")
	playCmd.Flags().StringVar(&playStory, "story", "", "按标题播放整个场景")
	playCmd.Flags().StringVar(&playUI, "ui", "", "界面音效 button|correct|incorrect|hint|transition")
	playCmd.Flags().BoolVar(&playSelfTest, "self-test", false, "播放一个界面音效和第一个有语音的场景")
	rootCmd.AddCommand(playCmd)
}

func playSpec(args []string) (asset.Spec, error) {
	part := asset.Part(playPart)
	switch {
	case len(args) == 1:
		return asset.Path(args[0]), nil
	case playPack >= 0 && playScenario >= 0:
		return asset.PackN(playPack, playScenario, part), nil
	case playTitle != "":
		return asset.Title(playTitle, part), nil
	}
	return asset.Spec{}, errors.New("需要路径、--pack/--scenario 或 --title")
}

// waitRequest 等待请求结束，ctx 取消时停止所有声音
func waitRequest(ctx context.Context, e *audio.Engine, req *audio.Request) error {
	state, err := req.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		_ = e.Stop(audio.StopAll)
		fmt.Println("已停止")
		return nil
	}
	fmt.Printf("结束: %s\n", state)
	if err != nil {
		return err
	}
	return req.Err()
}

// waitIdle 等到没有活动流
func waitIdle(ctx context.Context, e *audio.Engine) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = e.Stop(audio.StopAll)
			return nil
		case <-ticker.C:
			if len(e.State().ActiveStreams) == 0 {
				return nil
			}
		}
	}
}

func printSequence(r audio.SequenceResult) {
	fmt.Printf("序列 %s: 播放 %d 段", r.ID, len(r.PlayedIDs))
	if r.Interrupted {
		fmt.Print("，被打断")
	}
	fmt.Println()
}

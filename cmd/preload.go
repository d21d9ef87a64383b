package cmd

import (
	"context"
	"fmt"
	"time"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/core/audio"

	"github.com/hako/durafmt"
	"github.com/spf13/cobra"
)

var (
	preloadPacks    []string
	preloadUpcoming int
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "批量预加载场景语音并打印缓存状态",
	Long: `默认预加载 AUDIO_PACKS 中每个包的全部场景语音；--upcoming N 只预加载第 N 个场景之后的 5 个场景。
使用静默后端，不需要声卡。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg, appOptions{
			backend:     "null",
			scenarios:   preloadUpcoming >= 0,
			interactive: true,
		})
		if err != nil {
			return err
		}
		defer a.Close()
		// 命令行里不需要后台预加载
		a.engine.StopBackgroundPreloading()

		start := time.Now()
		var recs []asset.Record
		if preloadUpcoming >= 0 {
			a.integration.SetCurrentIndex(preloadUpcoming)
			recs, err = a.integration.PreloadUpcoming(ctx, preloadUpcoming)
		} else {
			packs := preloadPacks
			if len(packs) == 0 {
				packs = cfg.AudioPacks
			}
			var specs []asset.Spec
			for _, pack := range packs {
				for i := 0; i < asset.ScenariosPerPack; i++ {
					for _, part := range asset.Parts {
						specs = append(specs, asset.Pack(pack, fmt.Sprint(i), part))
					}
				}
			}
			recs, err = a.engine.Preload(ctx, specs, audio.ModeImmediate)
		}
		if err != nil {
			return err
		}

		silent := 0
		for _, rec := range recs {
			if rec.IsSilent() {
				silent++
			}
		}
		st := a.engine.State().Cache
		pst := a.engine.PreloadStatus()
		fmt.Printf("已加载 %d 个 (静音兜底 %d)，失败 %d，用时 %s\n",
			len(recs), silent, pst.Failed, durafmt.Parse(time.Since(start).Round(time.Millisecond)).LimitFirstN(2))
		fmt.Printf("缓存: %d 项，%s / %s (%.0f%%)\n", st.Entries, st.UsageHuman, st.LimitHuman, st.UsageRatio*100)
		return nil
	},
}

func init() {
	preloadCmd.Flags().StringSliceVar(&preloadPacks, "packs", nil, "包号列表，默认使用 AUDIO_PACKS")
	preloadCmd.Flags().IntVar(&preloadUpcoming, "upcoming", -1, "当前场景序号，预加载其后 5 个场景")
	rootCmd.AddCommand(preloadCmd)
}

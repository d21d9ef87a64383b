package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"PhuzzyAudio/core/asset"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/spf13/cobra"
)

var (
	registryVerify bool
	registryPack   string
	registryAll    bool
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "列出已登记的音频资源",
	Long:  `列出注册表中的音频条目和校验状态。--verify 会逐个探测文件是否存在（远程来源受 AUDIO_PROBE_RPS 限速）。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg, appOptions{backend: "null"})
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		records := a.registry.Records()
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tTYPE\tVERIFIED\tPATH")
		shown, verified := 0, 0
		for _, rec := range records {
			if registryPack != "" && rec.Pack != asset.Pad3(registryPack) {
				continue
			}
			ok := rec.Verified
			if registryVerify && !ok {
				ok = a.resolver.Verify(ctx, rec.Key)
			}
			if ok {
				verified++
			} else if !registryAll {
				continue
			}
			shown++
			fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", rec.Key, rec.Type, ok, rec.Path)
		}
		tw.Flush()

		fmt.Printf("\n共 %s 条登记，显示 %s 条，已确认存在 %s 条",
			humanize.Comma(int64(len(records))), humanize.Comma(int64(shown)), humanize.Comma(int64(verified)))
		if registryVerify {
			fmt.Printf("，校验用时 %s", durafmt.Parse(time.Since(start).Round(time.Millisecond)).LimitFirstN(2))
		}
		fmt.Println()
		if !registryAll && !registryVerify {
			fmt.Println("提示: 未校验的条目默认隐藏，使用 --all 或 --verify")
		}
		return nil
	},
}

func init() {
	registryCmd.Flags().BoolVar(&registryVerify, "verify", false, "探测未确认的条目")
	registryCmd.Flags().StringVar(&registryPack, "pack", "", "只显示某个包")
	registryCmd.Flags().BoolVar(&registryAll, "all", false, "同时显示不存在或未校验的条目")
	rootCmd.AddCommand(registryCmd)
}

package cmd

import (
	"context"
	"fmt"
	"log"

	"PhuzzyAudio/cache"

	"github.com/spf13/cobra"
)

var redisForget []string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并统计缓存的音频校验结果。--forget 删除指定路径的校验结果。`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				log.Printf("关闭Redis连接时发生错误: %v", err)
			}
		}()
		fmt.Println("Redis连接成功！")

		if err := cache.TestRedis(ctx); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		store := cache.NewAssetCache(cache.RedisClient, cfg.VerifyTTL)
		if len(redisForget) > 0 {
			if err := store.Forget(ctx, redisForget...); err != nil {
				log.Fatalf("删除校验结果失败: %v", err)
			}
			fmt.Printf("已删除 %d 条校验结果\n", len(redisForget))
		}
		n, err := store.Count(ctx)
		if err != nil {
			log.Fatalf("统计校验结果失败: %v", err)
		}
		fmt.Printf("缓存的音频校验结果: %d 条\n", n)
	},
}

func init() {
	redisCmd.Flags().StringSliceVar(&redisForget, "forget", nil, "删除这些路径的校验结果")
	rootCmd.AddCommand(redisCmd)
}

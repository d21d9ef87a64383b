package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"PhuzzyAudio/core/asset"
	"PhuzzyAudio/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioList   bool
	minioSync   bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶查看",
	Long:  `查看存储桶中的音频文件统计，--list 列出文件，--sync 演示按存储桶内容登记场景音频。`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.InitMinio(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		src := storage.NewMinioSource(client, cfg.MinioBucket, cfg.MinioPrefix)
		if err := src.PrintBucketStatus(ctx, os.Stdout, minioPrefix, minioList); err != nil {
			log.Fatalf("获取存储桶状态失败: %v", err)
		}

		if minioSync {
			reg := asset.NewRegistry("")
			n, err := src.SyncRegistry(ctx, reg)
			if err != nil {
				log.Fatalf("同步登记失败: %v", err)
			}
			fmt.Printf("\n可登记的场景音频: %d 个\n", n)
		}
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "目录前缀")
	minioCmd.Flags().BoolVarP(&minioList, "list", "l", false, "列出文件")
	minioCmd.Flags().BoolVar(&minioSync, "sync", false, "统计可登记的场景音频")
	rootCmd.AddCommand(minioCmd)
}

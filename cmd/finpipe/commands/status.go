package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "연결 상태 점검",
	Long: `설정과 외부 의존성 연결을 점검합니다.

표시 정보:
- 파이프라인 설정 해시
- 웨어하우스 연결 및 스키마
- Redis 연결 (REDIS_ENABLED=true일 때)
- 활성화된 소스와 최근 실행

Example:
  go run ./cmd/finpipe status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== finpipe Status ===")

	e, err := loadEnv()
	if err != nil {
		PrintError("Config: " + err.Error())
		return err
	}
	PrintKeyValue("Env", e.cfg.Env, 10)
	PrintKeyValue("Pipeline", fmt.Sprintf("%s (%s)", e.cfg.PipelineConfigPath, e.hash[:12]), 10)
	PrintKeyValue("Schedule", e.pipeline.Schedule.Cron, 10)
	PrintSeparator()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := wire(ctx, e, wireOptions{})
	if err != nil {
		PrintError("Wiring: " + err.Error())
		return err
	}
	defer a.Close()
	PrintSuccess(fmt.Sprintf("Warehouse (%s) reachable, schema ready", e.cfg.Warehouse.Driver))

	if a.redis.Enabled() {
		if err := a.redis.Redis().Ping(ctx).Err(); err != nil {
			PrintError("Redis: " + err.Error())
		} else {
			PrintSuccess("Redis reachable (run lock + shared rate limits)")
		}
	} else {
		PrintWarning("Redis disabled: run exclusion is per process")
	}

	if a.portfolioDB != nil {
		PrintSuccess("Portfolio database reachable")
	}

	batches, err := a.store.ListBatches(ctx, 5)
	if err != nil {
		PrintError("Batches: " + err.Error())
		return err
	}
	fmt.Println()
	if len(batches) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	PrintBatches(batches)
	return nil
}

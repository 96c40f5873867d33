package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/scheduler"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "ETL 1회 실행",
	Long: `한 스케줄 구간의 ETL을 즉시 실행합니다.

이 명령어는:
- 모든 소스에서 데이터 수집 (S0)
- 품질 검증 (S0 Quality Gate)
- 분석 지표 변환 (S1)
- 파티션 단위 적재 (S2)
- 실행 결과 요약 출력

--slot 미지정 시 현재 스케줄 구간을 사용합니다.
같은 구간을 다시 실행해도 결과는 동일합니다 (idempotent).

Example:
  go run ./cmd/finpipe run
  go run ./cmd/finpipe run --slot 2024-03-05
  go run ./cmd/finpipe run --slot 2024-03-05T06:00:00Z --json`,
	RunE: runOnce,
}

var (
	runSlot string
	runJSON bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSlot, "slot", "", "scheduled slot (RFC 3339 or YYYY-MM-DD)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the outcome as JSON")
}

func runOnce(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	slot, err := scheduler.ResolveSlot(e.pipeline.Schedule.Cron, runSlot, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, e, wireOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, runErr := a.coord.Run(ctx, slot)
	if errors.Is(runErr, contracts.ErrRunInProgress) {
		PrintWarning(fmt.Sprintf("A run for %s is already in progress", slot.Format(time.RFC3339)))
		return runErr
	}

	if outcome != nil {
		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return err
			}
		} else {
			PrintRunReport(outcome)
		}
	}

	return runErr
}

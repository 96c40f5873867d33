package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/finpipe/internal/scheduler"
	"github.com/wonny/finpipe/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `스케줄러를 시작하거나 스케줄을 조회합니다.

Subcommands:
  start   - 스케줄러 시작 (financial_etl)
  next    - 현재 구간과 다음 실행 시각 조회

Example:
  go run ./cmd/finpipe scheduler start
  go run ./cmd/finpipe scheduler next --count 5`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 financial_etl 작업을 등록합니다.

기본 스케줄: 매일 06:00 UTC (pipeline.yaml schedule.cron)
재시도는 Run Coordinator가 담당하며, 같은 구간이 이미 실행 중이면 건너뜁니다.

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerNextCmd = &cobra.Command{
		Use:   "next",
		Short: "다음 실행 시각 조회",
		RunE:  showNextRuns,
	}

	nextCount int
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerNextCmd)

	schedulerNextCmd.Flags().IntVar(&nextCount, "count", 3, "number of activations to show")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== finpipe Scheduler ===")

	e, err := loadEnv()
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

	sched, err := newScheduler(a)
	if err != nil {
		return err
	}
	sched.Start(ctx)

	next, _ := sched.NextRun(jobs.ETLJobName)
	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Printf("  - %s (%s), next run %s\n", jobs.ETLJobName, e.pipeline.Schedule.Cron, next.Format(time.RFC3339))
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

// newScheduler registers the ETL job against a wired app
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	job, err := jobs.NewETLJob(a.coord, a.pipeline.Schedule.Cron, a.pipeline.Schedule.RunTimeout, a.log)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(a.log)
	if err := sched.AddJob(job); err != nil {
		return nil, err
	}
	return sched, nil
}

func showNextRuns(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	spec := e.pipeline.Schedule.Cron
	sched, err := scheduler.ParseSchedule(spec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	slot, err := scheduler.NominalSlot(spec, now)
	if err != nil {
		return err
	}

	fmt.Printf("Schedule     : %s\n", spec)
	fmt.Printf("Current slot : %s\n", slot.Format(time.RFC3339))
	fmt.Println("Next runs:")
	t := now
	for i := 0; i < nextCount; i++ {
		t = sched.Next(t)
		fmt.Printf("   %d. %s\n", i+1, t.Format(time.RFC3339))
	}

	return nil
}

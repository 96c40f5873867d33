package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/finpipe/internal/api"
	"github.com/wonny/finpipe/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작
- ETL 실행 트리거 및 실행 이력 조회
- 적재된 파티션 조회
- WebSocket으로 실행 결과 알림 (/ws)

Endpoints:
  GET  /health                 - Health check
  POST /api/runs               - ETL 실행 (202, 실행 중이면 409)
  GET  /api/runs               - 실행 이력
  GET  /api/runs/active        - 실행 중인 구간
  GET  /api/runs/{id}          - 실행 상세
  GET  /api/partitions/{date}  - 파티션 조회
  GET  /api/holdings/{date}    - 보유 종목 스냅샷
  GET  /api/jobs               - 스케줄러 통계 (--with-scheduler)
  GET  /ws                     - 실행 알림 스트림

Example:
  go run ./cmd/finpipe api
  go run ./cmd/finpipe api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default is $PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "run the financial_etl schedule in this process")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== finpipe API Server ===")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	if apiPort != "" {
		e.cfg.Port = apiPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, e, wireOptions{withHub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	// submitted runs stop with the server
	a.coord.WithBaseContext(ctx)
	go a.hub.Run(ctx)

	h := api.Handlers{
		Runs:       handlers.NewRunHandler(a.coord, a.store, e.pipeline.Schedule.Cron, e.log),
		Partitions: handlers.NewPartitionHandler(a.store, e.log),
		Events:     a.hub,
	}

	if apiWithScheduler {
		sched, err := newScheduler(a)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
		h.Jobs = handlers.NewJobHandler(sched)
	}

	server := api.New(e.cfg, e.log, api.NewRouter(h, e.log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", e.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.coord.Wait()

	e.log.Info("Server stopped")
	return nil
}

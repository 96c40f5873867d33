package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/finpipe/internal/s2_load/warehouse"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "웨어하우스 스키마 생성",
	Long: `analytics_rows, portfolio_holdings, load_batches 테이블과 인덱스를 생성합니다.
이미 존재하면 아무것도 변경하지 않습니다.

Example:
  go run ./cmd/finpipe migrate
  WAREHOUSE_DRIVER=sqlite SQLITE_PATH=finpipe.db go run ./cmd/finpipe migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Open applies the schema
	store, err := warehouse.Open(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer store.Close()

	PrintSuccess(fmt.Sprintf("Schema ready (%s)", e.cfg.Warehouse.Driver))
	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/s2_load/warehouse"
)

// batchesCmd represents the batches command
var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "실행 이력 조회",
	Long: `load_batches 감사 기록을 조회합니다.

Subcommands:
  list   - 최근 실행 목록
  show   - 실행 상세 (JSON)

Example:
  go run ./cmd/finpipe batches list --limit 20
  go run ./cmd/finpipe batches show 3f0c...`,
}

var (
	batchesListCmd = &cobra.Command{
		Use:   "list",
		Short: "최근 실행 목록",
		RunE:  listBatches,
	}

	batchesShowCmd = &cobra.Command{
		Use:   "show [batch_id]",
		Short: "실행 상세",
		Args:  cobra.ExactArgs(1),
		RunE:  showBatch,
	}

	batchesLimit int
)

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.AddCommand(batchesListCmd)
	batchesCmd.AddCommand(batchesShowCmd)

	batchesListCmd.Flags().IntVar(&batchesLimit, "limit", 20, "number of batches")
}

func openStore() (warehouse.Store, context.Context, context.CancelFunc, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := warehouse.Open(ctx, e.cfg, e.log)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return store, ctx, cancel, nil
}

func listBatches(cmd *cobra.Command, args []string) error {
	store, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer cancel()
	defer store.Close()

	batches, err := store.ListBatches(ctx, batchesLimit)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	PrintBatches(batches)
	return nil
}

func showBatch(cmd *cobra.Command, args []string) error {
	store, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer cancel()
	defer store.Close()

	batch, err := store.GetBatch(ctx, args[0])
	if errors.Is(err, contracts.ErrBatchNotFound) {
		PrintError("Batch not found: " + args[0])
		return err
	}
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(batch)
}

package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	pipelineFile string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "finpipe",
	Short: "finpipe - 금융 시장 데이터 ETL 파이프라인",
	Long: `finpipe Unified CLI

주식, 암호화폐, 뉴스, 포트폴리오 데이터를 수집하여
품질 검증 → 분석 지표 변환 → 파티션 단위 적재까지 수행합니다.

Usage:
  go run ./cmd/finpipe [command]

Examples:
  go run ./cmd/finpipe run
  go run ./cmd/finpipe run --slot 2024-03-05
  go run ./cmd/finpipe scheduler start
  go run ./cmd/finpipe api
  go run ./cmd/finpipe batches list`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pipelineFile, "pipeline", "", "pipeline YAML (default is $PIPELINE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그와 실행 이력에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   S0 → S1 → S2 → S3
//   Extract  Validate  Transform  Load

// Stage represents a pipeline stage
type Stage string

const (
	// StageExtract S0: 소스 어댑터 동시 수집
	// 위치: internal/s0_data/collector/
	StageExtract Stage = "S0_EXTRACT"

	// StageValidate S1: 품질 게이트
	// 위치: internal/s0_data/quality/
	StageValidate Stage = "S1_VALIDATE"

	// StageTransform S2: 이동평균, 변동성, 감성 분석
	// 위치: internal/s1_analytics/
	StageTransform Stage = "S2_TRANSFORM"

	// StageLoad S3: 파티션 단위 upsert
	// 위치: internal/s2_load/
	StageLoad Stage = "S3_LOAD"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

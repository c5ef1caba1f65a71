package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".threadweave/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"threadweave/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type EngineEnv struct {
	DefinitionsDir       string `envconfig:"DEFINITIONS_DIR" default:".threadweave/workflows"`
	MaxPendingResponses  int    `envconfig:"MAX_PENDING_RESPONSES" default:"100"`
	SweepIntervalSeconds int    `envconfig:"SWEEP_INTERVAL_SECONDS" default:"60"`
	StepTimeoutMS        int64  `envconfig:"STEP_TIMEOUT_MS" default:"600000"`
	ResponseTimeoutMS    int64  `envconfig:"RESPONSE_TIMEOUT_MS" default:"300000"`
	ParallelLimit        int    `envconfig:"PARALLEL_LIMIT" default:"0"`
}

type ApprovalEnv struct {
	TimeoutSeconds           int    `envconfig:"APPROVAL_TIMEOUT_SECONDS" default:"3600"`
	ExpiryPolicy             string `envconfig:"APPROVAL_EXPIRY_POLICY" default:"auto_reject"`
	MaxRiskForAutoApprove    string `envconfig:"APPROVAL_MAX_RISK_FOR_AUTO_APPROVE" default:"medium"`
	EscalationDelaySeconds   int    `envconfig:"APPROVAL_ESCALATION_DELAY_SECONDS" default:"900"`
	EscalationUser           string `envconfig:"APPROVAL_ESCALATION_USER"`
	ExpiryScanIntervalSecond int    `envconfig:"APPROVAL_EXPIRY_SCAN_INTERVAL_SECONDS" default:"30"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:ops@threadweave.dev"`
}

type Env struct {
	BaseEnv
	StorageEnv
	EngineEnv
	ApprovalEnv
	VAPIDEnv
}

const namespace = "THREADWEAVE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func EngineEnvFromEnv(env *Env) *EngineEnv {
	return &env.EngineEnv
}

func ApprovalEnvFromEnv(env *Env) *ApprovalEnv {
	return &env.ApprovalEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}

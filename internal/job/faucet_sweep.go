package job

import (
	"context"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/service"

	"github.com/go-co-op/gocron/v2"
)

// FaucetSweepJob 水龙头确认任务，轮询在途领取的交易结果
type FaucetSweepJob struct {
	faucet    *service.FaucetService
	cfg       *config.Config
	batchSize int
}

func NewFaucetSweepJob(faucet *service.FaucetService, cfg *config.Config) *FaucetSweepJob {
	batchSize := cfg.Business.PageSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &FaucetSweepJob{
		faucet:    faucet,
		cfg:       cfg,
		batchSize: batchSize,
	}
}

func (j *FaucetSweepJob) GetName() string {
	return "faucet_sweep"
}

func (j *FaucetSweepJob) GetSchedule() gocron.JobDefinition {
	interval := j.cfg.Business.SweepIntervalSeconds
	if interval <= 0 {
		interval = 10
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

func (j *FaucetSweepJob) Execute() {
	if err := j.faucet.ConfirmSubmitted(context.Background(), j.batchSize); err != nil {
		logger.Error("水龙头确认任务失败: %v", err)
	}
}

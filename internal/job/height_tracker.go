package job

import (
	"context"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/repository"
	"catpoints/internal/service"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// HeightTrackerJob 链高度跟踪任务
// 定期拉各条链的最优高度写入本地索引，高度只进不退。
type HeightTrackerJob struct {
	gateway    service.ChainGateway
	heightRepo *repository.ChainHeightRepository
	cfg        *config.Config
	chains     []string
}

func NewHeightTrackerJob(db *gorm.DB, gateway service.ChainGateway, cfg *config.Config) *HeightTrackerJob {
	var chains []string
	for chainID := range cfg.Chain.Nodes {
		chains = append(chains, chainID)
	}
	return &HeightTrackerJob{
		gateway:    gateway,
		heightRepo: repository.NewChainHeightRepository(db),
		cfg:        cfg,
		chains:     chains,
	}
}

func (j *HeightTrackerJob) GetName() string {
	return "chain_height_tracker"
}

func (j *HeightTrackerJob) GetSchedule() gocron.JobDefinition {
	interval := j.cfg.Business.HeightIntervalSeconds
	if interval <= 0 {
		interval = 8
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

func (j *HeightTrackerJob) Execute() {
	ctx := context.Background()
	for _, chainID := range j.chains {
		height, err := j.gateway.GetChainHeight(ctx, chainID)
		if err != nil {
			logger.Warn("拉取链高度失败, chainId: %s, err: %v", chainID, err)
			continue
		}
		if err := j.heightRepo.Upsert(ctx, chainID, height); err != nil {
			logger.Error("写入链高度失败, chainId: %s, err: %v", chainID, err)
		}
	}
}

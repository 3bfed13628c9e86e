package job

import (
	"context"
	"sync"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/repository"
	"catpoints/internal/service"

	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// InvokeSweepJob 在途调用扫描任务
// 扫出所有未到终态的调用记录，用协程池并发驱动各自的 actor 向前推进。
// 同一个 BizID 的推进在 actor 内仍是串行的，池只是放大吞吐。
type InvokeSweepJob struct {
	invokes    *service.InvokeService
	invokeRepo *repository.ContractInvokeRepository
	pool       *ants.Pool
	cfg        *config.Config
	batchSize  int
}

func NewInvokeSweepJob(db *gorm.DB, invokes *service.InvokeService, cfg *config.Config) *InvokeSweepJob {
	concurrency := cfg.Business.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		logger.Fatal("创建扫描协程池失败: %v", err)
	}
	batchSize := cfg.Business.PageSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &InvokeSweepJob{
		invokes:    invokes,
		invokeRepo: repository.NewContractInvokeRepository(db),
		pool:       pool,
		cfg:        cfg,
		batchSize:  batchSize,
	}
}

func (j *InvokeSweepJob) GetName() string {
	return "invoke_sweep"
}

func (j *InvokeSweepJob) GetSchedule() gocron.JobDefinition {
	interval := j.cfg.Business.SweepIntervalSeconds
	if interval <= 0 {
		interval = 10
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

func (j *InvokeSweepJob) Execute() {
	ctx := context.Background()
	invokes, err := j.invokeRepo.ListUnfinished(ctx, j.batchSize)
	if err != nil {
		logger.Error("扫描在途调用失败: %v", err)
		return
	}
	if len(invokes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, invoke := range invokes {
		bizID := invoke.BizID
		wg.Add(1)
		if err := j.pool.Submit(func() {
			defer wg.Done()
			if err := j.invokes.Execute(ctx, bizID); err != nil {
				logger.Warn("驱动调用失败, bizId: %s, err: %v", bizID, err)
			}
		}); err != nil {
			wg.Done()
			logger.Warn("提交扫描任务失败, bizId: %s, err: %v", bizID, err)
		}
	}
	wg.Wait()
}

// Release 释放协程池
func (j *InvokeSweepJob) Release() {
	j.pool.Release()
}

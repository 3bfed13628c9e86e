package job

import (
	"context"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"
	"catpoints/internal/service"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
)

// 占用后一直没有对应调用记录的残留，超过这个时长就释放回未结算
const orphanClaimAge = 10 * time.Minute

// SettleSweepJob 结算收口任务
// 扫 PENDING 积分记录，按批次对账调用记录：
//   - 调用已到终态 -> 把整批记录落成 SETTLED / FAILED
//   - 调用记录不存在且占用已久 -> 派发中途崩溃的残留，释放回 UNSETTLED
//   - 调用还在途 -> 等
type SettleSweepJob struct {
	records  *service.PointRecordService
	dispatch *service.DispatchService
	invokes  *service.InvokeService
	store    service.PointRecordStore
	cfg      *config.Config
	chains   []string
	pageSize int
}

func NewSettleSweepJob(records *service.PointRecordService, dispatch *service.DispatchService,
	invokes *service.InvokeService, store service.PointRecordStore, cfg *config.Config) *SettleSweepJob {
	seen := make(map[string]bool)
	var chains []string
	for _, sp := range cfg.Business.SettlePoints {
		if !seen[sp.ChainID] {
			seen[sp.ChainID] = true
			chains = append(chains, sp.ChainID)
		}
	}
	pageSize := cfg.Business.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &SettleSweepJob{
		records:  records,
		dispatch: dispatch,
		invokes:  invokes,
		store:    store,
		cfg:      cfg,
		chains:   chains,
		pageSize: pageSize,
	}
}

func (j *SettleSweepJob) GetName() string {
	return "settle_sweep"
}

func (j *SettleSweepJob) GetSchedule() gocron.JobDefinition {
	interval := j.cfg.Business.SweepIntervalSeconds
	if interval <= 0 {
		interval = 10
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

func (j *SettleSweepJob) Execute() {
	ctx := context.Background()
	for _, chainID := range j.chains {
		j.sweepChain(ctx, chainID)
	}
}

func (j *SettleSweepJob) sweepChain(ctx context.Context, chainID string) {
	pending, err := j.store.ListPending(ctx, chainID, 0, j.pageSize)
	if err != nil {
		logger.Error("扫描在途积分记录失败, chainId: %s, err: %v", chainID, err)
		return
	}
	if len(pending) == 0 {
		return
	}

	batches := make(map[string][]*model.PointDailyRecord)
	for _, record := range pending {
		batches[record.BizID] = append(batches[record.BizID], record)
	}

	for bizID, records := range batches {
		invoke, err := j.invokes.GetInvoke(ctx, bizID)
		if errors.Is(err, service.ErrInvokeNotFound) {
			j.releaseOrphans(ctx, bizID, records)
			continue
		}
		if err != nil {
			logger.Error("查询批次调用失败, bizId: %s, err: %v", bizID, err)
			continue
		}
		if !invoke.IsTerminal() {
			continue
		}
		success := invoke.Status == model.InvokeStatusSuccess
		if err := j.records.FinishBatch(ctx, bizID, success); err != nil {
			logger.Error("批次收口失败, bizId: %s, err: %v", bizID, err)
		}
	}
}

func (j *SettleSweepJob) releaseOrphans(ctx context.Context, bizID string, records []*model.PointDailyRecord) {
	for _, record := range records {
		if time.Since(record.UpdatedAt) < orphanClaimAge {
			continue
		}
		if err := j.dispatch.ReleaseOrphan(ctx, record.ID, bizID); err != nil {
			logger.Warn("释放残留记录失败, recordId: %s, bizId: %s, err: %v", record.ID, bizID, err)
			continue
		}
		logger.Info("已释放派发残留记录, recordId: %s, bizId: %s", record.ID, bizID)
	}
}

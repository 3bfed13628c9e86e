package job

import (
	"context"
	"fmt"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/service"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// 窗口派发完成标记的保留时长
const dispatchDoneTTL = 48 * time.Hour

// DispatchJob 结算派发任务
// 对每个配置的结算积分，按 T-1 业务日期发起派发周期。
// 窗口扫空之后在 Redis 记一个完成标记跳过后续空扫，标记只是优化，
// 丢了也只是多扫一次。
type DispatchJob struct {
	dispatch *service.DispatchService
	redis    *redis.Client
	cfg      *config.Config
}

func NewDispatchJob(dispatch *service.DispatchService, redisClient *redis.Client, cfg *config.Config) *DispatchJob {
	return &DispatchJob{
		dispatch: dispatch,
		redis:    redisClient,
		cfg:      cfg,
	}
}

func (j *DispatchJob) GetName() string {
	return "point_dispatch"
}

func (j *DispatchJob) GetSchedule() gocron.JobDefinition {
	interval := j.cfg.Business.DispatchIntervalSeconds
	if interval <= 0 {
		interval = 60
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

func (j *DispatchJob) Execute() {
	ctx := context.Background()
	bizDate := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	for _, sp := range j.cfg.Business.SettlePoints {
		j.dispatchWindow(ctx, sp, bizDate)
	}
}

func (j *DispatchJob) dispatchWindow(ctx context.Context, sp config.SettlePointConfig, bizDate string) {
	doneKey := fmt.Sprintf("point:dispatch:done:%s:%s:%s", sp.ChainID, sp.PointName, bizDate)
	exists, err := j.redis.Exists(ctx, doneKey).Result()
	if err == nil && exists > 0 {
		return
	}

	bizID, err := j.dispatch.Dispatch(ctx, sp, bizDate)
	switch {
	case err == nil:
		logger.Info("派发周期完成, chainId: %s, pointName: %s, bizDate: %s, bizId: %s",
			sp.ChainID, sp.PointName, bizDate, bizID)
	case errors.Is(err, service.ErrNothingToSettle):
		if err := j.redis.Set(ctx, doneKey, "1", dispatchDoneTTL).Err(); err != nil {
			logger.Warn("写入派发完成标记失败, key: %s, err: %v", doneKey, err)
		}
	case errors.Is(err, service.ErrDispatchLocked):
		// 别的实例在跑，下一轮再来
	default:
		logger.Error("派发周期失败, chainId: %s, pointName: %s, bizDate: %s, err: %v",
			sp.ChainID, sp.PointName, bizDate, err)
	}
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"catpoints/internal/actor"
	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"catpoints/internal/infrastructure/lock"
)

var (
	ErrDispatchLocked  = errors.New("结算窗口正在派发中")
	ErrNothingToSettle = errors.New("没有待结算的积分记录")
)

// DispatchService 结算批次的扫描、占用与派发
//
// 一个派发周期：领取窗口锁 -> 分页扫未结算记录 -> 逐桶占用（在桶 actor 内
// 做 CAS，与累计请求互斥）-> 用占用成功的记录拼调用参数 -> 登记链上调用
// 并异步驱动。占用失败的记录跳过，留给下一轮。
//
// BizID 带 uuid，重派同一个窗口会生成新批次，旧批次的终态由扫描任务收口。
type DispatchService struct {
	store    PointRecordStore
	invokes  *InvokeService
	actors   *actor.Registry
	redis    *redis.Client
	pageSize int
	instance string // 锁持有者标识
}

func NewDispatchService(store PointRecordStore, invokes *InvokeService, actors *actor.Registry, redisClient *redis.Client, cfg *config.Config) *DispatchService {
	pageSize := cfg.Business.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &DispatchService{
		store:    store,
		invokes:  invokes,
		actors:   actors,
		redis:    redisClient,
		pageSize: pageSize,
		instance: uuid.NewString(),
	}
}

// GenBizID 生成批次号（幂等 key）
func GenBizID(chainID, bizDate, pointName string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%s", chainID, bizDate, pointName, uuid.NewString())))
	return hex.EncodeToString(sum[:])
}

// Dispatch 对一个结算窗口执行一个派发周期，返回批次号
func (s *DispatchService) Dispatch(ctx context.Context, sp config.SettlePointConfig, bizDate string) (string, error) {
	dispatchLock := lock.NewDispatchLock(s.redis, sp.ChainID, sp.PointName, bizDate, s.instance)
	locked, err := dispatchLock.TryLock(ctx)
	if err != nil {
		return "", errors.Wrap(err, "获取派发锁失败")
	}
	if !locked {
		return "", ErrDispatchLocked
	}
	defer func() {
		if err := dispatchLock.Unlock(context.Background()); err != nil {
			logger.Warn("释放派发锁失败, chainId: %s, pointName: %s, err: %v", sp.ChainID, sp.PointName, err)
		}
	}()

	bizID := GenBizID(sp.ChainID, bizDate, sp.PointName)
	batch, err := s.claimBatch(ctx, sp, bizDate, bizID)
	if err != nil {
		return "", err
	}
	if len(batch.UserPoints) == 0 {
		return "", ErrNothingToSettle
	}

	param, err := json.Marshal(batch)
	if err != nil {
		return "", errors.Wrap(err, "序列化结算参数失败")
	}

	invoke := &model.ContractInvoke{
		BizID:           bizID,
		ChainID:         sp.ChainID,
		BizType:         model.BizTypePointSettle,
		ContractAddress: sp.ContractAddress,
		ContractMethod:  sp.Method,
		Sender:          s.invokes.chain.CallPublicKey(),
		Param:           string(param),
	}
	if err := s.invokes.CreateInvoke(ctx, invoke); err != nil {
		return "", err
	}
	s.invokes.ExecuteAsync(bizID)

	logger.Info("结算批次已派发, bizId: %s, chainId: %s, pointName: %s, bizDate: %s, count: %d",
		bizID, sp.ChainID, sp.PointName, bizDate, len(batch.UserPoints))
	return bizID, nil
}

// claimBatch 分页扫描并逐桶占用，拼出批次载荷
func (s *DispatchService) claimBatch(ctx context.Context, sp config.SettlePointConfig, bizDate, bizID string) (*model.PointSettleBatch, error) {
	batch := &model.PointSettleBatch{
		ChainID:   sp.ChainID,
		PointName: sp.PointName,
		BizID:     bizID,
		BizDate:   bizDate,
	}
	// 占用会把记录移出 UNSETTLED，翻页始终从 0 开始
	for {
		records, err := s.store.ListUnsettled(ctx, sp.ChainID, sp.PointName, bizDate, 0, s.pageSize)
		if err != nil {
			return nil, errors.Wrap(err, "扫描未结算记录失败")
		}
		if len(records) == 0 {
			break
		}
		claimed := 0
		for _, record := range records {
			claimedRecord, err := s.claimRecord(ctx, record.ID, bizID)
			if err != nil {
				// 占用失败：可能刚被累计请求改写，留给下一轮
				logger.Warn("占用积分记录失败，跳过, recordId: %s, err: %v", record.ID, err)
				continue
			}
			claimed++
			batch.UserPoints = append(batch.UserPoints, model.UserPointInfo{
				RecordID: claimedRecord.ID,
				Address:  claimedRecord.Address,
				Amount:   claimedRecord.PointAmount,
			})
		}
		// 整页都占不上就停，防止空转
		if claimed == 0 {
			break
		}
		if len(records) < s.pageSize {
			break
		}
	}
	return batch, nil
}

// claimRecord 在桶 actor 内占用记录，与累计请求串行
// 占用成功后回读一次，批次载荷里的金额以占用那一刻的数据库值为准。
func (s *DispatchService) claimRecord(ctx context.Context, recordID, bizID string) (*model.PointDailyRecord, error) {
	var claimed *model.PointDailyRecord
	err := s.actors.Do(ctx, "point:"+recordID, func(ctx context.Context) error {
		if err := s.store.ClaimForBatch(ctx, recordID, bizID); err != nil {
			return err
		}
		record, err := s.store.GetByID(ctx, recordID)
		if err != nil {
			return err
		}
		claimed = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseOrphan 释放一条占用后未能派发的记录（进程崩溃的残留）
func (s *DispatchService) ReleaseOrphan(ctx context.Context, recordID, bizID string) error {
	return s.actors.Do(ctx, "point:"+recordID, func(ctx context.Context) error {
		return s.store.ReleaseClaim(ctx, recordID, bizID)
	})
}

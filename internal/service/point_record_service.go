package service

import (
	"context"
	"encoding/json"

	"catpoints/internal/actor"
	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"
	"catpoints/internal/repository"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrPointRecordNotFound = errors.New("积分记录不存在")
	ErrBucketSealed        = errors.New("积分桶已进入结算，不再接受累计")
	ErrInvalidAmount       = errors.New("积分数量必须为正数")
)

// PointRecordService 积分日累计
//
// 每个 (链, 积分名, 日期, 地址) 桶一个 actor，读改写在 actor 内串行。
// actor 只管住本进程，回写仍带状态条件 CAS：多实例部署下别的实例的
// 结算周期可能在读改写窗口里把桶划进批次，这时累计回写必须落空。
// 源事件 id 去重保证同一事件重复上报只计一次。
type PointRecordService struct {
	store  PointRecordStore
	actors *actor.Registry
	topics config.KafkaTopicConfig
}

func NewPointRecordService(store PointRecordStore, actors *actor.Registry, cfg *config.Config) *PointRecordService {
	return &PointRecordService{
		store:  store,
		actors: actors,
		topics: cfg.Kafka.Topic,
	}
}

// Accumulate 向积分桶累计一笔积分，返回累计后的总额
// 同一个 sourceEventID 重复上报是无操作，返回当前总额。
func (s *PointRecordService) Accumulate(ctx context.Context, chainID, pointName, bizDate, address, sourceEventID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	recordID := model.PointRecordID(chainID, pointName, bizDate, address)
	var total decimal.Decimal
	err := s.actors.Do(ctx, "point:"+recordID, func(ctx context.Context) error {
		record, err := s.store.GetByID(ctx, recordID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &model.PointDailyRecord{
				ID:          recordID,
				ChainID:     chainID,
				PointName:   pointName,
				BizDate:     bizDate,
				Address:     address,
				PointAmount: decimal.Zero,
				Status:      model.PointRecordStatusUnsettled,
			}
			if err := record.AppendSourceEvent(sourceEventID); err != nil {
				return errors.Wrap(err, "记录源事件失败")
			}
			record.PointAmount = amount
			total = amount
			return s.store.Create(ctx, record)
		}

		if record.ContainsSourceEvent(sourceEventID) {
			logger.Info("源事件重复上报，忽略, recordId: %s, sourceEventId: %s", recordID, sourceEventID)
			total = record.PointAmount
			return nil
		}
		// 已被结算批次占用的桶不再变动，来晚的事件算到下一天
		if record.BizID != "" || record.Status != model.PointRecordStatusUnsettled {
			return ErrBucketSealed
		}

		if err := record.AppendSourceEvent(sourceEventID); err != nil {
			return errors.Wrap(err, "记录源事件失败")
		}
		record.PointAmount = record.PointAmount.Add(amount)
		total = record.PointAmount
		if err := s.store.SaveUnsettled(ctx, record); err != nil {
			// 回写落空说明结算周期刚把桶占走，按已封桶处理
			if errors.Is(err, repository.ErrRecordClaimed) {
				return ErrBucketSealed
			}
			return err
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// GetRecord 查询积分桶
func (s *PointRecordService) GetRecord(ctx context.Context, chainID, pointName, bizDate, address string) (*model.PointDailyRecord, error) {
	record, err := s.store.GetByID(ctx, model.PointRecordID(chainID, pointName, bizDate, address))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPointRecordNotFound
	}
	return record, nil
}

// FinishBatch 按调用结果落地一个批次里的所有记录
// 每条记录的状态流转与结算事件写在同一个事务里。
// 单条失败只记日志不中断：没落地的记录留在 PENDING，下一轮恢复扫描重试。
func (s *PointRecordService) FinishBatch(ctx context.Context, bizID string, success bool) error {
	records, err := s.store.ListByBizID(ctx, bizID)
	if err != nil {
		return err
	}
	toStatus := model.PointRecordStatusSettled
	if !success {
		toStatus = model.PointRecordStatusFailed
	}
	finished := 0
	for _, record := range records {
		if record.Status != model.PointRecordStatusPending {
			continue
		}
		event, err := s.settledEvent(record.ID, bizID, toStatus)
		if err != nil {
			logger.Error("构造结算事件失败, recordId: %s, err: %v", record.ID, err)
			continue
		}
		if err := s.store.FinishRecord(ctx, record.ID, bizID, toStatus, event); err != nil {
			if errors.Is(err, repository.ErrRecordClaimed) {
				continue
			}
			logger.Error("落地积分记录失败, recordId: %s, err: %v", record.ID, err)
			continue
		}
		finished++
	}
	logger.Info("批次积分记录已落地, bizId: %s, status: %s, count: %d", bizID, toStatus, finished)
	return nil
}

func (s *PointRecordService) settledEvent(recordID, bizID, status string) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(&model.PointDailyRecordSettledEvent{
		RecordID: recordID,
		BizID:    bizID,
		Status:   status,
	})
	if err != nil {
		return nil, errors.Wrap(err, "序列化结算事件失败")
	}
	return &model.OutboxMessage{
		MessageKey: recordID,
		Topic:      s.topics.PointSettled,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

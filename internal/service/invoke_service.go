package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catpoints/internal/actor"
	"catpoints/internal/chain"
	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"

	"github.com/pkg/errors"
)

var (
	ErrInvokeNotFound = errors.New("调用记录不存在")
)

// InvokeService 链上调用状态机
//
// 每个 BizID 对应一个 actor，Execute 在 actor 内串行执行，同一笔调用
// 不会有两个 goroutine 同时推进。推进是逐步的：一次 Execute 至多
// 向前走一格（提交、或确认一次），外层扫描任务负责反复驱动直到终态。
//
// 错误分两类：网络/签名类是瞬时错误，记一次重试后等下一轮；
// 构造参数非法是配置错误，直接置 FAILED 不再重试。
type InvokeService struct {
	store           InvokeStore
	chain           ChainGateway
	actors          *actor.Registry
	topics          config.KafkaTopicConfig
	maxRetryCount   int
	confirmDeadline time.Duration
}

func NewInvokeService(store InvokeStore, gateway ChainGateway, actors *actor.Registry, cfg *config.Config) *InvokeService {
	return &InvokeService{
		store:           store,
		chain:           gateway,
		actors:          actors,
		topics:          cfg.Kafka.Topic,
		maxRetryCount:   cfg.Business.MaxRetryCount,
		confirmDeadline: cfg.Business.ConfirmDeadline(),
	}
}

// CreateInvoke 登记一笔待执行的链上调用，重复 BizID 静默忽略
func (s *InvokeService) CreateInvoke(ctx context.Context, invoke *model.ContractInvoke) error {
	invoke.Status = model.InvokeStatusCreated
	if err := s.store.Create(ctx, invoke); err != nil {
		return errors.Wrap(err, "创建调用记录失败")
	}
	return nil
}

// GetInvoke 查询调用记录
func (s *InvokeService) GetInvoke(ctx context.Context, bizID string) (*model.ContractInvoke, error) {
	invoke, err := s.store.Get(ctx, bizID)
	if err != nil {
		return nil, err
	}
	if invoke == nil {
		return nil, ErrInvokeNotFound
	}
	return invoke, nil
}

// Execute 在 actor 内把调用向前推进一步
func (s *InvokeService) Execute(ctx context.Context, bizID string) error {
	return s.actors.Do(ctx, "invoke:"+bizID, func(ctx context.Context) error {
		return s.step(ctx, bizID)
	})
}

// ExecuteAsync 异步推进，不等待结果（接口路径用，避免阻塞请求）
func (s *InvokeService) ExecuteAsync(bizID string) {
	s.actors.Go("invoke:"+bizID, func(ctx context.Context) error {
		return s.step(ctx, bizID)
	})
}

func (s *InvokeService) step(ctx context.Context, bizID string) error {
	invoke, err := s.store.Get(ctx, bizID)
	if err != nil {
		return err
	}
	if invoke == nil {
		return ErrInvokeNotFound
	}
	if invoke.IsTerminal() {
		return nil
	}

	switch invoke.Status {
	case model.InvokeStatusCreated:
		return s.submit(ctx, invoke, false)
	case model.InvokeStatusSubmitted:
		return s.confirm(ctx, invoke)
	default:
		return errors.Errorf("非法的调用状态: %s", invoke.Status)
	}
}

// submit 构造、签名并提交交易
// RefBlock 每次都取最新链状态，TransactionID 在发送前先落库，
// 重启后凭它继续确认而不是重复提交。
func (s *InvokeService) submit(ctx context.Context, invoke *model.ContractInvoke, resubmit bool) error {
	tx, err := s.chain.CreateTransaction(ctx, invoke.ChainID, invoke.Sender,
		invoke.ContractAddress, invoke.ContractMethod, invoke.Param)
	if err != nil {
		if errors.Is(err, chain.ErrNetwork) {
			return s.recordTransientFailure(ctx, invoke, err)
		}
		// 构造失败说明调用本身不合法，重试没有意义
		logger.Error("构造交易失败, bizId: %s, err: %v", invoke.BizID, err)
		return s.finishFailed(ctx, invoke, invoke.TransactionStatus, err.Error())
	}

	signature, err := s.chain.Sign(ctx, invoke.Sender, tx.TxID)
	if err != nil {
		return s.recordTransientFailure(ctx, invoke, err)
	}

	if err := s.store.MarkSubmitted(ctx, invoke.BizID, tx.TxID, resubmit); err != nil {
		return errors.Wrap(err, "更新提交状态失败")
	}

	if _, err := s.chain.SendTransaction(ctx, invoke.ChainID, tx.Raw, signature); err != nil {
		// 已落库为 SUBMITTED，发送失败交给确认逻辑：查不到就会超期重建
		logger.Warn("发送交易失败, bizId: %s, txId: %s, err: %v", invoke.BizID, tx.TxID, err)
		return nil
	}

	logger.Info("交易已提交, bizId: %s, txId: %s, resubmit: %v", invoke.BizID, tx.TxID, resubmit)
	return nil
}

// confirm 轮询交易结果
func (s *InvokeService) confirm(ctx context.Context, invoke *model.ContractInvoke) error {
	result, err := s.chain.GetTransactionResult(ctx, invoke.ChainID, invoke.TransactionID)
	if err != nil {
		// 查询失败不消耗重试额度，等下一轮
		logger.Warn("查询交易结果失败, bizId: %s, txId: %s, err: %v", invoke.BizID, invoke.TransactionID, err)
		return nil
	}

	switch result.Status {
	case model.TxStatusMined:
		event, err := s.resultEvent(invoke, model.InvokeStatusSuccess, invoke.TransactionID, result.BlockNumber, "")
		if err != nil {
			return err
		}
		if err := s.store.FinishSuccess(ctx, invoke.BizID, model.TxStatusMined, result.BlockNumber, event); err != nil {
			return errors.Wrap(err, "落地成功状态失败")
		}
		logger.Info("调用成功, bizId: %s, txId: %s, height: %d", invoke.BizID, invoke.TransactionID, result.BlockNumber)
		return nil

	case model.TxStatusFailed:
		// 链上执行失败是终态，错误信息原样保留
		return s.finishFailed(ctx, invoke, model.TxStatusFailed, result.Error)

	case model.TxStatusPending:
		return s.store.UpdateTransactionStatus(ctx, invoke.BizID, model.TxStatusPending)

	case model.TxStatusNotExisted:
		return s.handleNotExisted(ctx, invoke)

	default:
		logger.Warn("未知的交易状态, bizId: %s, status: %s", invoke.BizID, result.Status)
		return nil
	}
}

// handleNotExisted 交易在链上查不到
// 期限内可能只是还没入池，继续等；超期视为已丢弃，重建交易再提交。
func (s *InvokeService) handleNotExisted(ctx context.Context, invoke *model.ContractInvoke) error {
	if invoke.SubmittedAt != nil && time.Since(*invoke.SubmittedAt) < s.confirmDeadline {
		return s.store.UpdateTransactionStatus(ctx, invoke.BizID, model.TxStatusNotExisted)
	}
	if invoke.RetryCount >= s.maxRetryCount {
		return s.finishFailed(ctx, invoke, model.TxStatusNotExisted,
			fmt.Sprintf("交易超期未上链且重试次数耗尽, txId: %s", invoke.TransactionID))
	}
	logger.Warn("交易超期未上链，重建提交, bizId: %s, txId: %s, retry: %d", invoke.BizID, invoke.TransactionID, invoke.RetryCount)
	return s.submit(ctx, invoke, true)
}

// recordTransientFailure 记一次瞬时失败，额度耗尽则置终态
func (s *InvokeService) recordTransientFailure(ctx context.Context, invoke *model.ContractInvoke, cause error) error {
	logger.Warn("调用瞬时失败, bizId: %s, retry: %d, err: %v", invoke.BizID, invoke.RetryCount, cause)
	if invoke.RetryCount+1 >= s.maxRetryCount {
		return s.finishFailed(ctx, invoke, invoke.TransactionStatus, cause.Error())
	}
	return s.store.IncrementRetry(ctx, invoke.BizID)
}

func (s *InvokeService) finishFailed(ctx context.Context, invoke *model.ContractInvoke, txStatus, errMsg string) error {
	event, err := s.resultEvent(invoke, model.InvokeStatusFailed, invoke.TransactionID, 0, errMsg)
	if err != nil {
		return err
	}
	if err := s.store.FinishFailed(ctx, invoke.BizID, txStatus, errMsg, event); err != nil {
		return errors.Wrap(err, "落地失败状态失败")
	}
	logger.Error("调用失败, bizId: %s, bizType: %s, err: %s", invoke.BizID, invoke.BizType, errMsg)
	return nil
}

func (s *InvokeService) resultEvent(invoke *model.ContractInvoke, status, txID string, blockHeight int64, errMsg string) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(&model.ContractInvokeResultEvent{
		BizID:         invoke.BizID,
		BizType:       invoke.BizType,
		Status:        status,
		TransactionID: txID,
		BlockHeight:   blockHeight,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "序列化调用结果事件失败")
	}
	return &model.OutboxMessage{
		MessageKey: invoke.BizID,
		Topic:      s.topics.InvokeResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

package service

import (
	"context"

	"catpoints/internal/chain"
	"catpoints/internal/model"
	"catpoints/internal/repository"

	"gorm.io/gorm"
)

// ChainGateway 链网关
// 状态机只依赖这五类操作，链客户端的 HTTP 细节被隔在 chain 包里，
// 测试用假网关替换。
type ChainGateway interface {
	CreateTransaction(ctx context.Context, chainID, sender, to, method, params string) (*chain.UnsignedTx, error)
	Sign(ctx context.Context, sender, txID string) (string, error)
	SendTransaction(ctx context.Context, chainID, rawTx, signature string) (string, error)
	GetTransactionResult(ctx context.Context, chainID, txID string) (*chain.TransactionResult, error)
	GetChainHeight(ctx context.Context, chainID string) (int64, error)
	GetTokenBalance(ctx context.Context, chainID, tokenContract, owner, symbol string) (int64, error)
	CallPublicKey() string
}

// InvokeStore 调用记录的持久化出口
// Finish* 把终态流转和发件箱事件写在同一个事务里。
type InvokeStore interface {
	Get(ctx context.Context, bizID string) (*model.ContractInvoke, error)
	Create(ctx context.Context, invoke *model.ContractInvoke) error
	MarkSubmitted(ctx context.Context, bizID, txID string, resubmit bool) error
	UpdateTransactionStatus(ctx context.Context, bizID, txStatus string) error
	IncrementRetry(ctx context.Context, bizID string) error
	FinishSuccess(ctx context.Context, bizID, txStatus string, blockHeight int64, event *model.OutboxMessage) error
	FinishFailed(ctx context.Context, bizID, txStatus, errorMessage string, event *model.OutboxMessage) error
}

// PointRecordStore 积分记录的持久化出口
type PointRecordStore interface {
	GetByID(ctx context.Context, id string) (*model.PointDailyRecord, error)
	Create(ctx context.Context, record *model.PointDailyRecord) error
	SaveUnsettled(ctx context.Context, record *model.PointDailyRecord) error
	ListUnsettled(ctx context.Context, chainID, pointName, bizDate string, offset, limit int) ([]*model.PointDailyRecord, error)
	ListPending(ctx context.Context, chainID string, offset, limit int) ([]*model.PointDailyRecord, error)
	ListByBizID(ctx context.Context, bizID string) ([]*model.PointDailyRecord, error)
	ClaimForBatch(ctx context.Context, id, bizID string) error
	ReleaseClaim(ctx context.Context, id, bizID string) error
	FinishRecord(ctx context.Context, id, bizID, toStatus string, event *model.OutboxMessage) error
}

// FaucetStore 领取记录的持久化出口
type FaucetStore interface {
	GetByAddress(ctx context.Context, address string) (*model.FaucetClaim, error)
	Create(ctx context.Context, claim *model.FaucetClaim) error
	Reactivate(ctx context.Context, address, claimNo string) error
	MarkSubmitted(ctx context.Context, address, txID string) error
	FinishMined(ctx context.Context, address string, event *model.OutboxMessage) error
	FinishFailed(ctx context.Context, address, errorMessage string, event *model.OutboxMessage) error
	ListSubmitted(ctx context.Context, limit int) ([]*model.FaucetClaim, error)
}

// ---------------------------------------------------------------------------
// gorm 实现
// ---------------------------------------------------------------------------

type gormInvokeStore struct {
	db      *gorm.DB
	invokes *repository.ContractInvokeRepository
	outbox  *repository.OutboxRepository
}

func NewInvokeStore(db *gorm.DB) InvokeStore {
	return &gormInvokeStore{
		db:      db,
		invokes: repository.NewContractInvokeRepository(db),
		outbox:  repository.NewOutboxRepository(db),
	}
}

func (s *gormInvokeStore) Get(ctx context.Context, bizID string) (*model.ContractInvoke, error) {
	return s.invokes.Get(ctx, bizID)
}

func (s *gormInvokeStore) Create(ctx context.Context, invoke *model.ContractInvoke) error {
	return s.invokes.Create(ctx, invoke)
}

func (s *gormInvokeStore) MarkSubmitted(ctx context.Context, bizID, txID string, resubmit bool) error {
	return s.invokes.MarkSubmitted(ctx, bizID, txID, resubmit)
}

func (s *gormInvokeStore) UpdateTransactionStatus(ctx context.Context, bizID, txStatus string) error {
	return s.invokes.UpdateTransactionStatus(ctx, bizID, txStatus)
}

func (s *gormInvokeStore) IncrementRetry(ctx context.Context, bizID string) error {
	return s.invokes.IncrementRetry(ctx, bizID)
}

func (s *gormInvokeStore) FinishSuccess(ctx context.Context, bizID, txStatus string, blockHeight int64, event *model.OutboxMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invokes.MarkSuccess(ctx, tx, bizID, txStatus, blockHeight); err != nil {
			return err
		}
		if event != nil {
			return s.outbox.Create(ctx, tx, event)
		}
		return nil
	})
}

func (s *gormInvokeStore) FinishFailed(ctx context.Context, bizID, txStatus, errorMessage string, event *model.OutboxMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invokes.MarkFailed(ctx, tx, bizID, txStatus, errorMessage); err != nil {
			return err
		}
		if event != nil {
			return s.outbox.Create(ctx, tx, event)
		}
		return nil
	})
}

type gormPointRecordStore struct {
	db      *gorm.DB
	records *repository.PointRecordRepository
	outbox  *repository.OutboxRepository
}

func NewPointRecordStore(db *gorm.DB) PointRecordStore {
	return &gormPointRecordStore{
		db:      db,
		records: repository.NewPointRecordRepository(db),
		outbox:  repository.NewOutboxRepository(db),
	}
}

func (s *gormPointRecordStore) GetByID(ctx context.Context, id string) (*model.PointDailyRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *gormPointRecordStore) Create(ctx context.Context, record *model.PointDailyRecord) error {
	return s.records.Create(ctx, record)
}

func (s *gormPointRecordStore) SaveUnsettled(ctx context.Context, record *model.PointDailyRecord) error {
	return s.records.SaveUnsettled(ctx, record)
}

func (s *gormPointRecordStore) ListUnsettled(ctx context.Context, chainID, pointName, bizDate string, offset, limit int) ([]*model.PointDailyRecord, error) {
	return s.records.ListUnsettled(ctx, chainID, pointName, bizDate, offset, limit)
}

func (s *gormPointRecordStore) ListPending(ctx context.Context, chainID string, offset, limit int) ([]*model.PointDailyRecord, error) {
	return s.records.ListPending(ctx, chainID, offset, limit)
}

func (s *gormPointRecordStore) ListByBizID(ctx context.Context, bizID string) ([]*model.PointDailyRecord, error) {
	return s.records.ListByBizID(ctx, bizID)
}

func (s *gormPointRecordStore) ClaimForBatch(ctx context.Context, id, bizID string) error {
	return s.records.ClaimForBatch(ctx, id, bizID)
}

func (s *gormPointRecordStore) ReleaseClaim(ctx context.Context, id, bizID string) error {
	return s.records.ReleaseClaim(ctx, id, bizID)
}

func (s *gormPointRecordStore) FinishRecord(ctx context.Context, id, bizID, toStatus string, event *model.OutboxMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.records.UpdateStatus(ctx, tx, id, bizID, model.PointRecordStatusPending, toStatus); err != nil {
			return err
		}
		if event != nil {
			return s.outbox.Create(ctx, tx, event)
		}
		return nil
	})
}

type gormFaucetStore struct {
	db     *gorm.DB
	claims *repository.FaucetRepository
	outbox *repository.OutboxRepository
}

func NewFaucetStore(db *gorm.DB) FaucetStore {
	return &gormFaucetStore{
		db:     db,
		claims: repository.NewFaucetRepository(db),
		outbox: repository.NewOutboxRepository(db),
	}
}

func (s *gormFaucetStore) GetByAddress(ctx context.Context, address string) (*model.FaucetClaim, error) {
	return s.claims.GetByAddress(ctx, address)
}

func (s *gormFaucetStore) Create(ctx context.Context, claim *model.FaucetClaim) error {
	return s.claims.Create(ctx, claim)
}

func (s *gormFaucetStore) Reactivate(ctx context.Context, address, claimNo string) error {
	return s.claims.Reactivate(ctx, address, claimNo)
}

func (s *gormFaucetStore) MarkSubmitted(ctx context.Context, address, txID string) error {
	return s.claims.MarkSubmitted(ctx, address, txID)
}

func (s *gormFaucetStore) FinishMined(ctx context.Context, address string, event *model.OutboxMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.claims.MarkMined(ctx, tx, address); err != nil {
			return err
		}
		if event != nil {
			return s.outbox.Create(ctx, tx, event)
		}
		return nil
	})
}

func (s *gormFaucetStore) FinishFailed(ctx context.Context, address, errorMessage string, event *model.OutboxMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.claims.MarkFailed(ctx, tx, address, errorMessage); err != nil {
			return err
		}
		if event != nil {
			return s.outbox.Create(ctx, tx, event)
		}
		return nil
	})
}

func (s *gormFaucetStore) ListSubmitted(ctx context.Context, limit int) ([]*model.FaucetClaim, error) {
	return s.claims.ListSubmitted(ctx, limit)
}

package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"catpoints/internal/actor"
	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"
	"catpoints/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"catpoints/internal/infrastructure/lock"
)

// 交易提交后多久查不到才算丢弃
const notExistedGrace = 2 * time.Minute

var (
	ErrFaucetSuspended = errors.New("水龙头暂停服务")
	ErrInvalidAddress  = errors.New("地址格式不合法")
	ErrAlreadyClaimed  = errors.New("该地址已领取过测试币")
	ErrClaimInFlight   = errors.New("该地址的领取正在处理中")
	ErrClaimNotFound   = errors.New("领取记录不存在")
)

// FaucetService 测试币水龙头
//
// 每个地址一个 actor 加一把 Redis 锁：actor 挡住本进程内的并发领取，
// Redis 锁挡住多实例。地址唯一索引是最后一道防线。
//
// 发放走独立的小状态机（CREATED -> SUBMITTED -> MINED|FAILED）而不是
// 复用合约调用记录：转账只有一次确认、没有重建重试，FAILED 允许
// 用户重新发起。
type FaucetService struct {
	store    FaucetStore
	chain    ChainGateway
	actors   *actor.Registry
	redis    *redis.Client
	cfg      config.FaucetConfig
	topic    string
	instance string
}

func NewFaucetService(store FaucetStore, gateway ChainGateway, actors *actor.Registry, redisClient *redis.Client, cfg *config.Config) *FaucetService {
	return &FaucetService{
		store:    store,
		chain:    gateway,
		actors:   actors,
		redis:    redisClient,
		cfg:      cfg.Faucet,
		topic:    cfg.Kafka.Topic.FaucetResult,
		instance: uuid.NewString(),
	}
}

// Claim 为地址发起一次测试币领取
// 已领取过返回 ErrAlreadyClaimed，在途返回 ErrClaimInFlight，
// FAILED 的旧记录换新单号后重新提交。
func (s *FaucetService) Claim(ctx context.Context, address string) (*model.FaucetClaim, error) {
	if s.cfg.Suspended {
		return nil, ErrFaucetSuspended
	}
	if !validAddress(address) {
		return nil, ErrInvalidAddress
	}

	claimLock := lock.NewFaucetLock(s.redis, address, s.instance)
	locked, err := claimLock.TryLock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "获取领取锁失败")
	}
	if !locked {
		return nil, ErrClaimInFlight
	}
	defer func() {
		if err := claimLock.Unlock(context.Background()); err != nil {
			logger.Warn("释放领取锁失败, address: %s, err: %v", address, err)
		}
	}()

	var claim *model.FaucetClaim
	err = s.actors.Do(ctx, "faucet:"+address, func(ctx context.Context) error {
		existing, err := s.store.GetByAddress(ctx, address)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			claim = &model.FaucetClaim{
				ClaimNo: idgen.GenerateClaimNo(),
				Address: address,
				ChainID: s.cfg.ChainID,
				Symbol:  s.cfg.Symbol,
				Amount:  s.cfg.Amount,
				Status:  model.FaucetStatusCreated,
			}
			if err := s.store.Create(ctx, claim); err != nil {
				return err
			}
		case existing.Status == model.FaucetStatusMined:
			return ErrAlreadyClaimed
		case existing.Status == model.FaucetStatusFailed:
			// 换新单号重新走一遍
			claimNo := idgen.GenerateClaimNo()
			if err := s.store.Reactivate(ctx, address, claimNo); err != nil {
				return err
			}
			existing.ClaimNo = claimNo
			existing.Status = model.FaucetStatusCreated
			claim = existing
		default:
			return ErrClaimInFlight
		}
		return s.submit(ctx, claim)
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// GetStatus 查询地址的领取状态
func (s *FaucetService) GetStatus(ctx context.Context, address string) (*model.FaucetClaim, error) {
	if !validAddress(address) {
		return nil, ErrInvalidAddress
	}
	claim, err := s.store.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

type transferParam struct {
	To     string `json:"to"`
	Symbol string `json:"symbol"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

// submit 检查余额、构造并提交转账
// 余额不足置 FAILED（用户下次可再试），链路错误留在当前状态等下一次领取驱动。
func (s *FaucetService) submit(ctx context.Context, claim *model.FaucetClaim) error {
	balance, err := s.chain.GetTokenBalance(ctx, s.cfg.ChainID, s.cfg.ContractAddress, s.cfg.OwnerAddress, s.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "查询水龙头余额失败")
	}
	if balance < claim.Amount {
		logger.Error("水龙头余额不足, balance: %d, need: %d", balance, claim.Amount)
		return s.finishFailed(ctx, claim, "水龙头余额不足，请稍后再试")
	}

	param, err := json.Marshal(&transferParam{
		To:     claim.Address,
		Symbol: claim.Symbol,
		Amount: claim.Amount,
		Memo:   claim.ClaimNo,
	})
	if err != nil {
		return errors.Wrap(err, "序列化转账参数失败")
	}

	tx, err := s.chain.CreateTransaction(ctx, s.cfg.ChainID, s.chain.CallPublicKey(),
		s.cfg.ContractAddress, "Transfer", string(param))
	if err != nil {
		return errors.Wrap(err, "构造转账交易失败")
	}
	signature, err := s.chain.Sign(ctx, s.chain.CallPublicKey(), tx.TxID)
	if err != nil {
		return errors.Wrap(err, "签名转账交易失败")
	}
	if err := s.store.MarkSubmitted(ctx, claim.Address, tx.TxID); err != nil {
		return err
	}
	claim.Status = model.FaucetStatusSubmitted
	claim.TransactionID = tx.TxID

	if _, err := s.chain.SendTransaction(ctx, s.cfg.ChainID, tx.Raw, signature); err != nil {
		// 已落库 SUBMITTED，确认任务查到 NOTEXISTED 后会置 FAILED，用户可重试
		logger.Warn("发送转账交易失败, claimNo: %s, txId: %s, err: %v", claim.ClaimNo, tx.TxID, err)
		return nil
	}
	logger.Info("水龙头转账已提交, claimNo: %s, address: %s, txId: %s", claim.ClaimNo, claim.Address, tx.TxID)
	return nil
}

// ConfirmSubmitted 轮询所有在途领取的交易结果，由扫描任务周期调用
func (s *FaucetService) ConfirmSubmitted(ctx context.Context, limit int) error {
	claims, err := s.store.ListSubmitted(ctx, limit)
	if err != nil {
		return err
	}
	for _, claim := range claims {
		c := claim
		if err := s.actors.Do(ctx, "faucet:"+c.Address, func(ctx context.Context) error {
			return s.confirm(ctx, c)
		}); err != nil {
			logger.Warn("确认领取交易失败, claimNo: %s, err: %v", c.ClaimNo, err)
		}
	}
	return nil
}

func (s *FaucetService) confirm(ctx context.Context, claim *model.FaucetClaim) error {
	result, err := s.chain.GetTransactionResult(ctx, claim.ChainID, claim.TransactionID)
	if err != nil {
		logger.Warn("查询领取交易结果失败, claimNo: %s, txId: %s, err: %v", claim.ClaimNo, claim.TransactionID, err)
		return nil
	}
	switch result.Status {
	case model.TxStatusMined:
		event, err := s.resultEvent(claim, model.FaucetStatusMined, "")
		if err != nil {
			return err
		}
		if err := s.store.FinishMined(ctx, claim.Address, event); err != nil {
			return err
		}
		logger.Info("水龙头领取成功, claimNo: %s, address: %s", claim.ClaimNo, claim.Address)
		return nil
	case model.TxStatusFailed:
		return s.finishFailed(ctx, claim, result.Error)
	case model.TxStatusNotExisted:
		// 刚提交的交易可能还没进池，给一段观察期
		if time.Since(claim.UpdatedAt) < notExistedGrace {
			return nil
		}
		return s.finishFailed(ctx, claim, "交易未上链")
	default:
		return nil
	}
}

func (s *FaucetService) finishFailed(ctx context.Context, claim *model.FaucetClaim, errMsg string) error {
	event, err := s.resultEvent(claim, model.FaucetStatusFailed, errMsg)
	if err != nil {
		return err
	}
	if err := s.store.FinishFailed(ctx, claim.Address, errMsg, event); err != nil {
		return err
	}
	claim.Status = model.FaucetStatusFailed
	claim.ErrorMessage = errMsg
	return nil
}

func (s *FaucetService) resultEvent(claim *model.FaucetClaim, status, errMsg string) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(&model.FaucetClaimResultEvent{
		ClaimNo:       claim.ClaimNo,
		Address:       claim.Address,
		Status:        status,
		TransactionID: claim.TransactionID,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "序列化领取结果事件失败")
	}
	return &model.OutboxMessage{
		MessageKey: claim.Address,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

// aelf 地址是 base58，长度在 40-64 之间
func validAddress(address string) bool {
	if len(address) < 40 || len(address) > 64 {
		return false
	}
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for _, c := range address {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"catpoints/internal/chain"
	"catpoints/internal/model"
	"catpoints/internal/repository"
)

// fakeGateway 可编排的链网关
type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	signErr   error
	sendErr   error
	result    *chain.TransactionResult
	resultErr error
	balance   int64
	txSeq     int
	sent      []string // 已发送的 rawTx
}

func (g *fakeGateway) CreateTransaction(ctx context.Context, chainID, sender, to, method, params string) (*chain.UnsignedTx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.txSeq++
	return &chain.UnsignedTx{
		TxID:           fmt.Sprintf("tx-%d", g.txSeq),
		Raw:            fmt.Sprintf("raw-%d", g.txSeq),
		RefBlockNumber: int64(100 + g.txSeq),
	}, nil
}

func (g *fakeGateway) Sign(ctx context.Context, sender, txID string) (string, error) {
	if g.signErr != nil {
		return "", g.signErr
	}
	return "sig-" + txID, nil
}

func (g *fakeGateway) SendTransaction(ctx context.Context, chainID, rawTx, signature string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, rawTx)
	return "", nil
}

func (g *fakeGateway) GetTransactionResult(ctx context.Context, chainID, txID string) (*chain.TransactionResult, error) {
	if g.resultErr != nil {
		return nil, g.resultErr
	}
	if g.result == nil {
		return &chain.TransactionResult{Status: model.TxStatusPending}, nil
	}
	return g.result, nil
}

func (g *fakeGateway) GetChainHeight(ctx context.Context, chainID string) (int64, error) {
	return 1000, nil
}

func (g *fakeGateway) GetTokenBalance(ctx context.Context, chainID, tokenContract, owner, symbol string) (int64, error) {
	return g.balance, nil
}

func (g *fakeGateway) CallPublicKey() string {
	return "04a1b2c3"
}

// fakeInvokeStore 内存版调用记录存储
type fakeInvokeStore struct {
	mu      sync.Mutex
	invokes map[string]*model.ContractInvoke
	events  []*model.OutboxMessage
}

func newFakeInvokeStore() *fakeInvokeStore {
	return &fakeInvokeStore{invokes: make(map[string]*model.ContractInvoke)}
}

func (s *fakeInvokeStore) Get(ctx context.Context, bizID string) (*model.ContractInvoke, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoke, ok := s.invokes[bizID]
	if !ok {
		return nil, nil
	}
	cp := *invoke
	return &cp, nil
}

func (s *fakeInvokeStore) Create(ctx context.Context, invoke *model.ContractInvoke) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invokes[invoke.BizID]; ok {
		return nil
	}
	cp := *invoke
	s.invokes[invoke.BizID] = &cp
	return nil
}

func (s *fakeInvokeStore) MarkSubmitted(ctx context.Context, bizID, txID string, resubmit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoke := s.invokes[bizID]
	if invoke == nil || model.InvokeStatusIsTerminal(invoke.Status) {
		return repository.ErrInvokeConflict
	}
	now := time.Now()
	invoke.Status = model.InvokeStatusSubmitted
	invoke.TransactionID = txID
	invoke.TransactionStatus = model.TxStatusPending
	invoke.SubmittedAt = &now
	if resubmit {
		invoke.RetryCount++
	}
	return nil
}

func (s *fakeInvokeStore) UpdateTransactionStatus(ctx context.Context, bizID, txStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes[bizID].TransactionStatus = txStatus
	return nil
}

func (s *fakeInvokeStore) IncrementRetry(ctx context.Context, bizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes[bizID].RetryCount++
	return nil
}

func (s *fakeInvokeStore) FinishSuccess(ctx context.Context, bizID, txStatus string, blockHeight int64, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoke := s.invokes[bizID]
	if invoke.Status != model.InvokeStatusSubmitted {
		return repository.ErrInvokeConflict
	}
	invoke.Status = model.InvokeStatusSuccess
	invoke.TransactionStatus = txStatus
	invoke.BlockHeight = blockHeight
	if event != nil {
		s.events = append(s.events, event)
	}
	return nil
}

func (s *fakeInvokeStore) FinishFailed(ctx context.Context, bizID, txStatus, errorMessage string, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoke := s.invokes[bizID]
	if model.InvokeStatusIsTerminal(invoke.Status) {
		return repository.ErrInvokeConflict
	}
	invoke.Status = model.InvokeStatusFailed
	invoke.TransactionStatus = txStatus
	invoke.ErrorMessage = errorMessage
	if event != nil {
		s.events = append(s.events, event)
	}
	return nil
}

func (s *fakeInvokeStore) get(bizID string) *model.ContractInvoke {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invokes[bizID]
}

// fakePointStore 内存版积分记录存储
// 不加细粒度锁：同一个桶的读改写由 actor 串行，存储只挡住 map 并发。
type fakePointStore struct {
	mu      sync.Mutex
	records map[string]*model.PointDailyRecord
	events  []*model.OutboxMessage

	beforeSave func() // 在 SaveUnsettled 的 CAS 之前执行一次，模拟别的实例抢占
	finishErr  error // FinishRecord 下一次调用返回的错误，消费一次后清空
}

func newFakePointStore() *fakePointStore {
	return &fakePointStore{records: make(map[string]*model.PointDailyRecord)}
}

func (s *fakePointStore) GetByID(ctx context.Context, id string) (*model.PointDailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *fakePointStore) Create(ctx context.Context, record *model.PointDailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *fakePointStore) SaveUnsettled(ctx context.Context, record *model.PointDailyRecord) error {
	if s.beforeSave != nil {
		hook := s.beforeSave
		s.beforeSave = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.ID]
	if !ok || current.Status != model.PointRecordStatusUnsettled || current.BizID != "" {
		return repository.ErrRecordClaimed
	}
	current.PointAmount = record.PointAmount
	current.HolderBalanceID = record.HolderBalanceID
	return nil
}

func (s *fakePointStore) ListUnsettled(ctx context.Context, chainID, pointName, bizDate string, offset, limit int) ([]*model.PointDailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PointDailyRecord
	for _, record := range s.records {
		if record.ChainID == chainID && record.PointName == pointName && record.BizDate == bizDate &&
			record.Status == model.PointRecordStatusUnsettled && record.BizID == "" {
			cp := *record
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakePointStore) ListPending(ctx context.Context, chainID string, offset, limit int) ([]*model.PointDailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PointDailyRecord
	for _, record := range s.records {
		if record.ChainID == chainID && record.Status == model.PointRecordStatusPending {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakePointStore) ListByBizID(ctx context.Context, bizID string) ([]*model.PointDailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PointDailyRecord
	for _, record := range s.records {
		if record.BizID == bizID {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakePointStore) ClaimForBatch(ctx context.Context, id, bizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Status != model.PointRecordStatusUnsettled || record.BizID != "" {
		return repository.ErrRecordClaimed
	}
	record.Status = model.PointRecordStatusPending
	record.BizID = bizID
	return nil
}

func (s *fakePointStore) ReleaseClaim(ctx context.Context, id, bizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Status != model.PointRecordStatusPending || record.BizID != bizID {
		return repository.ErrRecordClaimed
	}
	record.Status = model.PointRecordStatusUnsettled
	record.BizID = ""
	return nil
}

func (s *fakePointStore) FinishRecord(ctx context.Context, id, bizID, toStatus string, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		err := s.finishErr
		s.finishErr = nil
		return err
	}
	record, ok := s.records[id]
	if !ok || record.Status != model.PointRecordStatusPending || record.BizID != bizID {
		return repository.ErrRecordClaimed
	}
	record.Status = toStatus
	if event != nil {
		s.events = append(s.events, event)
	}
	return nil
}

func (s *fakePointStore) get(id string) *model.PointDailyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// fakeFaucetStore 内存版领取记录存储
type fakeFaucetStore struct {
	mu     sync.Mutex
	claims map[string]*model.FaucetClaim
	events []*model.OutboxMessage
}

func newFakeFaucetStore() *fakeFaucetStore {
	return &fakeFaucetStore{claims: make(map[string]*model.FaucetClaim)}
}

func (s *fakeFaucetStore) GetByAddress(ctx context.Context, address string) (*model.FaucetClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[address]
	if !ok {
		return nil, nil
	}
	cp := *claim
	return &cp, nil
}

func (s *fakeFaucetStore) Create(ctx context.Context, claim *model.FaucetClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[claim.Address]; ok {
		return repository.ErrClaimConflict
	}
	cp := *claim
	s.claims[claim.Address] = &cp
	return nil
}

func (s *fakeFaucetStore) Reactivate(ctx context.Context, address, claimNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim := s.claims[address]
	if claim == nil || claim.Status != model.FaucetStatusFailed {
		return repository.ErrClaimConflict
	}
	claim.ClaimNo = claimNo
	claim.Status = model.FaucetStatusCreated
	claim.TransactionID = ""
	claim.ErrorMessage = ""
	return nil
}

func (s *fakeFaucetStore) MarkSubmitted(ctx context.Context, address, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim := s.claims[address]
	if claim == nil || claim.Status != model.FaucetStatusCreated {
		return repository.ErrClaimConflict
	}
	claim.Status = model.FaucetStatusSubmitted
	claim.TransactionID = txID
	claim.UpdatedAt = time.Now()
	return nil
}

func (s *fakeFaucetStore) FinishMined(ctx context.Context, address string, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim := s.claims[address]
	if claim == nil || claim.Status != model.FaucetStatusSubmitted {
		return repository.ErrClaimConflict
	}
	now := time.Now()
	claim.Status = model.FaucetStatusMined
	claim.MinedAt = &now
	if event != nil {
		s.events = append(s.events, event)
	}
	return nil
}

func (s *fakeFaucetStore) FinishFailed(ctx context.Context, address, errorMessage string, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim := s.claims[address]
	if claim == nil || claim.Status == model.FaucetStatusMined {
		return repository.ErrClaimConflict
	}
	claim.Status = model.FaucetStatusFailed
	claim.ErrorMessage = errorMessage
	if event != nil {
		s.events = append(s.events, event)
	}
	return nil
}

func (s *fakeFaucetStore) ListSubmitted(ctx context.Context, limit int) ([]*model.FaucetClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FaucetClaim
	for _, claim := range s.claims {
		if claim.Status == model.FaucetStatusSubmitted {
			cp := *claim
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeFaucetStore) get(address string) *model.FaucetClaim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[address]
}

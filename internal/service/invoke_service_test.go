package service

import (
	"context"
	"testing"
	"time"

	"catpoints/internal/actor"
	"catpoints/internal/chain"
	"catpoints/internal/config"
	"catpoints/internal/model"

	"github.com/pkg/errors"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PointSettled: "test.point.settled",
				InvokeResult: "test.invoke.result",
				FaucetResult: "test.faucet.result",
			},
		},
		Faucet: config.FaucetConfig{
			ChainID:         "tDVV",
			ContractAddress: "JRmBduh4nXWi1aXgdUsj5gJrzeZb2LxmrAbf7W99faZSvoAaE",
			OwnerAddress:    "2N8spQbRGVY5SJD8EGCkGkeRVaUssvDzFPkCX9MvEQ3Jw7bpzR",
			Symbol:          "ELF",
			Amount:          100,
		},
		Business: config.BusinessConfig{
			MaxRetryCount:          3,
			ConfirmDeadlineSeconds: 300,
			PageSize:               50,
		},
	}
}

func newTestInvokeService(store InvokeStore, gateway ChainGateway) *InvokeService {
	return NewInvokeService(store, gateway, actor.NewRegistry(), testConfig())
}

func newPendingInvoke(bizID string) *model.ContractInvoke {
	return &model.ContractInvoke{
		BizID:           bizID,
		ChainID:         "tDVV",
		BizType:         model.BizTypePointSettle,
		ContractAddress: "2UKQnHcQvhBT6X6ULtfnuh3b9PVRvVMEroHHkcK4YfcoH1Z1x2",
		ContractMethod:  "BatchSettle",
		Sender:          "04a1b2c3",
		Param:           `{"user_points":[]}`,
	}
}

func TestInvokeSubmitThenMined(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-1")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}

	// 第一步：提交
	if err := svc.Execute(ctx, "biz-1"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}
	invoke := store.get("biz-1")
	if invoke.Status != model.InvokeStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", invoke.Status)
	}
	if invoke.TransactionID == "" {
		t.Fatal("TransactionID 未落库")
	}
	if len(gateway.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(gateway.sent))
	}

	// 第二步：确认 MINED
	gateway.result = &chain.TransactionResult{Status: model.TxStatusMined, BlockNumber: 12345}
	if err := svc.Execute(ctx, "biz-1"); err != nil {
		t.Fatalf("Execute(confirm): %v", err)
	}
	invoke = store.get("biz-1")
	if invoke.Status != model.InvokeStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", invoke.Status)
	}
	if invoke.BlockHeight != 12345 {
		t.Fatalf("blockHeight = %d, want 12345", invoke.BlockHeight)
	}
	if len(store.events) != 1 || store.events[0].Topic != "test.invoke.result" {
		t.Fatalf("终态事件未写入发件箱: %+v", store.events)
	}
}

func TestInvokeTerminalIsIdempotent(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	invoke := newPendingInvoke("biz-done")
	invoke.Status = model.InvokeStatusSuccess
	store.invokes["biz-done"] = invoke

	if err := svc.Execute(ctx, "biz-done"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(gateway.sent) != 0 {
		t.Fatal("终态调用不应再提交交易")
	}
}

func TestInvokeNotFound(t *testing.T) {
	svc := newTestInvokeService(newFakeInvokeStore(), &fakeGateway{})
	err := svc.Execute(context.Background(), "no-such-biz")
	if !errors.Is(err, ErrInvokeNotFound) {
		t.Fatalf("err = %v, want ErrInvokeNotFound", err)
	}
}

func TestInvokeCreateFailureIsTerminal(t *testing.T) {
	store := newFakeInvokeStore()
	// 非网络错误：构造参数不合法，不该消耗重试
	gateway := &fakeGateway{createErr: errors.New("to address is empty")}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-bad")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-bad"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	invoke := store.get("biz-bad")
	if invoke.Status != model.InvokeStatusFailed {
		t.Fatalf("status = %s, want FAILED", invoke.Status)
	}
	if invoke.RetryCount != 0 {
		t.Fatalf("retryCount = %d, want 0", invoke.RetryCount)
	}
	if len(store.events) != 1 {
		t.Fatal("终态事件未写入发件箱")
	}
}

func TestInvokeNetworkFailureConsumesRetry(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{createErr: errors.Wrap(chain.ErrNetwork, "connection refused")}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-net")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}

	// 前两次：记重试，仍是 CREATED
	for i := 1; i <= 2; i++ {
		if err := svc.Execute(ctx, "biz-net"); err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		invoke := store.get("biz-net")
		if invoke.Status != model.InvokeStatusCreated {
			t.Fatalf("第 %d 次后 status = %s, want CREATED", i, invoke.Status)
		}
		if invoke.RetryCount != i {
			t.Fatalf("第 %d 次后 retryCount = %d", i, invoke.RetryCount)
		}
	}

	// 第三次耗尽额度，置终态
	if err := svc.Execute(ctx, "biz-net"); err != nil {
		t.Fatalf("Execute #3: %v", err)
	}
	if invoke := store.get("biz-net"); invoke.Status != model.InvokeStatusFailed {
		t.Fatalf("status = %s, want FAILED", invoke.Status)
	}
}

func TestInvokeChainExecutionFailed(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-fail")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-fail"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}

	gateway.result = &chain.TransactionResult{Status: model.TxStatusFailed, Error: "insufficient allowance"}
	if err := svc.Execute(ctx, "biz-fail"); err != nil {
		t.Fatalf("Execute(confirm): %v", err)
	}
	invoke := store.get("biz-fail")
	if invoke.Status != model.InvokeStatusFailed {
		t.Fatalf("status = %s, want FAILED", invoke.Status)
	}
	// 链侧报错原样保留
	if invoke.ErrorMessage != "insufficient allowance" {
		t.Fatalf("errorMessage = %q", invoke.ErrorMessage)
	}
}

func TestInvokePollErrorDoesNotConsumeRetry(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-poll")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-poll"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}

	gateway.resultErr = errors.Wrap(chain.ErrNetwork, "timeout")
	for i := 0; i < 5; i++ {
		if err := svc.Execute(ctx, "biz-poll"); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	invoke := store.get("biz-poll")
	if invoke.Status != model.InvokeStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", invoke.Status)
	}
	if invoke.RetryCount != 0 {
		t.Fatalf("查询失败不该消耗重试额度, retryCount = %d", invoke.RetryCount)
	}
}

func TestInvokeNotExistedWithinDeadlineWaits(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-wait")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-wait"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}

	gateway.result = &chain.TransactionResult{Status: model.TxStatusNotExisted}
	if err := svc.Execute(ctx, "biz-wait"); err != nil {
		t.Fatalf("Execute(confirm): %v", err)
	}
	invoke := store.get("biz-wait")
	if invoke.Status != model.InvokeStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", invoke.Status)
	}
	if invoke.TransactionStatus != model.TxStatusNotExisted {
		t.Fatalf("transactionStatus = %s", invoke.TransactionStatus)
	}
	// 期限内不重建交易
	if len(gateway.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(gateway.sent))
	}
}

func TestInvokeNotExistedPastDeadlineResubmits(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-resub")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-resub"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}
	firstTxID := store.get("biz-resub").TransactionID

	// 把提交时间拨到期限之前
	past := time.Now().Add(-time.Hour)
	store.invokes["biz-resub"].SubmittedAt = &past

	gateway.result = &chain.TransactionResult{Status: model.TxStatusNotExisted}
	if err := svc.Execute(ctx, "biz-resub"); err != nil {
		t.Fatalf("Execute(confirm): %v", err)
	}
	invoke := store.get("biz-resub")
	if invoke.Status != model.InvokeStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", invoke.Status)
	}
	if invoke.TransactionID == firstTxID {
		t.Fatal("重建提交应产生新的交易哈希")
	}
	if invoke.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", invoke.RetryCount)
	}
	if len(gateway.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(gateway.sent))
	}
}

func TestInvokeNotExistedRetryExhausted(t *testing.T) {
	store := newFakeInvokeStore()
	gateway := &fakeGateway{}
	svc := newTestInvokeService(store, gateway)
	ctx := context.Background()

	if err := svc.CreateInvoke(ctx, newPendingInvoke("biz-gone")); err != nil {
		t.Fatalf("CreateInvoke: %v", err)
	}
	if err := svc.Execute(ctx, "biz-gone"); err != nil {
		t.Fatalf("Execute(submit): %v", err)
	}
	past := time.Now().Add(-time.Hour)
	store.invokes["biz-gone"].SubmittedAt = &past
	store.invokes["biz-gone"].RetryCount = 3

	gateway.result = &chain.TransactionResult{Status: model.TxStatusNotExisted}
	if err := svc.Execute(ctx, "biz-gone"); err != nil {
		t.Fatalf("Execute(confirm): %v", err)
	}
	if invoke := store.get("biz-gone"); invoke.Status != model.InvokeStatusFailed {
		t.Fatalf("status = %s, want FAILED", invoke.Status)
	}
}

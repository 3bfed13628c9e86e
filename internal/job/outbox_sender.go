package job

import (
	"context"
	"time"

	"catpoints/internal/config"
	"catpoints/internal/logger"
	"catpoints/internal/model"
	"catpoints/internal/repository"

	"catpoints/internal/infrastructure/mq"

	"gorm.io/gorm"
)

// OutboxSender 发件箱投递任务
// 把事务里攒下的事件行异步投递到 Kafka，投递成功才翻 SENT。
// 投递间隔比周期任务细得多，单独走 ticker 而不是挂在调度器上。
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("发件箱投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("发件箱投递任务收到停止信号，退出")
			return
		case <-s.stopCh:
			logger.Info("发件箱投递任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Error("查询待投递消息失败: %v", err)
		return
	}
	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			logger.Error("更新消息状态失败, id: %d, err: %v", msg.ID, updateErr)
		}
		return
	}

	logger.Warn("消息投递失败, id: %d, topic: %s, err: %v", msg.ID, msg.Topic, err)
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.Error("增加投递重试次数失败, id: %d, err: %v", msg.ID, err)
	}
	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.Error("标记消息失败状态失败, id: %d, err: %v", msg.ID, err)
		} else {
			logger.Error("消息超过最大重试次数，标记为失败, id: %d", msg.ID)
		}
	}
}

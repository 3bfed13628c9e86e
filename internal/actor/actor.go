package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"catpoints/internal/logger"
)

// 默认参数：邮箱容量与空闲回收时间
const (
	defaultMailboxSize = 64
	defaultIdleTTL     = 2 * time.Minute
)

// Registry 按 key 串行化执行的执行器注册表
//
// 每个 key 背后是一个独立 goroutine + FIFO 邮箱：同一个 key 上的所有调用
// 严格按投递顺序执行，天然免锁；不同 key 之间完全并发。持久实体
// （积分桶、BizId、领取地址）的全部变更都要经由所属 key 提交。
//
// 空闲一段时间的 key 会被回收，下次调用时重建，行为等同于虚拟 actor
// 的休眠/唤醒。
type Registry struct {
	mu      sync.Mutex
	boxes   map[string]*mailbox
	size    int
	idleTTL time.Duration
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type mailbox struct {
	ch      chan *task
	pending int  // Registry.mu 保护
	retired bool // Registry.mu 保护
}

func NewRegistry() *Registry {
	return &Registry{
		boxes:   make(map[string]*mailbox),
		size:    defaultMailboxSize,
		idleTTL: defaultIdleTTL,
	}
}

// Do 在 key 的邮箱里执行 fn 并等待结果
// 同一个 key 上并发调用 Do 会被邮箱排队串行执行；ctx 取消只是放弃等待，
// 已入队的 fn 仍会执行完毕。
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	r.submit(key, t)

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go 在 key 的邮箱里异步执行 fn，不等待结果；执行报错只记日志
func (r *Registry) Go(key string, fn func(ctx context.Context) error) {
	t := &task{ctx: context.Background(), fn: fn, done: make(chan error, 1)}
	r.submit(key, t)

	go func() {
		if err := <-t.done; err != nil {
			logger.Error("[Actor] 异步任务失败: key=%s, err=%v", key, err)
		}
	}()
}

func (r *Registry) submit(key string, t *task) {
	r.mu.Lock()
	mb := r.boxes[key]
	if mb == nil || mb.retired {
		mb = &mailbox{ch: make(chan *task, r.size)}
		r.boxes[key] = mb
		go r.loop(key, mb)
	}
	mb.pending++
	r.mu.Unlock()

	mb.ch <- t
}

func (r *Registry) loop(key string, mb *mailbox) {
	timer := time.NewTimer(r.idleTTL)
	defer timer.Stop()

	for {
		select {
		case t := <-mb.ch:
			t.done <- runSafely(t)
			r.mu.Lock()
			mb.pending--
			r.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.idleTTL)
		case <-timer.C:
			// 只有没有在途任务时才能退役，pending 的增减和退役判定共用一把锁
			r.mu.Lock()
			if mb.pending == 0 {
				mb.retired = true
				if r.boxes[key] == mb {
					delete(r.boxes, key)
				}
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			timer.Reset(r.idleTTL)
		}
	}
}

func runSafely(t *task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("actor 任务 panic: %v", p)
		}
	}()
	return t.fn(t.ctx)
}

// ActiveCount 当前存活的 actor 数量（监控用）
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boxes)
}

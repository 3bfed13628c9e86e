package job

import (
	"catpoints/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

// CronJob 周期任务
type CronJob interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
// 所有任务都带 SingletonMode：上一轮没跑完就跳过本轮，不会堆积。
type Manager struct {
	scheduler gocron.Scheduler
}

// NewManager 创建任务管理器
func NewManager() *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("创建调度器失败: %v", err)
	}
	return &Manager{scheduler: s}
}

// Register 注册任务
func (m *Manager) Register(jobs ...CronJob) {
	for _, j := range jobs {
		_, err := m.scheduler.NewJob(
			j.GetSchedule(),
			gocron.NewTask(j.Execute),
			gocron.WithName(j.GetName()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			logger.Error("注册任务失败, name: %s, err: %v", j.GetName(), err)
			continue
		}
		logger.Info("任务已注册, name: %s", j.GetName())
	}
}

// Start 启动调度器
func (m *Manager) Start() {
	m.scheduler.Start()
	logger.Info("任务管理器已启动")
}

// Stop 停止调度器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("停止调度器失败: %v", err)
	}
	logger.Info("任务管理器已停止")
}

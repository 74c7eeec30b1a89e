// Package sweeper 实现自动审批清扫器。
//
// 周期性扫描 PENDING 请求，对依赖已清除的请求补上自动审批。
// 时间窗口不需要定时器：资格永远在需要时按墙钟时间重算
// （提交时由状态机算一次，之后由清扫器周期性复查依赖门槛）。
package sweeper

import (
	"context"
	"sync"
	"time"

	"chehui/logging"
	"chehui/request"
)

// DefaultInterval 默认清扫间隔
const DefaultInterval = 5 * time.Minute

// defaultBatchSize 单次清扫处理的最大请求数
const defaultBatchSize = 200

// Options 清扫器配置
type Options struct {
	// Interval 清扫间隔，<= 0 时取 DefaultInterval
	Interval time.Duration

	// BatchSize 单次清扫处理的最大请求数，<= 0 时取默认值 200
	BatchSize int

	// Lock 多实例互斥锁（可选）；nil 表示单实例部署，直接清扫
	Lock ISweepLock

	// Logger 日志器，nil 时取全局 Logger
	Logger logging.Logger
}

// Stats 清扫统计
type Stats struct {
	// Runs 已执行的清扫轮数
	Runs int64 `json:"runs"`

	// LastRunAt 最近一轮清扫时间
	LastRunAt time.Time `json:"last_run_at"`

	// LastAdvanced 最近一轮推进的请求数
	LastAdvanced int `json:"last_advanced"`

	// TotalAdvanced 累计推进的请求数
	TotalAdvanced int64 `json:"total_advanced"`
}

// Sweeper 自动审批清扫器。
//
// Start 启动后台循环直至 Stop 或父 context 取消。
// 清扫本身幂等：推进依赖状态机的守卫更新，同一瞬间的重复清扫
// 不会二次推进，也不会二次通知。
type Sweeper struct {
	service   *request.RetrievalService
	repo      request.IRequestRepository
	interval  time.Duration
	batchSize int
	lock      ISweepLock
	logger    logging.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	stats   Stats
	mutex   sync.Mutex
	running bool
}

// New 创建清扫器
func New(service *request.RetrievalService, repo request.IRequestRepository, opts Options) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Sweeper{
		service:   service,
		repo:      repo,
		interval:  interval,
		batchSize: batchSize,
		lock:      opts.Lock,
		logger:    logger.WithFields(logging.String("component", "sweeper")),
	}
}

// Start 启动后台清扫循环
func (s *Sweeper) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mutex.Unlock()

	go s.loop(runCtx)
	s.logger.Info(ctx, "清扫器已启动", logging.Duration("interval", s.interval))
	return nil
}

// Stop 停止清扫循环并等待收尾
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mutex.Unlock()

	cancel()
	<-done
}

// Stats 返回清扫统计快照
func (s *Sweeper) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stats
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "清扫器已停止")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn(ctx, "清扫失败", logging.Error(err))
			}
		}
	}
}

// Sweep 执行一轮清扫，返回推进的请求数。
//
// 按 batchSize 分页遍历全部 PENDING 请求：滞留的请求（超窗、等待主管）
// 会长期占据队首，一轮清扫必须翻过它们，否则积压超过一页后，
// 依赖已清除的年轻请求永远得不到复查。
// 对每个请求复用状态机的 TryAutoApprove：依赖门槛重新检查，
// 窗口结论沿用提交时刻的记录（时间流逝只会使窗口失效，不会使其生效）。
// 单个请求的失败只记日志并跳过，不中断整轮清扫。
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return 0, err
		}
		if !acquired {
			s.logger.Debug(ctx, "其他实例持有清扫锁，跳过本轮")
			return 0, nil
		}
		defer s.lock.Release(ctx)
	}

	advanced := 0
	scanned := 0
	offset := 0
	for {
		pending, err := s.repo.ListByStatus(ctx, request.StatusPending, offset, s.batchSize)
		if err != nil {
			return advanced, err
		}
		if len(pending) == 0 {
			break
		}

		advancedInPage := 0
		for _, req := range pending {
			select {
			case <-ctx.Done():
				return advanced, ctx.Err()
			default:
			}

			ok, err := s.service.TryAutoApprove(ctx, req)
			if err != nil {
				s.logger.Warn(ctx, "请求复查失败",
					logging.String("request_id", req.ID),
					logging.Error(err),
				)
				continue
			}
			if ok {
				advanced++
				advancedInPage++
			}
		}
		scanned += len(pending)

		if len(pending) < s.batchSize {
			break
		}
		// 已推进的行离开 PENDING 集合，其后的行前移相应位置
		offset += len(pending) - advancedInPage
	}

	s.mutex.Lock()
	s.stats.Runs++
	s.stats.LastRunAt = time.Now()
	s.stats.LastAdvanced = advanced
	s.stats.TotalAdvanced += int64(advanced)
	s.mutex.Unlock()

	if advanced > 0 {
		s.logger.Info(ctx, "清扫完成",
			logging.Int("pending", scanned),
			logging.Int("advanced", advanced),
		)
	}
	return advanced, nil
}

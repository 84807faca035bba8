package job

import (
	"context"
	"log"
	"time"

	"billsystem/internal/config"
	"billsystem/internal/infrastructure/lock"
	"billsystem/internal/service"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 对账调度任务
// ============================================================================
//
// 两个实例：每日短窗（兜住近期的开票失败）+ 每周深窗（兜住漏网之鱼）。
// 窗口有意重叠 —— 底层对账操作全部幂等，重复跑只是空转。
//
// 【关键点】多实例部署时按 商户+窗口起点 抢 Redis 锁，
// 抢不到说明别的实例已经在跑，直接跳过即可。
//
// ============================================================================

// ReconcileJob 周期性对账任务
type ReconcileJob struct {
	name             string
	redisClient      *redis.Client
	tenantService    *service.TenantService
	reconcileService *service.ReconcileService
	cfg              *config.Config
	stopCh           chan struct{}
	interval         time.Duration
	window           time.Duration
}

// NewDailyReconcileJob 每日短窗对账
func NewDailyReconcileJob(redisClient *redis.Client, tenantService *service.TenantService, reconcileService *service.ReconcileService, cfg *config.Config) *ReconcileJob {
	return newReconcileJob("DailyReconcileJob", redisClient, tenantService, reconcileService, cfg,
		hoursOrDefault(cfg.Reconcile.DailyIntervalHours, 24),
		hoursOrDefault(cfg.Reconcile.DailyWindowHours, 24))
}

// NewWeeklyReconcileJob 每周深窗对账
func NewWeeklyReconcileJob(redisClient *redis.Client, tenantService *service.TenantService, reconcileService *service.ReconcileService, cfg *config.Config) *ReconcileJob {
	return newReconcileJob("WeeklyReconcileJob", redisClient, tenantService, reconcileService, cfg,
		hoursOrDefault(cfg.Reconcile.WeeklyIntervalHours, 168),
		hoursOrDefault(cfg.Reconcile.WeeklyWindowHours, 168))
}

func newReconcileJob(name string, redisClient *redis.Client, tenantService *service.TenantService, reconcileService *service.ReconcileService, cfg *config.Config, interval, window time.Duration) *ReconcileJob {
	return &ReconcileJob{
		name:             name,
		redisClient:      redisClient,
		tenantService:    tenantService,
		reconcileService: reconcileService,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
		interval:         interval,
		window:           window,
	}
}

func hoursOrDefault(hours, fallback int) time.Duration {
	if hours <= 0 {
		hours = fallback
	}
	return time.Duration(hours) * time.Hour
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Printf("[%s] 对账任务启动: interval=%v, window=%v", j.name, j.interval, j.window)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] 收到停止信号，任务退出", j.name)
			return
		case <-j.stopCh:
			log.Printf("[%s] 任务停止", j.name)
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// runOnce 对全部激活商户并行跑一轮
// 各商户数据互不相交，可以放心并行；单个商户失败不影响其他商户
func (j *ReconcileJob) runOnce(ctx context.Context) {
	tenantIDs, err := j.tenantService.ListActiveTenantIDs(ctx)
	if err != nil {
		log.Printf("[%s] 查询激活商户失败: %v", j.name, err)
		return
	}
	if len(tenantIDs) == 0 {
		return
	}

	end := time.Now()
	start := end.Add(-j.window)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, tenantID := range tenantIDs {
		tenantID := tenantID
		g.Go(func() error {
			j.reconcileTenant(gctx, tenantID, start, end)
			return nil
		})
	}

	_ = g.Wait()
}

func (j *ReconcileJob) reconcileTenant(ctx context.Context, tenantID int64, start, end time.Time) {
	reconcileLock := lock.NewReconcileLock(j.redisClient, tenantID, start)
	acquired, err := reconcileLock.TryLock(ctx)
	if err != nil {
		log.Printf("[%s] 获取对账锁失败: tenantID=%d, err=%v", j.name, tenantID, err)
		return
	}
	if !acquired {
		// 别的实例已经在跑这个窗口
		return
	}
	defer reconcileLock.Unlock(ctx)

	if _, err := j.reconcileService.Reconcile(ctx, tenantID, start, end); err != nil {
		log.Printf("[%s] 对账执行失败: tenantID=%d, err=%v", j.name, tenantID, err)
	}
}

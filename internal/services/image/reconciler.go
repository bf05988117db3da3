package image

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/strategies"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/robfig/cron/v3"
)

const (
	defaultGracePeriod = 24 * time.Hour
	reconcileBatchSize = 200
)

// ReconcileReport 单个策略的对账结果
type ReconcileReport struct {
	StrategyID uint     `json:"strategy_id"`
	Type       string   `json:"type"`
	Scanned    int      `json:"scanned"`
	Orphans    []string `json:"orphans"`
	Deleted    int      `json:"deleted"`
	Failed     int      `json:"failed"`
	Skipped    string   `json:"skipped,omitempty"`
}

// Reconciler 清理没有记录指向的后端对象
// 只处理可枚举的后端，且只删除超过宽限期的对象，避免误删正在上传中的文件
type Reconciler struct {
	strategies *strategies.Repository
	images     *images.Repository
	router     *storage.Router
	grace      time.Duration
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler 创建对账器
func NewReconciler(strategiesRepo *strategies.Repository, imagesRepo *images.Repository, router *storage.Router, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Reconciler{
		strategies: strategiesRepo,
		images:     imagesRepo,
		router:     router,
		grace:      grace,
		now:        time.Now,
	}
}

// Run 对全部策略执行一次对账，dryRun 时只报告不删除
func (r *Reconciler) Run(ctx context.Context, dryRun bool) ([]ReconcileReport, error) {
	defer utils.MonitorMemory("reconcile")()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := r.strategies.WithContext(ctx).List()
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}

	// 先解析全部后端，位置重叠的策略互相看不到对方的记录，不能清理
	targets := make([]reconcileTarget, 0, len(list))
	for _, st := range list {
		t := reconcileTarget{report: ReconcileReport{StrategyID: st.ID}}
		binding, err := r.router.ForStrategy(ctx, st.ID)
		if err != nil {
			log.Printf("[Reconcile] WARN: strategy %d: %v", st.ID, err)
			t.report.Skipped = err.Error()
			targets = append(targets, t)
			continue
		}
		t.binding = binding
		t.report.Type = binding.Type
		if lister, ok := storage.AsLister(binding.Provider); ok {
			t.lister = lister
			t.location = lister.Location()
		} else {
			t.report.Skipped = "backend cannot be listed"
		}
		targets = append(targets, t)
	}
	for i := range targets {
		if targets[i].lister == nil {
			continue
		}
		for j := range targets {
			if i != j && storage.LocationsOverlap(targets[i].location, targets[j].location) {
				log.Printf("[Reconcile] WARN: strategy %d shares %s with strategy %d, skipped",
					targets[i].report.StrategyID, targets[i].location, targets[j].report.StrategyID)
				targets[i].report.Skipped = fmt.Sprintf("storage location overlaps strategy %d", targets[j].report.StrategyID)
				break
			}
		}
	}

	reports := make([]ReconcileReport, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if t.report.Skipped != "" {
			reports = append(reports, t.report)
			continue
		}
		report, err := r.reconcileStrategy(ctx, t, dryRun)
		if err != nil {
			log.Printf("[Reconcile] WARN: strategy %d: %v", t.report.StrategyID, err)
			report.Skipped = err.Error()
		}
		reports = append(reports, report)
	}
	return reports, nil
}

type reconcileTarget struct {
	report   ReconcileReport
	binding  *storage.Binding
	lister   storage.Lister
	location string
}

func (r *Reconciler) reconcileStrategy(ctx context.Context, t reconcileTarget, dryRun bool) (ReconcileReport, error) {
	report := t.report
	strategyID := report.StrategyID
	binding, lister := t.binding, t.lister

	cutoff := r.now().Add(-r.grace)
	var candidates []string
	err := lister.Walk(ctx, func(p string, modTime time.Time) error {
		report.Scanned++
		if modTime.Before(cutoff) {
			candidates = append(candidates, p)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk failed: %w", err)
	}
	if len(candidates) == 0 {
		return report, nil
	}

	repo := r.images.WithContext(ctx)
	hashes, err := repo.AddressHashesByStrategy(strategyID)
	if err != nil {
		return report, fmt.Errorf("failed to load address hashes: %w", err)
	}

	for start := 0; start < len(candidates); start += reconcileBatchSize {
		end := start + reconcileBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		refs, err := repo.ReferencedNames(strategyID, batch)
		if err != nil {
			return report, fmt.Errorf("failed to load references: %w", err)
		}
		for _, p := range batch {
			if referenced(p, refs, hashes) {
				continue
			}
			report.Orphans = append(report.Orphans, p)
		}
	}

	if dryRun {
		return report, nil
	}

	label := fmt.Sprintf("%d", strategyID)
	for _, p := range report.Orphans {
		if err := binding.Provider.Delete(ctx, p); err != nil {
			report.Failed++
			log.Printf("[Reconcile] ERROR: orphan %s on strategy %d not removed: %v", p, strategyID, err)
			continue
		}
		report.Deleted++
		metrics.ReconcileDeleted.WithLabelValues(label).Inc()
	}
	if report.Deleted > 0 {
		log.Printf("[Reconcile] strategy %d: removed %d orphaned objects", strategyID, report.Deleted)
	}
	return report, nil
}

// referenced 路径、文件名或哈希命名任一命中即视为仍被引用
func referenced(p string, refs map[string]struct{}, hashes map[string]struct{}) bool {
	if _, ok := refs[p]; ok {
		return true
	}
	base := path.Base(p)
	if _, ok := refs[base]; ok {
		return true
	}
	stem := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	_, ok := hashes[stem]
	return ok
}

// Start 按 cron 表达式（含秒）定时执行
func (r *Reconciler) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := r.Run(ctx, false); err != nil {
			log.Printf("[Reconcile] ERROR: scheduled run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c
	log.Printf("[Reconcile] scheduled with %q, grace period %s", schedule, r.grace)
	return nil
}

// Stop 停止定时任务并等待正在执行的对账结束
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

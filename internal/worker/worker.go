package worker

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Pool 有界协程池，用于上传后的孤儿清理与缓存预热等后台任务
type Pool struct {
	workers int
	queue   chan func()
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Stats 协程池统计
type Stats struct {
	WorkerCount int
	QueueLen    int
	QueueCap    int
	Submitted   uint64
	Executed    uint64
	Failed      uint64
	Dropped     uint64
}

var (
	globalPool *Pool
	globalMu   sync.Mutex
)

// InitGlobalPool 初始化全局协程池，重复调用无副作用
func InitGlobalPool(workers, queueSize int) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalPool == nil {
		globalPool = NewPool(workers, queueSize)
	}
}

// GetGlobalPool 获取全局协程池
func GetGlobalPool() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalPool
}

// StopGlobalPool 停止全局协程池
func StopGlobalPool() {
	globalMu.Lock()
	p := globalPool
	globalPool = nil
	globalMu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// NewPool 创建并启动工作池
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("[Worker] pool started with %d workers, queue size %d", workers, queueSize)
	return p
}

// Submit 提交任务（非阻塞，队列满或已停止时返回 false）
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return false
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.dropped.Add(1)
		log.Println("[Worker] WARN: queue is full, task dropped")
		return false
	}
}

// SubmitDetached 提交一个与请求生命周期无关的任务
// 任务拿到的 ctx 只受 timeout 约束
func (p *Pool) SubmitDetached(timeout time.Duration, task func(ctx context.Context)) bool {
	return p.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		task(ctx)
	})
}

// Stop 停止接收新任务，等待队列中已有任务执行完毕
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("[Worker] pool stopped")
}

// GetStats 获取统计信息
func (p *Pool) GetStats() Stats {
	return Stats{
		WorkerCount: p.workers,
		QueueLen:    len(p.queue),
		QueueCap:    cap(p.queue),
		Submitted:   p.submitted.Load(),
		Executed:    p.executed.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		if task == nil {
			continue
		}
		p.execute(task)
	}
}

// execute 执行任务并捕获 panic
func (p *Pool) execute(task func()) {
	defer func() {
		p.executed.Add(1)
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Printf("[Worker] ERROR: panic recovered in task: %v", r)
		}
	}()
	task()
}

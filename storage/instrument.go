package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
)

// instrumented 为后端操作记录耗时与失败次数
type instrumented struct {
	Provider
}

// Instrument 包装 Provider，记录 Prometheus 指标
func Instrument(p Provider) Provider {
	if _, ok := p.(*instrumented); ok {
		return p
	}
	return &instrumented{Provider: p}
}

// AsLister 返回底层后端的枚举能力
func AsLister(p Provider) (Lister, bool) {
	if w, ok := p.(*instrumented); ok {
		p = w.Provider
	}
	l, ok := p.(Lister)
	return l, ok
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	backend := s.Provider.Type()
	metrics.StorageOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled) {
		metrics.StorageErrors.WithLabelValues(backend, op).Inc()
	}
}

func (s *instrumented) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	start := time.Now()
	res, err := s.Provider.Put(ctx, path, data, contentType)
	s.observe("put", start, err)
	return res, err
}

func (s *instrumented) Get(ctx context.Context, path string) (*Object, error) {
	start := time.Now()
	obj, err := s.Provider.Get(ctx, path)
	s.observe("get", start, err)
	return obj, err
}

func (s *instrumented) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := s.Provider.Delete(ctx, path)
	s.observe("delete", start, err)
	return err
}

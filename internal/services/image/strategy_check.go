package image

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
)

// 存储连通性检查方式
const (
	CheckConnection = "connection"
	CheckUpload     = "upload"
)

// checkTimeout 单次检查的上限
const checkTimeout = 15 * time.Second

// StrategyCheck 存储策略检查结果，后端失败不作为接口错误返回
type StrategyCheck struct {
	StrategyID uint   `json:"strategy_id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	OK         bool   `json:"ok"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// TestStrategy 检查用户可用的存储策略
// connection 调用后端健康检查；upload 写入并删除一个小对象
func (s *ManageService) TestStrategy(ctx context.Context, userID, strategyID uint, mode string) (*StrategyCheck, error) {
	if mode == "" {
		mode = CheckConnection
	}
	if mode != CheckConnection && mode != CheckUpload {
		return nil, errs.InvalidInput("mode must be connection or upload")
	}
	if strategyID == 0 {
		return nil, errs.InvalidInput("strategy id is required")
	}

	binding, err := s.router.Resolve(ctx, userID, &strategyID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	result := &StrategyCheck{
		StrategyID: binding.StrategyID,
		Type:       binding.Type,
		Name:       binding.Name,
		Mode:       mode,
	}

	start := s.now()
	switch mode {
	case CheckConnection:
		err = binding.Provider.Health(ctx)
	case CheckUpload:
		err = s.roundTrip(ctx, binding.Provider)
	}
	result.LatencyMS = s.now().Sub(start).Milliseconds()

	if err != nil {
		log.Printf("[Storage] WARN: %s check of %s strategy %d failed: %v", mode, binding.Type, binding.StrategyID, err)
		result.Error = utils.SanitizeLogMessage(err.Error())
		return result, nil
	}
	result.OK = true
	return result, nil
}

func (s *ManageService) roundTrip(ctx context.Context, provider storage.Provider) error {
	key := fmt.Sprintf("_check/%d.txt", s.now().UnixNano())
	res, err := provider.Put(ctx, key, []byte("moe-vault storage check"), "text/plain")
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if res != nil && res.Path != "" {
		key = res.Path
	}
	if err := provider.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

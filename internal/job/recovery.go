package job

import (
	"context"
	"fmt"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行降级。返回 nil 时按正常失败流程处理。
	Recover(ctx context.Context, job *Job, cause error) (*Outcome, error)
}

// FallbackRecovery 在不可重试的失败后改用另一个插件完成预测。
type FallbackRecovery struct {
	Predictor *Predictor
	PluginID  string
}

// Recover 实现 RecoveryHandler。降级结果带有说明原因的 warning。
func (r *FallbackRecovery) Recover(ctx context.Context, job *Job, cause error) (*Outcome, error) {
	if r == nil || r.Predictor == nil || r.PluginID == "" || r.PluginID == job.PluginID {
		return nil, nil
	}
	outcome, err := r.Predictor.Predict(ctx, Request{
		PluginID:    r.PluginID,
		LotteryType: job.LotteryType,
		Parameters:  job.Parameters,
	})
	if err != nil {
		return nil, err
	}
	degraded := *outcome.Result
	degraded.Warnings = append(append([]string(nil), degraded.Warnings...),
		fmt.Sprintf("degraded: %s failed (%v), result produced by %s", job.PluginID, cause, r.PluginID))
	outcome.Result = &degraded
	return &outcome, nil
}

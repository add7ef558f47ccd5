// Package notifier 数据质量告警的 Webhook 推送
package notifier

import (
	"context"
	"fmt"
	"time"

	"safetysync-analytics/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 将质量超限事件 POST 到运维 Webhook
//
// webhookURL 为空时通知被禁用，NotifyQuality 直接返回 nil。
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知客户端
func NewWebhookNotifier(webhookURL string, logger *zap.Logger) *WebhookNotifier {
	if webhookURL == "" {
		logger.Info("quality webhook disabled: no URL configured")
		return &WebhookNotifier{logger: logger}
	}

	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        webhookURL,
		logger:     logger,
	}
}

// Enabled 是否配置了 Webhook 地址
func (w *WebhookNotifier) Enabled() bool {
	return w.httpClient != nil
}

// NotifyQuality 推送一次质量超限通知
func (w *WebhookNotifier) NotifyQuality(ctx context.Context, breach *models.QualityBreach) error {
	if !w.Enabled() {
		return nil
	}

	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetBody(breach).
		Post(w.url)
	if err != nil {
		w.logger.Error("quality webhook call failed",
			zap.Error(err),
			zap.Strings("breaches", breach.Breaches),
		)
		return fmt.Errorf("failed to call quality webhook: %w", err)
	}

	if resp.IsError() {
		w.logger.Error("quality webhook returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.Strings("breaches", breach.Breaches),
		)
		return fmt.Errorf("quality webhook returned status %d", resp.StatusCode())
	}

	w.logger.Info("quality breach notification sent",
		zap.Time("batch_time", breach.BatchTime),
		zap.Float64("duplicate_rate", breach.DuplicateRate),
		zap.Float64("invalid_rate", breach.InvalidRate),
		zap.Strings("breaches", breach.Breaches),
	)

	return nil
}

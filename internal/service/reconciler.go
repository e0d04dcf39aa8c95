package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/gateway"
	"mailroom/backend/internal/monitoring"
)

// Provisioner 回调分发使用的开通操作
type Provisioner interface {
	CreateSubscriptionAccount(ctx context.Context, input CreateSubscriptionInput) (*ProvisionResult, error)
	AddMailboxesToAccount(ctx context.Context, input AddMailboxesInput) (*ProvisionResult, error)
	ChangePlan(ctx context.Context, input ChangePlanInput) (*ProvisionResult, error)
}

// EventDeduplicator 事件级去重，由内存、SQL 或 Redis 存储实现
type EventDeduplicator interface {
	ClaimEvent(ctx context.Context, event *domain.ProcessedEvent) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// WebhookOutcome 一次回调的处理结果
type WebhookOutcome string

const (
	OutcomeProvisioned      WebhookOutcome = "provisioned"
	OutcomeDuplicate        WebhookOutcome = "duplicate"
	OutcomeSignatureInvalid WebhookOutcome = "signature_invalid"
	OutcomeMetadataInvalid  WebhookOutcome = "metadata_invalid"
	OutcomeUnhandled        WebhookOutcome = "unhandled"
	OutcomePaymentFailed    WebhookOutcome = "payment_failed"
	OutcomeFailed           WebhookOutcome = "provisioning_failed"
	OutcomeDedupUnavailable WebhookOutcome = "dedup_unavailable"
	OutcomeUnidentified     WebhookOutcome = "unidentified"
)

// WebhookResult 回调处理摘要，用于日志与测试
type WebhookResult struct {
	EventID   string
	EventType string
	Action    domain.ProvisioningAction
	Outcome   WebhookOutcome
	Err       error // 开通失败或元数据错误的原因，不影响给网关的响应
}

// ReconcilerOptions 回调处理配置
type ReconcilerOptions struct {
	EnforceSignature bool
}

// ReconcilerService 将支付网关回调转换为一次开通操作
type ReconcilerService struct {
	verifier    *gateway.Verifier
	provisioner Provisioner
	dedup       EventDeduplicator
	opts        ReconcilerOptions
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// NewReconcilerService 创建回调处理服务。
// dedup 为 nil 时只处理创建订阅事件，增加邮箱与变更套餐事件会被丢弃。
func NewReconcilerService(verifier *gateway.Verifier, provisioner Provisioner, dedup EventDeduplicator, opts ReconcilerOptions, metrics *monitoring.Metrics, logger *zap.Logger) *ReconcilerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !verifier.Configured() {
		logger.Warn("webhook secret not configured, signatures will not be verified")
	}
	return &ReconcilerService{
		verifier:    verifier,
		provisioner: provisioner,
		dedup:       dedup,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleWebhook 处理一次回调。
//
// 请求体不是合法 JSON 时返回错误；去重存储故障导致非幂等动作无法执行时返回 ErrDedupUnavailable，
// 由网关稍后重试。其余情况均应向网关确认收到。
func (s *ReconcilerService) HandleWebhook(ctx context.Context, signatureHeader string, body []byte) (*WebhookResult, error) {
	event, err := gateway.ParseEvent(body)
	if err != nil {
		s.metrics.RecordWebhookEvent("malformed")
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type, Action: domain.ActionNone}
	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	defer func() { s.metrics.RecordWebhookEvent(string(result.Outcome)) }()

	if err := s.verifier.Verify(signatureHeader, body); err != nil {
		if s.opts.EnforceSignature {
			log.Warn("SignatureInvalid: dropping event", zap.Error(err))
			result.Outcome = OutcomeSignatureInvalid
			result.Err = err
			return result, nil
		}
		log.Warn("SignatureInvalid: processing anyway, enforcement disabled", zap.Error(err))
	}

	if event.Type == gateway.EventPaymentFailed {
		log.Info("payment failed", zap.Any("metadata", event.Metadata))
		result.Outcome = OutcomePaymentFailed
		return result, nil
	}

	action, err := gateway.Classify(event)
	if err != nil {
		log.Warn("MetadataInvalid: dropping event", zap.Error(err), zap.Any("metadata", event.Metadata))
		result.Outcome = OutcomeMetadataInvalid
		result.Err = err
		return result, nil
	}
	result.Action = action.Kind()

	if unhandled, ok := action.(gateway.UnhandledAction); ok {
		log.Info("event does not trigger provisioning", zap.String("reason", unhandled.Reason))
		result.Outcome = OutcomeUnhandled
		return result, nil
	}

	// 创建订阅按用户幂等，其余动作必须先成功占用事件才能执行
	idempotent := action.Kind() == domain.ActionCreateSubscription
	claimed := false
	switch {
	case event.ID == "":
		if !idempotent {
			log.Error("event has no id and cannot be deduplicated, dropping",
				zap.String("action", string(action.Kind())), zap.Any("metadata", event.Metadata))
			result.Outcome = OutcomeUnidentified
			result.Err = ErrEventUnidentified
			return result, nil
		}
	case s.dedup == nil:
		if !idempotent {
			log.Error("no event dedup store configured, dropping event",
				zap.String("action", string(action.Kind())), zap.Any("metadata", event.Metadata))
			result.Outcome = OutcomeDedupUnavailable
			result.Err = ErrDedupUnavailable
			return result, nil
		}
	default:
		ok, err := s.dedup.ClaimEvent(ctx, &domain.ProcessedEvent{
			EventID:   event.ID,
			EventType: event.Type,
			Action:    action.Kind(),
		})
		switch {
		case err != nil && idempotent:
			log.Warn("failed to claim event, creating subscription without dedup", zap.Error(err))
		case err != nil:
			log.Error("failed to claim event, asking gateway to retry",
				zap.String("action", string(action.Kind())), zap.Error(err))
			result.Outcome = OutcomeDedupUnavailable
			result.Err = fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
			return result, result.Err
		case !ok:
			log.Info("duplicate event, skipping")
			result.Outcome = OutcomeDuplicate
			return result, nil
		default:
			claimed = true
		}
	}

	if err := s.dispatch(ctx, action); err != nil {
		log.Error("provisioning failed", zap.String("action", string(action.Kind())), zap.Error(err))
		if claimed {
			if relErr := s.dedup.ReleaseEvent(ctx, event.ID); relErr != nil {
				log.Error("failed to release event claim", zap.Error(relErr))
			}
		}
		result.Outcome = OutcomeFailed
		result.Err = err
		return result, nil
	}

	log.Info("event provisioned", zap.String("action", string(action.Kind())))
	result.Outcome = OutcomeProvisioned
	return result, nil
}

func (s *ReconcilerService) dispatch(ctx context.Context, action gateway.Action) error {
	var err error
	switch a := action.(type) {
	case gateway.AddMailboxesAction:
		_, err = s.provisioner.AddMailboxesToAccount(ctx, AddMailboxesInput{
			AccountID: a.AccountID,
			PlanID:    a.PlanID,
			Count:     a.MailboxCount,
		})
	case gateway.CreateSubscriptionAction:
		_, err = s.provisioner.CreateSubscriptionAccount(ctx, CreateSubscriptionInput{
			UserID:       a.UserID,
			PlanID:       a.PlanID,
			MailboxCount: a.MailboxCount,
			LocationKey:  a.LocationKey,
			Referral:     a.Referral,
		})
	case gateway.ChangePlanAction:
		_, err = s.provisioner.ChangePlan(ctx, ChangePlanInput{
			AccountID: a.AccountID,
			PlanID:    a.PlanID,
		})
	default:
		err = fmt.Errorf("unsupported action %T", action)
	}
	return err
}

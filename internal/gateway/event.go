package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mailroom/backend/internal/domain"
)

var (
	// ErrMalformedPayload 请求体不是合法的 JSON 事件
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrMetadataInvalid 元数据缺少必填字段或字段格式错误
	ErrMetadataInvalid = errors.New("metadata invalid")
)

// 网关事件类型
const (
	EventCheckoutSessionPaid = "checkout_session.payment.paid"
	EventPaymentPaid         = "payment.paid"
	EventLinkPaymentPaid     = "link.payment.paid"
	EventPaymentFailed       = "payment.failed"
)

// Event 解析后的网关事件
type Event struct {
	ID       string
	Type     string
	Metadata map[string]interface{} // 未携带元数据时为 nil
	// MetadataErr 元数据存在但不是 JSON 对象，由 Classify 对支付成功事件报告
	MetadataErr error
}

type envelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				Attributes struct {
					Metadata json.RawMessage `json:"metadata"`
				} `json:"attributes"`
				Metadata json.RawMessage `json:"metadata"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseEvent 解析回调请求体。
// 只有请求体不是合法 JSON 时返回 ErrMalformedPayload；字段类型不符时尽量保留可解析的部分，
// 元数据不是对象时记录在 Event.MetadataErr 中。
func ParseEvent(body []byte) (*Event, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedPayload)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	inner := env.Data.Attributes.Data
	raw := inner.Attributes.Metadata
	if isAbsent(raw) {
		raw = inner.Metadata
	}

	event := &Event{
		ID:   env.Data.ID,
		Type: env.Data.Attributes.Type,
	}
	if !isAbsent(raw) {
		md, err := decodeMetadata(raw)
		if err != nil {
			event.MetadataErr = fmt.Errorf("%w: metadata must be a JSON object", ErrMetadataInvalid)
		} else {
			event.Metadata = md
		}
	}
	return event, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeMetadata(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var md map[string]interface{}
	if err := dec.Decode(&md); err != nil {
		return nil, err
	}
	return md, nil
}

// IsPaid 是否属于支付成功事件
func (e *Event) IsPaid() bool {
	switch e.Type {
	case EventCheckoutSessionPaid, EventPaymentPaid, EventLinkPaymentPaid:
		return true
	}
	return false
}

// Action 事件对应的开通动作
type Action interface {
	Kind() domain.ProvisioningAction
}

// AddMailboxesAction 为已有账户增加邮箱
type AddMailboxesAction struct {
	AccountID    string
	PlanID       string
	MailboxCount int
}

// CreateSubscriptionAction 首次订阅，创建账户与初始邮箱
type CreateSubscriptionAction struct {
	UserID       string
	PlanID       string
	MailboxCount int
	LocationKey  string
	Referral     string
}

// ChangePlanAction 变更账户套餐
type ChangePlanAction struct {
	AccountID string
	PlanID    string
}

// UnhandledAction 不触发任何开通动作的事件
type UnhandledAction struct {
	Reason string
}

func (AddMailboxesAction) Kind() domain.ProvisioningAction       { return domain.ActionAddMailboxes }
func (CreateSubscriptionAction) Kind() domain.ProvisioningAction { return domain.ActionCreateSubscription }
func (ChangePlanAction) Kind() domain.ProvisioningAction         { return domain.ActionChangePlan }
func (UnhandledAction) Kind() domain.ProvisioningAction          { return domain.ActionNone }

// Classify 根据事件类型和元数据判定开通动作。
// 非支付成功事件与未知元数据返回 UnhandledAction；元数据不是对象或已识别的动作缺少必填字段时返回 ErrMetadataInvalid。
func Classify(e *Event) (Action, error) {
	if !e.IsPaid() {
		return UnhandledAction{Reason: "event type " + strconv.Quote(e.Type) + " does not provision"}, nil
	}
	if e.MetadataErr != nil {
		return nil, e.MetadataErr
	}
	if e.Metadata == nil {
		return UnhandledAction{Reason: "no metadata"}, nil
	}

	md := metadata(e.Metadata)
	discriminant, _ := md.str("type")

	switch discriminant {
	case string(domain.ActionAddMailboxes):
		accountID, err := md.required("accountId")
		if err != nil {
			return nil, err
		}
		planID, _ := md.str("planId")
		count, err := md.count("mailboxCount", "count")
		if err != nil {
			return nil, err
		}
		return AddMailboxesAction{AccountID: accountID, PlanID: planID, MailboxCount: count}, nil

	case string(domain.ActionCreateSubscription):
		userID, err := md.required("userId")
		if err != nil {
			return nil, err
		}
		planID, err := md.required("planId")
		if err != nil {
			return nil, err
		}
		count, err := md.count("mailboxCount", "count")
		if err != nil {
			return nil, err
		}
		locationKey, _ := md.str("locationKey")
		referral, _ := md.str("referral")
		return CreateSubscriptionAction{
			UserID:       userID,
			PlanID:       planID,
			MailboxCount: count,
			LocationKey:  locationKey,
			Referral:     referral,
		}, nil

	case "":
		planID, ok := md.str("planId")
		if !ok {
			return UnhandledAction{Reason: "metadata has no type and no planId"}, nil
		}
		accountID, err := md.required("accountId")
		if err != nil {
			return nil, err
		}
		return ChangePlanAction{AccountID: accountID, PlanID: planID}, nil
	}

	return UnhandledAction{Reason: "unknown metadata type " + strconv.Quote(discriminant)}, nil
}

type metadata map[string]interface{}

func (m metadata) str(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case json.Number:
		return s.String(), true
	}
	return "", false
}

func (m metadata) required(key string) (string, error) {
	s, ok := m.str(key)
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrMetadataInvalid, key)
	}
	return s, nil
}

// count 读取正整数数量，支持 JSON 数字与数字字符串
func (m metadata) count(keys ...string) (int, error) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		n, err := toPositiveInt(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %v", ErrMetadataInvalid, key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is required", ErrMetadataInvalid, keys[0])
}

func toPositiveInt(v interface{}) (int, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, errors.New("is not a number")
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, errors.New("is not a number")
		}
		f = parsed
	default:
		return 0, errors.New("is not a number")
	}
	if f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, errors.New("must be a positive integer")
	}
	return int(f), nil
}

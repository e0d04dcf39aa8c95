package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
)

func checkoutBody(eventType, metadata string) []byte {
	return []byte(`{"data":{"id":"evt_123","attributes":{"type":"` + eventType + `","data":{"attributes":{"metadata":` + metadata + `}}}}}`)
}

func paymentBody(eventType, metadata string) []byte {
	return []byte(`{"data":{"id":"evt_456","attributes":{"type":"` + eventType + `","data":{"metadata":` + metadata + `}}}}`)
}

func TestParseEvent(t *testing.T) {
	t.Run("结账会话的元数据位置", func(t *testing.T) {
		e, err := ParseEvent(checkoutBody(EventCheckoutSessionPaid, `{"type":"mailbox_addition"}`))
		require.NoError(t, err)
		assert.Equal(t, "evt_123", e.ID)
		assert.Equal(t, EventCheckoutSessionPaid, e.Type)
		assert.Equal(t, "mailbox_addition", e.Metadata["type"])
		assert.True(t, e.IsPaid())
	})

	t.Run("直接支付的元数据位置", func(t *testing.T) {
		e, err := ParseEvent(paymentBody(EventPaymentPaid, `{"planId":"standard"}`))
		require.NoError(t, err)
		assert.Equal(t, "evt_456", e.ID)
		assert.Equal(t, "standard", e.Metadata["planId"])
	})

	t.Run("非法 JSON", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"data":`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("元数据不是对象时仍可解析", func(t *testing.T) {
		for _, md := range []string{`"not-an-object"`, `[1,2]`, `42`} {
			e, err := ParseEvent(checkoutBody(EventCheckoutSessionPaid, md))
			require.NoError(t, err, md)
			assert.Equal(t, "evt_123", e.ID)
			assert.Nil(t, e.Metadata)
			assert.ErrorIs(t, e.MetadataErr, ErrMetadataInvalid)
		}
	})

	t.Run("元数据为 null 时回退到另一位置", func(t *testing.T) {
		body := []byte(`{"data":{"id":"evt_9","attributes":{"type":"payment.paid","data":{"attributes":{"metadata":null},"metadata":{"planId":"basic"}}}}}`)
		e, err := ParseEvent(body)
		require.NoError(t, err)
		assert.NoError(t, e.MetadataErr)
		assert.Equal(t, "basic", e.Metadata["planId"])
	})

	t.Run("字段类型不符时保留可解析部分", func(t *testing.T) {
		e, err := ParseEvent([]byte(`{"data":{"id":7,"attributes":{"type":"payment.paid"}}}`))
		require.NoError(t, err)
		assert.Empty(t, e.ID)
		assert.Equal(t, EventPaymentPaid, e.Type)
	})

	t.Run("尾部多余内容视为非法", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"data":{}} trailing`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("支付失败不属于成功事件", func(t *testing.T) {
		e, err := ParseEvent(paymentBody(EventPaymentFailed, `{}`))
		require.NoError(t, err)
		assert.False(t, e.IsPaid())
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		want    Action
		wantErr error
	}{
		{
			name: "增加邮箱",
			body: checkoutBody(EventCheckoutSessionPaid, `{"type":"mailbox_addition","accountId":"acc_1","planId":"basic","mailboxCount":2}`),
			want: AddMailboxesAction{AccountID: "acc_1", PlanID: "basic", MailboxCount: 2},
		},
		{
			name: "数量为数字字符串",
			body: paymentBody(EventLinkPaymentPaid, `{"type":"mailbox_addition","accountId":"acc_1","mailboxCount":"3"}`),
			want: AddMailboxesAction{AccountID: "acc_1", MailboxCount: 3},
		},
		{
			name: "创建订阅",
			body: checkoutBody(EventCheckoutSessionPaid, `{"type":"subscription_creation","userId":"u_1","planId":"standard","mailboxCount":1,"locationKey":"makati","referral":"R1"}`),
			want: CreateSubscriptionAction{UserID: "u_1", PlanID: "standard", MailboxCount: 1, LocationKey: "makati", Referral: "R1"},
		},
		{
			name: "只有 planId 视为变更套餐",
			body: paymentBody(EventPaymentPaid, `{"accountId":"acc_1","planId":"business"}`),
			want: ChangePlanAction{AccountID: "acc_1", PlanID: "business"},
		},
		{
			name: "未知类型",
			body: checkoutBody(EventCheckoutSessionPaid, `{"type":"gift_card"}`),
			want: UnhandledAction{Reason: `unknown metadata type "gift_card"`},
		},
		{
			name:    "增加邮箱缺少账户",
			body:    checkoutBody(EventCheckoutSessionPaid, `{"type":"mailbox_addition","mailboxCount":2}`),
			wantErr: ErrMetadataInvalid,
		},
		{
			name:    "数量不是数字",
			body:    checkoutBody(EventCheckoutSessionPaid, `{"type":"mailbox_addition","accountId":"acc_1","mailboxCount":"two"}`),
			wantErr: ErrMetadataInvalid,
		},
		{
			name:    "数量为小数",
			body:    checkoutBody(EventCheckoutSessionPaid, `{"type":"mailbox_addition","accountId":"acc_1","mailboxCount":1.5}`),
			wantErr: ErrMetadataInvalid,
		},
		{
			name:    "数量为零",
			body:    checkoutBody(EventCheckoutSessionPaid, `{"type":"subscription_creation","userId":"u_1","planId":"basic","mailboxCount":0}`),
			wantErr: ErrMetadataInvalid,
		},
		{
			name:    "创建订阅缺少套餐",
			body:    checkoutBody(EventCheckoutSessionPaid, `{"type":"subscription_creation","userId":"u_1","mailboxCount":1}`),
			wantErr: ErrMetadataInvalid,
		},
		{
			name:    "变更套餐缺少账户",
			body:    paymentBody(EventPaymentPaid, `{"planId":"business"}`),
			wantErr: ErrMetadataInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEvent(tt.body)
			require.NoError(t, err)

			got, err := Classify(e)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Unhandled(t *testing.T) {
	t.Run("支付失败事件", func(t *testing.T) {
		e, err := ParseEvent(paymentBody(EventPaymentFailed, `{"type":"mailbox_addition","accountId":"acc_1","mailboxCount":1}`))
		require.NoError(t, err)
		got, err := Classify(e)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionNone, got.Kind())
	})

	t.Run("没有元数据", func(t *testing.T) {
		e, err := ParseEvent([]byte(`{"data":{"id":"evt_1","attributes":{"type":"payment.paid"}}}`))
		require.NoError(t, err)
		got, err := Classify(e)
		require.NoError(t, err)
		assert.Equal(t, UnhandledAction{Reason: "no metadata"}, got)
	})

	t.Run("既没有类型也没有套餐", func(t *testing.T) {
		e, err := ParseEvent(paymentBody(EventPaymentPaid, `{"note":"hi"}`))
		require.NoError(t, err)
		got, err := Classify(e)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionNone, got.Kind())
	})

	t.Run("支付失败事件的元数据不是对象", func(t *testing.T) {
		e, err := ParseEvent(paymentBody(EventPaymentFailed, `"oops"`))
		require.NoError(t, err)
		got, err := Classify(e)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionNone, got.Kind())
	})
}

func TestClassify_MetadataNotObject(t *testing.T) {
	for _, md := range []string{`"not-an-object"`, `[1,2]`, `true`} {
		t.Run(md, func(t *testing.T) {
			e, err := ParseEvent(paymentBody(EventPaymentPaid, md))
			require.NoError(t, err)
			got, err := Classify(e)
			assert.ErrorIs(t, err, ErrMetadataInvalid)
			assert.Nil(t, got)
		})
	}
}

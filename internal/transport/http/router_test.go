package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/board"
	"mailroom/backend/internal/capacity"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/gateway"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/lock"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage/memory"
)

const testSecret = "whsk_router"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router       *gin.Engine
	store        *memory.Store
	provisioning *service.ProvisioningService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDedup(t, nil)
}

// newTestEnvWithDedup 使用指定的事件去重实现，为 nil 时使用内存存储
func newTestEnvWithDedup(t *testing.T, dedup service.EventDeduplicator) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	plans := domain.DefaultPlans()
	plans = append(plans, domain.Plan{ID: "tiny", Name: "Tiny", MaxMailItems: 1, MaxPackageItems: 1, MailboxAccessQuota: 3, DurationDays: 30})
	for i := range plans {
		require.NoError(t, store.SavePlan(ctx, &plans[i]))
	}

	locker := lock.NewKeyedMutex()
	metrics := monitoring.NewMetrics()
	provisioning := service.NewProvisioningService(store, locker, metrics, nil)
	if dedup == nil {
		dedup = store
	}
	reconciler := service.NewReconcilerService(
		gateway.NewVerifier(testSecret, 0),
		provisioning,
		dedup,
		service.ReconcilerOptions{EnforceSignature: true},
		metrics, nil,
	)
	relocation := service.NewRelocationService(store, locker, metrics, nil)

	cfg := &config.Config{
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		Webhook: config.WebhookConfig{SignatureHeader: "Paymongo-Signature"},
	}

	router := NewRouter(RouterDependencies{
		Config:            cfg,
		ReconcilerService: reconciler,
		RelocationService: relocation,
		HealthChecker:     health.NewHealthChecker(store, nil, nil),
		Metrics:           metrics,
	})
	return &testEnv{router: router, store: store, provisioning: provisioning}
}

func (e *testEnv) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postWebhook(body []byte, secret string) *httptest.ResponseRecorder {
	ts := "1700000000"
	sig := fmt.Sprintf("t=%s,te=,li=%s", ts, gateway.Sign(secret, ts, body))
	return e.do(http.MethodPost, "/v1/webhooks/payments", body, map[string]string{"Paymongo-Signature": sig})
}

// seedAccount 开通 tiny 套餐账户（每邮箱信件、包裹各 1 个）并返回按编号排序的邮箱
func (e *testEnv) seedAccount(t *testing.T, userID string, mailboxes int) (*domain.Account, []domain.Mailbox) {
	t.Helper()
	res, err := e.provisioning.CreateSubscriptionAccount(context.Background(), service.CreateSubscriptionInput{
		UserID: userID, PlanID: "tiny", MailboxCount: mailboxes,
	})
	require.NoError(t, err)
	mbs := append([]domain.Mailbox(nil), res.Mailboxes...)
	sort.Slice(mbs, func(i, j int) bool { return mbs[i].Label < mbs[j].Label })
	return res.Account, mbs
}

func paymentBody(eventID string, metadata map[string]interface{}) []byte {
	md, _ := json.Marshal(metadata)
	return []byte(fmt.Sprintf(`{"data":{"id":%q,"attributes":{"type":%q,"data":{"attributes":{"metadata":%s}}}}}`,
		eventID, gateway.EventCheckoutSessionPaid, md))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWebhookEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("支付成功开通订阅账户", func(t *testing.T) {
		env := newTestEnv(t)
		body := paymentBody("evt_1", map[string]interface{}{
			"type": "subscription_creation", "userId": "u-1", "planId": "standard", "mailboxCount": 2,
		})

		rec := env.postWebhook(body, testSecret)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())

		account, err := env.store.GetAccountByUserID(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, 1, account.RemainingMailboxAccess)
		labels, err := env.store.ListUsedLabels(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A1", "A2"}, labels)
	})

	t.Run("签名错误仍返回 200 但不开通", func(t *testing.T) {
		env := newTestEnv(t)
		body := paymentBody("evt_2", map[string]interface{}{
			"type": "subscription_creation", "userId": "u-2", "planId": "basic", "mailboxCount": 1,
		})

		rec := env.postWebhook(body, "wrong-secret")
		assert.Equal(t, http.StatusOK, rec.Code)

		_, err := env.store.GetAccountByUserID(ctx, "u-2")
		assert.Error(t, err)
	})

	t.Run("元数据无效返回 200", func(t *testing.T) {
		env := newTestEnv(t)
		body := paymentBody("evt_3", map[string]interface{}{"type": "mailbox_addition", "count": 1})
		rec := env.postWebhook(body, testSecret)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("元数据不是对象返回 200", func(t *testing.T) {
		env := newTestEnv(t)
		body := []byte(fmt.Sprintf(`{"data":{"id":"evt_str","attributes":{"type":%q,"data":{"attributes":{"metadata":"not-an-object"}}}}}`,
			gateway.EventCheckoutSessionPaid))
		rec := env.postWebhook(body, testSecret)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	})

	t.Run("去重存储故障返回 503 且不开通", func(t *testing.T) {
		env := newTestEnvWithDedup(t, unavailableDedup{})
		account, _ := env.seedAccount(t, "u-4", 1)

		body := paymentBody("evt_add_down", map[string]interface{}{
			"type": "mailbox_addition", "accountId": account.ID, "mailboxCount": 1,
		})
		assert.Equal(t, http.StatusServiceUnavailable, env.postWebhook(body, testSecret).Code)
		assert.Equal(t, http.StatusServiceUnavailable, env.postWebhook(body, testSecret).Code)

		mbs, err := env.store.ListMailboxesByAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Len(t, mbs, 1)
	})

	t.Run("非法 JSON 返回 500", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.postWebhook([]byte(`{"data":`), testSecret)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("重复投递只处理一次", func(t *testing.T) {
		env := newTestEnv(t)
		account, _ := env.seedAccount(t, "u-3", 1)

		body := paymentBody("evt_add", map[string]interface{}{
			"type": "mailbox_addition", "accountId": account.ID, "mailboxCount": "1",
		})
		require.Equal(t, http.StatusOK, env.postWebhook(body, testSecret).Code)
		require.Equal(t, http.StatusOK, env.postWebhook(body, testSecret).Code)

		mbs, err := env.store.ListMailboxesByAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Len(t, mbs, 2)
	})
}

func TestBoardEndpoints(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *domain.Account, []domain.Mailbox) {
		env := newTestEnv(t)
		account, mbs := env.seedAccount(t, "u-board", 2)
		require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "i1", MailboxID: mbs[0].ID, Type: domain.ItemTypeMail}))
		require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "i2", MailboxID: mbs[1].ID, Type: domain.ItemTypeMail}))
		require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "p1", MailboxID: mbs[0].ID, Type: domain.ItemTypePackage}))
		return env, account, mbs
	}

	t.Run("获取看板快照", func(t *testing.T) {
		env, account, mbs := setup(t)
		rec := env.do(http.MethodGet, "/v1/accounts/"+account.ID+"/board", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data domain.BoardSnapshot `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Columns, 2)
		assert.Equal(t, mbs[0].ID, resp.Data.Columns[0].Mailbox.ID)
		assert.Len(t, resp.Data.Columns[0].Items, 2)
		assert.Equal(t, 1, resp.Data.Columns[0].Limits.MaxMailItems)
	})

	t.Run("账户不存在返回 404", func(t *testing.T) {
		env, _, _ := setup(t)
		rec := env.do(http.MethodGet, "/v1/accounts/missing/board", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "账户不存在", decode(t, rec).Msg)
	})

	t.Run("批量移动成功", func(t *testing.T) {
		env, _, mbs := setup(t)
		body := fmt.Sprintf(`{"moves":[{"itemId":"p1","mailboxId":%q}]}`, mbs[1].ID)
		rec := env.do(http.MethodPost, "/v1/board/relocations", []byte(body), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		items, err := env.store.GetMailItems(ctx, []string{"p1"})
		require.NoError(t, err)
		assert.Equal(t, mbs[1].ID, items[0].MailboxID)
	})

	t.Run("容量不足返回 409 且不做修改", func(t *testing.T) {
		env, _, mbs := setup(t)
		body := fmt.Sprintf(`{"moves":[{"itemId":"p1","mailboxId":%q},{"itemId":"i1","mailboxId":%q}]}`, mbs[1].ID, mbs[1].ID)
		rec := env.do(http.MethodPost, "/v1/board/relocations", []byte(body), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "目标邮箱容量不足", decode(t, rec).Msg)

		items, err := env.store.GetMailItems(ctx, []string{"p1"})
		require.NoError(t, err)
		assert.Equal(t, mbs[0].ID, items[0].MailboxID)
	})

	t.Run("未知物品返回 404", func(t *testing.T) {
		env, _, mbs := setup(t)
		body := fmt.Sprintf(`{"moves":[{"itemId":"nope","mailboxId":%q}]}`, mbs[1].ID)
		rec := env.do(http.MethodPost, "/v1/board/relocations", []byte(body), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("请求参数错误返回 400", func(t *testing.T) {
		env, _, _ := setup(t)
		for _, body := range []string{``, `{"moves":[]}`, `{"moves":[{"itemId":"i1"}]}`, `not json`} {
			rec := env.do(http.MethodPost, "/v1/board/relocations", []byte(body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("跨账户移动返回 400", func(t *testing.T) {
		env, _, _ := setup(t)
		_, other := env.seedAccount(t, "u-other", 1)
		body := fmt.Sprintf(`{"moves":[{"itemId":"i1","mailboxId":%q}]}`, other[0].ID)
		rec := env.do(http.MethodPost, "/v1/board/relocations", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBoardClientAgainstRouter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account, mbs := env.seedAccount(t, "u-client", 2)
	require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "i1", MailboxID: mbs[0].ID, Type: domain.ItemTypeMail}))
	require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "i2", MailboxID: mbs[0].ID, Type: domain.ItemTypePackage}))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	b, err := board.New(ctx, account.ID, board.NewHTTPClient(srv.URL, srv.Client()))
	require.NoError(t, err)

	require.NoError(t, b.Move("i1", mbs[1].ID))
	assert.ErrorIs(t, b.Move("i1", "unknown"), board.ErrUnknownMailbox)
	require.NoError(t, b.Save(ctx))
	assert.False(t, b.HasPending())

	items, err := env.store.GetMailItems(ctx, []string{"i1"})
	require.NoError(t, err)
	assert.Equal(t, mbs[1].ID, items[0].MailboxID)

	// 服务端状态被其他人改变后，保存被整批拒绝
	require.NoError(t, env.store.SaveMailItem(ctx, &domain.MailItem{ID: "x", MailboxID: mbs[1].ID, Type: domain.ItemTypePackage}))
	require.NoError(t, b.Move("i2", mbs[1].ID))
	err = b.Save(ctx)
	assert.ErrorIs(t, err, capacity.ErrCapacityExceeded)
	assert.True(t, b.HasPending())
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"OK"`)

	rec = env.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 先产生一次请求指标
	env.do(http.MethodGet, "/v1/accounts/missing/board", nil, nil)
	rec = env.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mailroom_http_requests_total"))
}

func TestErrorMapping(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", &capacity.MoveError{Err: capacity.ErrCapacityExceeded})
	assert.Equal(t, http.StatusConflict, StatusOf(wrapped))
	assert.Equal(t, "目标邮箱容量不足", GetErrorMessage(wrapped))

	assert.Equal(t, http.StatusBadRequest, StatusOf(service.ErrCrossAccountMove))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
	assert.Equal(t, "boom", GetErrorMessage(fmt.Errorf("boom")))
}

type unavailableDedup struct{}

func (unavailableDedup) ClaimEvent(context.Context, *domain.ProcessedEvent) (bool, error) {
	return false, errors.New("connection refused")
}

func (unavailableDedup) ReleaseEvent(context.Context, string) error { return nil }

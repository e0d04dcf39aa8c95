package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可探测连通性的依赖，例如存储或 Redis
type Pinger interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]Pinger
	names  []string
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。store 为必选依赖，redis 可为 nil
func NewHealthChecker(store Pinger, redis Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   make(map[string]Pinger),
		logger: logger,
	}

	hc.add("database", store)
	if redis != nil {
		hc.add("redis", redis)
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))

	return hc
}

// add 依赖不可用时服务仍然存活，但不再接收流量
func (hc *HealthChecker) add(name string, dep Pinger) {
	hc.deps[name] = dep
	hc.names = append(hc.names, name)
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		if err := dep.Health(); err != nil {
			hc.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}, 5*time.Second))
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查，返回每个依赖的状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string, len(hc.names)+1)
	for _, name := range hc.names {
		if err := hc.deps[name].Health(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	if _, ok := results["redis"]; !ok {
		results["redis"] = "NOT_AVAILABLE"
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// Healthy 所有依赖是否正常
func (hc *HealthChecker) Healthy() bool {
	for _, name := range hc.names {
		if hc.deps[name].Health() != nil {
			return false
		}
	}
	return true
}

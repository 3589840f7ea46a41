package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"rentdesk/internal/realtime"
)

// Router 使用标准库 http.ServeMux（方法 + 路径参数模式）
type Router struct {
	mux    *http.ServeMux
	auth   *Authenticator
	logger *zap.Logger
}

func NewRouter(auth *Authenticator, logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		auth:   auth,
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleAuthed 需要 bearer token 的路由
func (r *Router) HandleAuthed(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.auth.Require(h))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// HealthCheck 返回附加信息（合并进响应）；返回错误时 /healthz 为 503
type HealthCheck func(req *http.Request) (map[string]any, error)

// RegisterHealthRoutes 健康检查；check 为 nil 时只返回 ok
func (r *Router) RegisterHealthRoutes(check HealthCheck) {
	r.Handle("GET /healthz", func(w http.ResponseWriter, req *http.Request) {
		out := map[string]any{}
		if check != nil {
			details, err := check(req)
			for k, v := range details {
				out[k] = v
			}
			if err != nil {
				r.logger.Warn("Health check failed", zap.Error(err))
				out["status"] = "unavailable"
				writeJSON(w, http.StatusServiceUnavailable, out)
				return
			}
		}
		out["status"] = "ok"
		writeJSON(w, http.StatusOK, out)
	})
}

// RegisterLeaseRoutes 租约生命周期
func (r *Router) RegisterLeaseRoutes(h *LeaseHandler) {
	r.HandleAuthed("POST /api/leases", h.Create)
	r.HandleAuthed("GET /api/leases", h.List)
	r.HandleAuthed("GET /api/leases/{id}", h.Get)
	r.HandleAuthed("POST /api/leases/{id}/send", h.Send)
	r.HandleAuthed("POST /api/leases/{id}/view", h.View)
	r.HandleAuthed("POST /api/leases/{id}/accept", h.Accept)
	r.HandleAuthed("POST /api/leases/{id}/reject", h.Reject)
	r.HandleAuthed("POST /api/leases/{id}/terminate", h.Terminate)
}

// RegisterPaymentRoutes 收款
func (r *Router) RegisterPaymentRoutes(h *PaymentHandler) {
	r.HandleAuthed("POST /api/payments", h.Record)
	r.HandleAuthed("GET /api/leases/{id}/payments", h.ListByLease)
	r.HandleAuthed("GET /api/leases/{id}/payments/export", h.ExportStatement)
}

// RegisterMpesaRoutes STK Push；callback 由网关调用，不鉴权
func (r *Router) RegisterMpesaRoutes(h *MpesaHandler) {
	r.HandleAuthed("POST /api/mpesa/stk-push", h.STKPush)
	r.HandleAuthed("GET /api/mpesa/transaction/{id}", h.GetTransaction)
	r.Handle("POST /api/mpesa/callback", h.Callback)
}

// RegisterRealtimeRoutes websocket；握手前鉴权，失败返回 401 不升级
func (r *Router) RegisterRealtimeRoutes(hub *realtime.Hub) {
	r.Handle("GET /ws", func(w http.ResponseWriter, req *http.Request) {
		id, ok := r.auth.authenticate(w, req)
		if !ok {
			return
		}
		hub.ServeWS(w, req, id)
	})
}

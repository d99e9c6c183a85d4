// admin_api.go: Admin endpoints for inspecting and steering the limiters at runtime
package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// AdminAPIResponse is the envelope of every admin response.
type AdminAPIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WindowStatus describes one configured window.
type WindowStatus struct {
	Key      string `json:"key"`
	Duration string `json:"duration"`
	Cap      int32  `json:"cap"`
}

// Status is the admin view of the limiters.
type Status struct {
	CounterEnabled     bool           `json:"counter_enabled"`
	TokenBucketEnabled bool           `json:"token_bucket_enabled"`
	ActiveStore        string         `json:"active_store,omitempty"`
	DegradedSince      *time.Time     `json:"degraded_since,omitempty"`
	RatePerSecond      float64        `json:"rate_per_second,omitempty"`
	Windows            []WindowStatus `json:"windows,omitempty"`
}

// AdminAPI serves runtime controls for a Limiters set.
type AdminAPI struct {
	limiters *Limiters
	health   func(ctx context.Context) error
	auth     *AdminAuthenticator
	logger   *zap.Logger
}

// NewAdminAPI wires the endpoints. health, when set, is reported by the health endpoint.
func NewAdminAPI(limiters *Limiters, health func(ctx context.Context) error, logger *zap.Logger) *AdminAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAPI{limiters: limiters, health: health, logger: logger.Named("ratelimit-admin")}
}

// WithAuth guards every admin route with auth. A nil auth leaves them open.
func (api *AdminAPI) WithAuth(auth *AdminAuthenticator) *AdminAPI {
	api.auth = auth
	return api
}

// RegisterRoutes registers admin API routes with a HTTP mux.
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/admin/ratelimit/status", api.auth.Middleware(http.HandlerFunc(api.HandleGetStatus)))
	mux.Handle("/admin/ratelimit/rate", api.auth.Middleware(http.HandlerFunc(api.HandleSetRate)))
	mux.Handle("/admin/ratelimit/reset", api.auth.Middleware(http.HandlerFunc(api.HandleReset)))
	mux.Handle("/admin/ratelimit/health", api.auth.Middleware(http.HandlerFunc(api.HandleHealthCheck)))
}

// Snapshot collects the current Status.
func (api *AdminAPI) Snapshot() Status {
	var st Status
	l := api.limiters
	if l == nil {
		return st
	}
	if l.Counter != nil {
		st.CounterEnabled = true
		for _, w := range l.Counter.Windows() {
			st.Windows = append(st.Windows, WindowStatus{Key: w.Key, Duration: w.Duration.String(), Cap: w.Cap})
		}
	}
	if l.Coordinator != nil {
		cs := l.Coordinator.State()
		st.ActiveStore = cs.Active.String()
		if cs.Degraded() {
			since := cs.DegradedSince
			st.DegradedSince = &since
		}
	}
	if l.TokenBucket != nil {
		st.TokenBucketEnabled = true
		st.RatePerSecond = l.TokenBucket.Rate()
	}
	return st
}

// HandleGetStatus returns the current limiter status.
func (api *AdminAPI) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, AdminAPIResponse{
		Success:   true,
		Message:   "Status retrieved successfully",
		Data:      api.Snapshot(),
		Timestamp: time.Now(),
	})
}

type setRateRequest struct {
	RatePerSecond float64 `json:"rate_per_second"`
}

// HandleSetRate changes the token bucket rate. The rate comes from a JSON
// body or the "value" query parameter.
func (api *AdminAPI) HandleSetRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		api.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if api.limiters == nil || api.limiters.TokenBucket == nil {
		api.writeErrorResponse(w, http.StatusNotFound, "token bucket limiter is disabled")
		return
	}

	var rate float64
	if v := r.URL.Query().Get("value"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			api.writeErrorResponse(w, http.StatusBadRequest, "value must be a number")
			return
		}
		rate = parsed
	} else {
		var req setRateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		rate = req.RatePerSecond
	}

	if err := api.limiters.TokenBucket.SetRate(rate); err != nil {
		api.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	api.logger.Info("token bucket rate updated via admin API", zap.Float64("rate_per_second", rate))
	api.writeJSONResponse(w, http.StatusOK, AdminAPIResponse{
		Success:   true,
		Message:   "Rate updated successfully",
		Data:      map[string]float64{"rate_per_second": rate},
		Timestamp: time.Now(),
	})
}

// HandleReset clears the counters of one mode and principal.
func (api *AdminAPI) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		api.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if api.limiters == nil || api.limiters.Counter == nil {
		api.writeErrorResponse(w, http.StatusNotFound, "counter limiter is disabled")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		api.writeErrorResponse(w, http.StatusBadRequest, "mode parameter is required")
		return
	}
	subject := Subject{Mode: mode, Principal: r.URL.Query().Get("principal")}
	if err := api.limiters.Counter.Reset(r.Context(), subject); err != nil {
		api.logger.Error("admin reset failed", zap.String("mode", mode), zap.Error(err))
		api.writeErrorResponse(w, http.StatusInternalServerError, "failed to reset limit")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, AdminAPIResponse{
		Success:   true,
		Message:   "Rate limit reset successfully",
		Data:      map[string]string{"mode": subject.Mode, "principal": subject.Principal},
		Timestamp: time.Now(),
	})
}

// HandleHealthCheck reports the backing store health and the failover state.
func (api *AdminAPI) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	st := api.Snapshot()
	health := map[string]interface{}{
		"status":       "healthy",
		"active_store": st.ActiveStore,
		"degraded":     st.DegradedSince != nil,
	}
	if st.DegradedSince != nil {
		health["status"] = "degraded"
	}
	if api.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := api.health(ctx); err != nil {
			health["store"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			health["store"] = map[string]string{"status": "healthy"}
		}
	}
	api.writeJSONResponse(w, http.StatusOK, AdminAPIResponse{
		Success:   true,
		Message:   "Health check completed",
		Data:      health,
		Timestamp: time.Now(),
	})
}

func (api *AdminAPI) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (api *AdminAPI) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	api.writeJSONResponse(w, statusCode, AdminAPIResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now(),
	})
}

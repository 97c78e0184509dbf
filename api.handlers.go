package main

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const journalDefaultSize = 20

// Statistics holds app stats for ops.
type Statistics struct {
	version   string
	container bool
	runtime   string
	platform  string
	called    uint64
	started   time.Time
	status    map[int]uint64
	mu        *sync.RWMutex
}

// APIHandler serves the local operations endpoints of the client.
type APIHandler struct {
	logger  *zap.Logger
	config  *Config
	stats   *Statistics
	clock   Clocker
	ids     UIDHandler
	pager   *Pager
	service BookServiceProvider
	metrics http.Handler
}

// NewAPIHandler provides a new instance of APIHandler. metrics serves the
// prometheus exposition of the client collectors.
func NewAPIHandler(
	logger *zap.Logger,
	config *Config,
	stats *Statistics,
	clock Clocker,
	ids UIDHandler,
	pager *Pager,
	service BookServiceProvider,
	metrics http.Handler,
) *APIHandler {
	stats.status = make(map[int]uint64)
	stats.mu = &sync.RWMutex{}
	return &APIHandler{
		logger:  logger,
		config:  config,
		stats:   stats,
		clock:   clock,
		ids:     ids,
		pager:   pager,
		service: service,
		metrics: metrics,
	}
}

// Index redirects to the `Status` handler.
func (api *APIHandler) Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/ops/status", http.StatusSeeOther)
}

// Status tells the client is up and which remote api it talks to.
func (api *APIHandler) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	resp := GenericResponse(requestID, http.StatusOK, "books client is running.", nil, map[string]interface{}{
		"remote": api.config.Remote.BaseURL,
		"uptime": fmt.Sprintf("%.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
	})
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send status response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// export goroutines to be used by expvar handler.
var goroutines = expvar.NewInt("goroutines")

// GetMemStats returns memory statistics with number of goroutines in json.
func GetMemStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	goroutines.Set(int64(runtime.NumGoroutine()))
	expvar.Handler().ServeHTTP(w, r)
}

// RunGC forces the run of the garbage collector asynchronously.
func (api *APIHandler) RunGC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	go runtime.GC()
	resp := GenericResponse(requestID, http.StatusOK, "go runtime.GC() called.", nil, EmptyData)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send run gc response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// FreeOSMemory forces the garbage collector to run and tries to return
// the memory back to the operating system asynchronously.
func (api *APIHandler) FreeOSMemory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	go debug.FreeOSMemory()
	resp := GenericResponse(requestID, http.StatusOK, "go debug.FreeOSMemory() called.", nil, EmptyData)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send free os memory response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// GetStatistics provides runtime details with the pager position and the ops calls
// counters. The request which triggered that is not counted, hence the minus 1.
func (api *APIHandler) GetStatistics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	view := api.pager.View()

	api.stats.mu.RLock()
	status := make(map[int]uint64, len(api.stats.status))
	for code, n := range api.stats.status {
		status[code] = n
	}
	api.stats.mu.RUnlock()

	resp := GenericResponse(requestID, http.StatusOK, "statistics fetched successfully.", nil, map[string]interface{}{
		"app.version":   api.stats.version,
		"app.container": api.stats.container,
		"app.platform":  api.stats.platform,
		"go.version":    api.stats.runtime,
		"called":        atomic.LoadUint64(&api.stats.called) - 1,
		"started":       api.stats.started.Format(time.RFC1123),
		"uptime":        fmt.Sprintf("%.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
		"status":        status,
		"pager": map[string]interface{}{
			"page":        view.Page,
			"total_pages": view.TotalPages,
			"total_count": view.TotalCount,
			"items":       len(view.Items),
			"search":      view.Search,
			"label":       view.Label(),
		},
	})
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send statistics response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// GetConfigs serves current in-use configurations. Secrets are tagged to be skipped.
func (api *APIHandler) GetConfigs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(
		map[string]interface{}{
			"requestid": requestID,
			"configs":   api.config,
		},
	); err != nil {
		api.logger.Error("failed to send settings response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// GetJournal serves the most recent changes recorded by the client.
// Use /ops/journal?n=50 to change the number of entries.
func (api *APIHandler) GetJournal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	n := journalDefaultSize
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			errResp := NewAPIError(requestID, http.StatusBadRequest, "n must be a positive number.", EmptyData)
			if err = WriteErrorResponse(r.Context(), w, errResp); err != nil {
				api.logger.Error("failed to send error response", zap.String("request.id", requestID), zap.Error(err))
			}
			return
		}
		n = parsed
	}

	entries, err := api.service.History(r.Context(), n)
	if err != nil {
		api.logger.Error("failed to read journal", zap.String("request.id", requestID), zap.Error(err))
		errResp := NewAPIError(requestID, http.StatusInternalServerError, "failed to read the journal.", EmptyData)
		if err = WriteErrorResponse(r.Context(), w, errResp); err != nil {
			api.logger.Error("failed to send error response", zap.String("request.id", requestID), zap.Error(err))
		}
		return
	}
	total := len(entries)
	resp := GenericResponse(requestID, http.StatusOK, "journal fetched successfully.", &total, entries)
	if err = WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send journal response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// GetMetrics exposes the client collectors in prometheus format.
func (api *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.metrics.ServeHTTP(w, r)
}

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// SetupOpsRoutes injects the local operations endpoints.
func (api *APIHandler) SetupOpsRoutes(router *httprouter.Router, m *Middlewares) *httprouter.Router {
	router.RedirectTrailingSlash = true
	router.GET("/", m.Chain(api.Index))
	router.GET("/ops/status", m.Chain(api.Status))
	router.GET("/ops/configs", m.Chain(api.GetConfigs))
	router.GET("/ops/stats", m.Chain(api.GetStatistics))
	router.GET("/ops/journal", m.Chain(api.GetJournal))
	router.GET("/ops/metrics", m.Chain(api.GetMetrics))
	router.GET("/ops/debug/vars", m.Chain(GetMemStats))
	router.GET("/ops/debug/gc", m.Chain(api.RunGC))
	router.GET("/ops/debug/fos", m.Chain(api.FreeOSMemory))

	if api.config.ProfilerEnable {
		router.GET("/ops/debug/pprof/", m.Chain(api.OpsHandlerWrapper(http.HandlerFunc(pprof.Index))))
		router.GET("/ops/debug/pprof/profile", m.Chain(api.GetCPUProfile))
		router.GET("/ops/debug/pprof/trace", m.Chain(api.GetTraceProfile))
		router.GET("/ops/debug/pprof/symbol", m.Chain(api.GetSymbol))
		router.GET("/ops/debug/pprof/cmdline", m.Chain(api.GetCmdLine))
		for _, name := range []string{"heap", "allocs", "goroutine", "threadcreate", "block", "mutex"} {
			router.GET("/ops/debug/pprof/"+name, m.Chain(api.OpsHandlerWrapper(pprof.Handler(name))))
		}
	}

	return router
}

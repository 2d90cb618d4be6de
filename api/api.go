package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/pageboard/api/rest"
	"github.com/zlnvch/pageboard/api/ws"
	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/mq"
	"github.com/zlnvch/pageboard/service"
	"github.com/zlnvch/pageboard/store"
	"github.com/zlnvch/pageboard/worker"
)

const batchFlushMilliseconds = 500

type PageboardAPI struct {
	Service     *service.Service
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	wsUpgrader  websocket.Upgrader
	shutdownCtx context.Context
	workers     sync.WaitGroup
}

// NewPageboardAPI wires the relay and starts its background workers. They
// stop when shutdownCtx is done.
func NewPageboardAPI(
	actionStore store.ActionStore,
	purgeQueue mq.MessageQueue,
	pageCache cache.PageCache,
	allowedOrigins []string,
	shutdownCtx context.Context,
) *PageboardAPI {
	wsHub := ws.NewHub(pageCache)
	go wsHub.Run(shutdownCtx)

	actionBatcher := worker.NewActionBatcher(actionStore, batchFlushMilliseconds)
	mqConsumer := worker.NewMQConsumer(purgeQueue, actionStore)

	svc := service.NewService(actionStore, pageCache, purgeQueue, actionBatcher)
	wsHandler := ws.NewHandler(svc, wsHub)

	pageboardAPI := &PageboardAPI{
		Service:     svc,
		restHandler: rest.NewHandler(svc),
		wsHandler:   wsHandler,
		wsUpgrader:  wsHandler.NewWsUpgrader(allowedOrigins),
		shutdownCtx: shutdownCtx,
	}

	pageboardAPI.workers.Add(2)
	go func() {
		defer pageboardAPI.workers.Done()
		actionBatcher.Run(shutdownCtx)
	}()
	go func() {
		defer pageboardAPI.workers.Done()
		mqConsumer.Run(shutdownCtx)
	}()

	return pageboardAPI
}

// Wait blocks until the background workers have flushed and stopped.
func (pageboardAPI *PageboardAPI) Wait() {
	pageboardAPI.workers.Wait()
}

func (pageboardAPI *PageboardAPI) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(pageboardAPI.restHandler.HandleHealth)
	r.Methods(http.MethodGet).Path("/pages/{page:[0-9]+}/history").HandlerFunc(pageboardAPI.restHandler.HandleHistory)
	r.Methods(http.MethodGet).Path("/pages/{page:[0-9]+}/snapshot.png").HandlerFunc(pageboardAPI.restHandler.HandleSnapshot)
	r.Methods(http.MethodGet).Path("/pages/{page:[0-9]+}/export.pdf").HandlerFunc(pageboardAPI.restHandler.HandleExportPDF)

	r.Path("/ws").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageboardAPI.wsHandler.ServeWS(pageboardAPI.wsUpgrader, w, r, pageboardAPI.shutdownCtx)
	})
	return r
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, w, r)
		log.Debug("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

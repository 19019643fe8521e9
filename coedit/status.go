package coedit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

// Read-only JSON view of a synchronizer:
//   GET /status             session, peers and script ownership
//   GET /peers/{peer_id}    one peer record

type StatusServerSettings struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

func DefaultStatusServerSettings() *StatusServerSettings {
	return &StatusServerSettings{
		ListenAddress: "127.0.0.1:0",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

type StatusServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	synchronizer *Synchronizer
	settings     *StatusServerSettings
	router       *mux.Router
	server       *http.Server
}

func NewStatusServerWithDefaults(ctx context.Context, synchronizer *Synchronizer) *StatusServer {
	return NewStatusServer(ctx, synchronizer, DefaultStatusServerSettings())
}

func NewStatusServer(ctx context.Context, synchronizer *Synchronizer, settings *StatusServerSettings) *StatusServer {
	cancelCtx, cancel := context.WithCancel(ctx)

	statusServer := &StatusServer{
		ctx:          cancelCtx,
		cancel:       cancel,
		synchronizer: synchronizer,
		settings:     settings,
	}

	router := mux.NewRouter()
	router.Use(logRequests)
	router.Methods(http.MethodGet).Path("/status").HandlerFunc(statusServer.getStatus)
	router.Methods(http.MethodGet).Path("/peers/{peer_id}").HandlerFunc(statusServer.getPeer)
	statusServer.router = router

	statusServer.server = &http.Server{
		Handler:      router,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return cancelCtx
		},
	}
	return statusServer
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, w, r)
		glog.V(1).Infof("[status]%s %s %d (%s)\n", r.Method, r.URL, m.Code, m.Duration)
	})
}

func (self *StatusServer) Handler() http.Handler {
	return self.router
}

// Serves until closed. Returns the bound address on the channel once listening.
func (self *StatusServer) ListenAndServe(bound chan<- string) error {
	listener, err := net.Listen("tcp", self.settings.ListenAddress)
	if err != nil {
		return err
	}
	glog.Infof("[status]listening on %s\n", listener.Addr())
	if bound != nil {
		bound <- listener.Addr().String()
	}
	go func() {
		<-self.ctx.Done()
		self.server.Close()
	}()
	err = self.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (self *StatusServer) Close() {
	self.cancel()
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		glog.Infof("[status]write error = %s\n", err)
	}
}

func (self *StatusServer) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, self.synchronizer.Status())
}

func (self *StatusServer) getPeer(w http.ResponseWriter, r *http.Request) {
	peerId, err := ParsePeerId(mux.Vars(r)["peer_id"])
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	for _, record := range self.synchronizer.Registry().Records() {
		if record.PeerId == peerId {
			writeJson(w, http.StatusOK, record)
			return
		}
	}
	writeJson(w, http.StatusNotFound, map[string]string{
		"error": ErrUnknownPeer.Error(),
	})
}

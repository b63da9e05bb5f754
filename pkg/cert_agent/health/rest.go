package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// Server exposes the last published snapshot for monitoring systems and
// container orchestration probes.
type Server struct {
	aggregator *_Aggregator
	listener   net.Listener
	httpServer *http.Server
}

// NewServer binds the listen address immediately so an occupied port surfaces
// at startup rather than at the first probe.
func NewServer(listen string, aggregator *_Aggregator) (*Server, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	server := &Server{
		aggregator: aggregator,
		listener:   listener,
	}

	router := mux.NewRouter()
	router.Use(Log)
	router.HandleFunc("/health", server.getHealth).Methods(http.MethodGet)
	router.HandleFunc("/livez", server.getLiveness).Methods(http.MethodGet)
	server.httpServer = &http.Server{
		Handler: router,
	}
	return server, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Run() error {
	logrus.Infof("health endpoint is listening on %s", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	s.httpServer.SetKeepAlivesEnabled(false)
	return s.httpServer.Shutdown(ctx)
}

// getHealth serves the whole snapshot. The HTTP status follows the aggregate
// state so probes can act on the status code alone: an unhealthy agent
// answers 503, a degraded one still answers 200.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.aggregator.Snapshot()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}

	status := http.StatusOK
	if snapshot.Status == model.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		logrus.Warnf("failed to encode health snapshot: %v", err)
	}
}

func (s *Server) getLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

package ca

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ChallengeSolver publishes and withdraws the proof of control for one ACME
// challenge type. The proof material depends on the challenge: an http-01
// solver is handed the key authorization body, a dns-01 solver the TXT record
// value.
type ChallengeSolver interface {
	Supports(challengeType string) bool
	Present(ctx context.Context, domain, token, proof string) error
	CleanUp(ctx context.Context, domain, token, proof string) error
}

type _HTTP01Solver struct {
	listener   net.Listener
	httpServer *http.Server

	mtx    sync.RWMutex
	tokens map[string]string
}

// NewHTTP01Solver returns a standalone http-01 responder. The listener is
// bound immediately so an occupied port surfaces at startup, but no request
// is served until Run.
func NewHTTP01Solver(addr string) (*_HTTP01Solver, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	solver := &_HTTP01Solver{
		listener: listener,
		tokens:   make(map[string]string),
	}

	router := mux.NewRouter()
	router.HandleFunc("/.well-known/acme-challenge/{token}", solver.answerChallenge).Methods(http.MethodGet)
	solver.httpServer = &http.Server{
		Handler: router,
	}
	return solver, nil
}

func (s *_HTTP01Solver) Addr() string {
	return s.listener.Addr().String()
}

func (s *_HTTP01Solver) Run() error {
	logrus.Infof("http-01 responder listens on %s", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *_HTTP01Solver) Close(ctx context.Context) error {
	s.httpServer.SetKeepAlivesEnabled(false)
	return s.httpServer.Shutdown(ctx)
}

func (s *_HTTP01Solver) Supports(challengeType string) bool {
	return challengeType == "http-01"
}

func (s *_HTTP01Solver) Present(ctx context.Context, domain, token, keyAuth string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.tokens[token] = keyAuth
	return nil
}

func (s *_HTTP01Solver) CleanUp(ctx context.Context, domain, token, keyAuth string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *_HTTP01Solver) answerChallenge(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	s.mtx.RLock()
	keyAuth, ok := s.tokens[token]
	s.mtx.RUnlock()
	if !ok {
		logrus.Debugf("http-01 challenge request for unknown token %s", token)
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write([]byte(keyAuth))
}

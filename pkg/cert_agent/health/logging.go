package health

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

type _StatusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *_StatusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &_StatusRecorder{ResponseWriter: w, status: http.StatusOK}
		logrus.Debugf("Request %s %s started.", r.Method, r.URL.Path)
		next.ServeHTTP(recorder, r)
		logrus.Debugf("Request %s %s returned %d", r.Method, r.URL.Path, recorder.status)
	})
}

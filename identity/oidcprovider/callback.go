package oidcprovider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const callbackPage = `<!doctype html><html><body><p>%s You can close this window.</p></body></html>`

type callbackResult struct {
	code  string
	state string
	err   string
}

// callbackServer receives exactly one authorization redirect on the loopback interface.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	resultCh chan callbackResult
	once     sync.Once
}

func startCallbackServer(port int) (*callbackServer, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	s := &callbackServer{
		listener: listener,
		resultCh: make(chan callbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", s.handle)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() { _ = s.server.Serve(listener) }()
	return s, nil
}

func (s *callbackServer) redirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", s.listener.Addr().(*net.TCPAddr).Port)
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code"), state: q.Get("state"), err: q.Get("error")}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if res.err != "" {
			fmt.Fprintf(w, callbackPage, "Sign-in failed.")
		} else {
			fmt.Fprintf(w, callbackPage, "Signed in.")
		}
		s.resultCh <- res
	})
	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

func (s *callbackServer) wait(ctx context.Context) (callbackResult, error) {
	select {
	case res := <-s.resultCh:
		return res, nil
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

func (s *callbackServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

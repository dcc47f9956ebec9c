package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

// Server exposes a Store with the Device Directory HTTP interface.
type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /devices/{id}/sensors/{sensor}", s.handleSensor)
	return mux
}

// Serve answers on ln while feed fills the store. The directory stays up
// after feed returns and shuts down when ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener, feed func(ctx context.Context) error) error {
	srv := &http.Server{Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.Printf("[Directory] HTTP listening on %s", ln.Addr())

	if feed != nil {
		go func() {
			if err := feed(ctx); err != nil {
				log.Printf("[Directory] Feed stopped: %v", err)
			} else {
				log.Printf("[Directory] Feed ended, still serving the last readings")
			}
		}()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.store.Devices())
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	value, err := s.store.Value(r.PathValue("id"), r.PathValue("sensor"))
	if errors.Is(err, ErrUnknownDevice) || errors.Is(err, ErrUnknownSensor) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"value": value})
}

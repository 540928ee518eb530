package feedtines

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{}

type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

// ServeHTTP implements http.Handler. Paths under the configured prefix are
// resolved against the providers; everything else is 404.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := e.log.WithField("request", uuid.NewString())

	defer func() {
		if v := recover(); v != nil {
			logger.WithField("panic", v).Error("request handling error")
			e.reply(w, http.StatusInternalServerError, "Internal Server Error")
		}
	}()

	// The escaped form is forwarded so %23, %3F and %2F reach the provider as sent.
	prefix, path := e.cfg.Prefix, r.URL.EscapedPath()
	if !strings.HasPrefix(path, prefix) {
		e.reply(w, http.StatusNotFound, "Not Found - Only "+prefix+"* paths are supported")
		return
	}

	relPath := strings.TrimPrefix(path, prefix)
	if r.URL.RawQuery != "" {
		relPath += "?" + r.URL.RawQuery
	}

	logger.WithField("path", relPath).Info("requesting")

	body, err := e.Resolve(withLogger(r.Context(), logger), relPath)
	e.stat.addRequest(time.Now(), err == nil)

	var failed *AllProvidersFailedError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(e.cfg.CacheMaxAge))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		metricRequestsCount.WithLabelValues("200").Inc()

	case errors.Is(err, ErrNoEnabledProviders):
		e.reply(w, http.StatusServiceUnavailable, "Service Unavailable - No enabled providers")

	case errors.As(err, &failed):
		e.reply(w, http.StatusServiceUnavailable, "Service Unavailable - All enabled providers failed")

	default:
		logger.WithError(err).Error("request handling error")
		e.reply(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (e *Engine) reply(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(msg))
	metricRequestsCount.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the mux serving feeds, statistics and, when enabled,
// prometheus metrics.
func (e *Engine) Handler() http.Handler {
	return e.handler(nil)
}

func (e *Engine) handler(h *hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", e)
	mux.HandleFunc("/stat", e.statHandler)
	if h != nil {
		mux.HandleFunc("/ws", h.wsHandler)
	}
	if e.cfg.metricsEnabled() {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func (e *Engine) statHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e.stat)
}

// ListenAndServe serves on the configured port until ctx is done, then
// shuts down waiting for in-flight requests.
func (e *Engine) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(e.cfg.Port))
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return e.Serve(ctx, l)
}

// Serve is ListenAndServe on an existing listener.
func (e *Engine) Serve(ctx context.Context, l net.Listener) error {
	h := newHub(e.log)
	srv := &http.Server{Handler: e.handler(h)}

	go h.handleMessages(ctx)
	go e.sendStatistics(ctx, h)

	e.log.WithField("address", l.Addr().String()).Info("server started")
	e.log.Infof("subscribe to http://%s%s<path> in your RSS reader", l.Addr().String(), e.cfg.Prefix)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	e.log.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.closeAll()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}

	e.log.Info("server stopped")
	return nil
}

// sendStatistics periodically broadcasts statistics to connected clients
func (e *Engine) sendStatistics(ctx context.Context, h *hub) {
	ticker := time.NewTicker(time.Duration(e.cfg.StatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p, err := json.Marshal(Payload{"stat", e.stat})
		if err != nil {
			e.log.WithError(err).Warn("marshal statistics")
			continue
		}

		select {
		case h.broadcast <- p:
		case <-ctx.Done():
			return
		}
	}
}

//  ██╗  ██╗██╗   ██╗██████╗
//  ██║  ██║██║   ██║██╔══██╗
//  ███████║██║   ██║██████╔╝
//  ██╔══██║██║   ██║██╔══██╗
//  ██║  ██║╚██████╔╝██████╔╝
//  ╚═╝  ╚═╝ ╚═════╝ ╚═════╝
//

// hub fans dashboard messages out to websocket clients.
type hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	log       log.Interface
	m         sync.Mutex
}

func newHub(l log.Interface) *hub {
	return &hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
		log:       l,
	}
}

func (h *hub) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade")
		return
	}

	h.m.Lock()
	h.clients[conn] = true
	h.m.Unlock()
}

func (h *hub) handleMessages(ctx context.Context) {
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case msg = <-h.broadcast:
		}

		h.m.Lock()
		for c := range h.clients {
			err := c.WriteMessage(websocket.TextMessage, msg)
			if err != nil {
				c.Close()
				delete(h.clients, c)
			}
		}
		h.m.Unlock()
	}
}

func (h *hub) closeAll() {
	h.m.Lock()
	defer h.m.Unlock()

	for c := range h.clients {
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		c.Close()
		delete(h.clients, c)
	}
}

package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"remansim/internal/metrics"
	"remansim/internal/protocol"
	"remansim/internal/sim/runner"
)

const DefaultMaxObservers = 64

type Options struct {
	Logger *zap.Logger
	// AllowRemote accepts observers from non-loopback addresses.
	AllowRemote  bool
	MaxObservers int
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Metrics, when set, counts sessions and dropped ticks.
	Metrics *metrics.Run
}

type subscriber struct {
	every  int
	ticks  chan []byte
	report chan []byte
}

// Server broadcasts one run to websocket observers. It is a runner.Sink; the
// run never waits on a slow observer, which only ever sees the newest tick.
type Server struct {
	log      *zap.Logger
	params   protocol.RunParams
	opts     Options
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	subs     map[string]*subscriber
	day      int
	report   []byte
	finished bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewServer(params protocol.RunParams, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxObservers <= 0 {
		opts.MaxObservers = DefaultMaxObservers
	}
	return &Server{
		log:    opts.Logger,
		params: params,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
		done: make(chan struct{}),
	}
}

// Handler routes the observer endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte("ok\n"))
	})
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// WriteTick fans the record out to every subscriber whose interval matches.
func (s *Server) WriteTick(rec runner.TickRecord) error {
	b, err := json.Marshal(protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Day:             rec.Day,
		Digest:          rec.Digest,
		Snapshot:        rec.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("observer: encode tick: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = rec.Day
	for _, sub := range s.subs {
		if sub.every > 1 && rec.Day%sub.every != 0 {
			continue
		}
		if offerLatest(sub.ticks, b) && s.opts.Metrics != nil {
			s.opts.Metrics.ObserverDrops.Inc()
		}
	}
	return nil
}

// Finish publishes the final report to current and future subscribers.
func (s *Server) Finish(res runner.Result) error {
	b, err := json.Marshal(protocol.ReportMsg{
		Type:            protocol.TypeReport,
		ProtocolVersion: protocol.Version,
		Days:            res.Days,
		Digest:          res.Digest,
		Final:           res.Final,
		Report:          res.Report,
	})
	if err != nil {
		return fmt.Errorf("observer: encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = b
	s.finished = true
	for _, sub := range s.subs {
		select {
		case sub.report <- b:
		default:
		}
	}
	return nil
}

// Close disconnects every observer session.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// offerLatest replaces any pending value in a one-slot channel. It reports
// whether a pending value was discarded. Callers serialize on Server.mu.
func offerLatest(ch chan []byte, b []byte) (dropped bool) {
	for {
		select {
		case ch <- b:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Day:             s.day,
			Finished:        s.finished,
			Run:             s.params,
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code, reason := parseSubscribe(msg)
		if code != "" {
			reject(conn, code, reason, websocket.ClosePolicyViolation)
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		state := &subscriber{
			every:  sub.EveryDays,
			ticks:  make(chan []byte, 1),
			report: make(chan []byte, 1),
		}
		if !s.join(sid, state) {
			s.log.Warn("observer rejected", zap.String("session", sid), zap.String("reason", "busy"))
			reject(conn, protocol.ErrBusy, "server busy", websocket.CloseTryAgainLater)
			return
		}
		defer s.leave(sid)
		s.log.Debug("observer joined", zap.String("session", sid), zap.String("remote", r.RemoteAddr), zap.Int("every_days", state.every))

		welcome, _ := json.Marshal(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			Run:             s.params,
		})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			// pendingTick returns the tick still waiting in the slot, if any.
			pendingTick := func() []byte {
				select {
				case b := <-state.ticks:
					return b
				default:
					return nil
				}
			}
			for {
				var msgs [][]byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-s.done:
					// Flush what was published before Close: the last tick, then the report.
					if b := pendingTick(); b != nil {
						_ = write(b)
					}
					select {
					case b := <-state.report:
						_ = write(b)
					default:
					}
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), time.Now().Add(time.Second))
					// Unblocks the reader loop.
					_ = conn.Close()
					writeErr <- nil
					return
				case b := <-state.ticks:
					msgs = append(msgs, b)
				case b := <-state.report:
					// The report never overtakes the final tick.
					if t := pendingTick(); t != nil {
						msgs = append(msgs, t)
					}
					msgs = append(msgs, b)
				}
				for _, b := range msgs {
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			upd, code, _ := parseSubscribe(msg)
			if code != "" {
				continue
			}
			s.mu.Lock()
			state.every = upd.EveryDays
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Debug("observer left", zap.String("session", sid))
	}
}

func (s *Server) join(sid string, sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) >= s.opts.MaxObservers {
		return false
	}
	s.subs[sid] = sub
	if s.finished {
		sub.report <- s.report
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.Observers.Set(float64(len(s.subs)))
	}
	return true
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sid)
	if s.opts.Metrics != nil {
		s.opts.Metrics.Observers.Set(float64(len(s.subs)))
	}
}

// parseSubscribe returns a non-empty error code when msg is not a usable
// SUBSCRIBE.
func parseSubscribe(msg []byte) (protocol.SubscribeMsg, string, string) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, protocol.ErrProtoBadRequest, "bad subscribe"
	}
	if sub.Type != protocol.TypeSubscribe {
		return sub, protocol.ErrProtoBadRequest, "expected SUBSCRIBE"
	}
	if sub.ProtocolVersion != protocol.Version {
		return sub, protocol.ErrProtoVersion, "unsupported protocol version"
	}
	if sub.EveryDays < 0 {
		return sub, protocol.ErrProtoBadRequest, "every_days must be >= 0"
	}
	if sub.EveryDays == 0 {
		sub.EveryDays = 1
	}
	return sub, "", ""
}

func reject(conn *websocket.Conn, code, reason string, closeCode int) {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         reason,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

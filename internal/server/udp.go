package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Zokiio/ovc-sub005/internal/config"
	"github.com/Zokiio/ovc-sub005/internal/metrics"
	"github.com/Zokiio/ovc-sub005/internal/position"
	"github.com/Zokiio/ovc-sub005/internal/protocol"
	"github.com/Zokiio/ovc-sub005/internal/router"
	"github.com/Zokiio/ovc-sub005/internal/session"
	"github.com/Zokiio/ovc-sub005/internal/voicegroup"
)

// UDPServer owns the relay socket. One receive loop drains the socket and
// dispatches datagrams to a fixed pool of workers sharded by the sender's
// client identifier, so one sender's packets are handled in receipt order
// (sequence-gap detection depends on that) while different senders process
// concurrently. Outbound sends go through a bounded queue so a dead
// listener cannot back-pressure the relay.
type UDPServer struct {
	conn    *net.UDPConn
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessions  *session.Registry
	positions *position.Tracker
	groups    *voicegroup.Store
	router    *router.Router

	adminID    uuid.UUID
	hasAdminID bool

	ctx    context.Context
	cancel context.CancelFunc

	workerChans []chan *inboundDatagram
	sendChan    chan outboundDatagram

	wgReceive sync.WaitGroup // receive loop + sweep loop
	wgWorkers sync.WaitGroup
	wgSender  sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	// Statistics
	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	parseErrors      atomic.Uint64
	unknownSessions  atomic.Uint64
	framesRelayed    atomic.Uint64
	sendsDropped     atomic.Uint64
}

type inboundDatagram struct {
	data       []byte
	remoteAddr *net.UDPAddr
	received   time.Time
}

type outboundDatagram struct {
	data []byte
	addr *net.UDPAddr
}

// NewUDPServer creates the relay transport.
func NewUDPServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	sessions *session.Registry, positions *position.Tracker,
	groups *voicegroup.Store, rtr *router.Router) *UDPServer {

	ctx, cancel := context.WithCancel(context.Background())

	s := &UDPServer{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		sessions:   sessions,
		positions:  positions,
		groups:     groups,
		router:     rtr,
		ctx:        ctx,
		cancel:     cancel,
		sendChan:   make(chan outboundDatagram, cfg.Server.OutboundQueueSize),
		shutdownCh: make(chan struct{}),
	}
	s.adminID, s.hasAdminID = cfg.Relay.AdminID()

	s.workerChans = make([]chan *inboundDatagram, cfg.Server.Workers)
	for i := range s.workerChans {
		s.workerChans[i] = make(chan *inboundDatagram, cfg.Server.InboundQueueSize)
	}
	return s
}

// Start binds the socket and launches the receive loop, workers, outbound
// sender, and idle sweep. A bind failure is the only fatal transport error.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.Server.BindAddress, s.cfg.Server.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.cfg.Server.ReadBufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.cfg.Server.ReadBufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP relay started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("workers", len(s.workerChans)),
		slog.Float64("proximity_radius", s.router.Radius()),
	)

	for i, ch := range s.workerChans {
		s.wgWorkers.Add(1)
		go s.worker(i, ch)
	}

	s.wgSender.Add(1)
	go s.sendLoop()

	s.wgReceive.Add(1)
	go s.sweepLoop()

	s.wgReceive.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the transport: no dangling socket, timer, or
// goroutine. Outbound datagrams already queued are flushed.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP relay...")

	s.cancel()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP socket", slog.String("error", err.Error()))
		}
	}

	// Receive and sweep loops feed the workers; workers feed the sender.
	// Drain in that order so nothing writes to a closed channel.
	s.wgReceive.Wait()
	for _, ch := range s.workerChans {
		close(ch)
	}
	s.wgWorkers.Wait()
	close(s.sendChan)
	s.wgSender.Wait()

	s.logger.Info("UDP relay stopped",
		slog.Uint64("packets_received", s.packetsReceived.Load()),
		slog.Uint64("packets_processed", s.packetsProcessed.Load()),
		slog.Uint64("parse_errors", s.parseErrors.Load()),
		slog.Uint64("frames_relayed", s.framesRelayed.Load()),
	)
	return nil
}

// Addr returns the bound socket address. Valid after Start.
func (s *UDPServer) Addr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// ShutdownRequested is closed when a privileged ServerShutdown packet asks
// the relay to halt.
func (s *UDPServer) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// receiveLoop drains the socket and dispatches datagrams to the worker
// whose index the sender's client identifier hashes to.
func (s *UDPServer) receiveLoop() {
	defer s.wgReceive.Done()

	buffer := make([]byte, 65536)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Read deadline so shutdown is noticed without traffic.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
		}

		s.packetsReceived.Add(1)
		s.metrics.PacketsReceived.Inc()

		if n < protocol.HeaderSize {
			s.parseErrors.Add(1)
			s.metrics.ParseErrors.Inc()
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		dg := &inboundDatagram{
			data:       data,
			remoteAddr: remoteAddr,
			received:   time.Now(),
		}

		select {
		case s.workerChans[s.workerIndex(data)] <- dg:
		default:
			s.metrics.InboundDropped.Inc()
			s.logger.Warn("Worker queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// workerIndex maps the 16 client-identifier bytes onto a worker so all
// packets from one sender land on the same worker.
func (s *UDPServer) workerIndex(data []byte) int {
	h := fnv.New32a()
	h.Write(data[1:protocol.HeaderSize])
	return int(h.Sum32() % uint32(len(s.workerChans)))
}

func (s *UDPServer) worker(id int, ch <-chan *inboundDatagram) {
	defer s.wgWorkers.Done()
	s.logger.Debug("Relay worker started", slog.Int("worker_id", id))
	for dg := range ch {
		s.handleDatagram(dg, id)
	}
	s.logger.Debug("Relay worker stopped", slog.Int("worker_id", id))
}

// handleDatagram processes one datagram. Per-packet errors stay contained
// here; one client's malformed input never affects another session.
func (s *UDPServer) handleDatagram(dg *inboundDatagram, workerID int) {
	pkt, err := protocol.Decode(dg.data)
	if err != nil {
		s.parseErrors.Add(1)
		s.metrics.ParseErrors.Inc()
		s.logger.Debug("Dropping malformed datagram",
			slog.String("remote_addr", dg.remoteAddr.String()),
			slog.Int("packet_size", len(dg.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.packetsProcessed.Add(1)
	s.metrics.PacketsProcessed.Inc()

	switch pkt.Type {
	case protocol.PacketTypeAuthentication:
		s.handleAuthentication(pkt, dg.remoteAddr)
	case protocol.PacketTypeAudio:
		s.handleAudio(pkt, dg.data, false)
	case protocol.PacketTypeTestAudio:
		s.handleAudio(pkt, dg.data, true)
	case protocol.PacketTypeDisconnect:
		s.handleDisconnect(pkt.ClientID, "client request")
	case protocol.PacketTypeServerShutdown:
		s.handleServerShutdown(pkt)
	default:
		// AuthAck and anything else a client should not send.
		s.logger.Debug("Ignoring unexpected packet type",
			slog.String("type", protocol.TypeName(pkt.Type)),
			slog.String("client_id", pkt.ClientID.String()),
		)
	}
}

func (s *UDPServer) handleAuthentication(pkt *protocol.Packet, addr *net.UDPAddr) {
	existed := s.sessions.Has(pkt.ClientID)
	_, err := s.sessions.Register(pkt.ClientID, addr, pkt.Auth.Username)
	status := uint8(protocol.AuthStatusOK)
	if err != nil {
		s.logger.Error("Failed to register session",
			slog.String("client_id", pkt.ClientID.String()),
			slog.String("error", err.Error()),
		)
		status = protocol.AuthStatusRejected
	} else if !existed {
		s.metrics.SessionsCreated.Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	}

	ack := &protocol.Packet{
		Type:     protocol.PacketTypeAuthAck,
		ClientID: pkt.ClientID,
		AuthAck:  &protocol.AuthAckPayload{Status: status},
	}
	data, err := protocol.Encode(ack)
	if err != nil {
		s.logger.Error("Failed to encode auth ack", slog.String("error", err.Error()))
		return
	}
	s.enqueue(data, addr)
}

// handleAudio relays one voice frame. The sender's decode pipeline runs for
// loss tracking and concealment accounting; the compressed bytes are then
// relayed verbatim because every session shares the same codec parameters,
// so per-recipient re-encoding would be redundant transcoding.
func (s *UDPServer) handleAudio(pkt *protocol.Packet, raw []byte, echo bool) {
	sess, ok := s.sessions.Lookup(pkt.ClientID)
	if !ok {
		s.unknownSessions.Add(1)
		s.metrics.UnknownSessionDrop.Inc()
		s.logger.Debug("Audio frame from unknown session",
			slog.String("client_id", pkt.ClientID.String()),
			slog.Uint64("sequence", uint64(pkt.Audio.Sequence)),
		)
		return
	}
	sess.Touch(time.Now())

	frames := sess.Pipeline.Decoder.Decode(pkt.Audio.Data, pkt.Audio.Sequence)
	for _, f := range frames {
		s.metrics.RecordFrame(f.Kind)
	}
	if frames == nil {
		// Duplicate or stale sequence; preserve ordering for listeners.
		s.metrics.FramesStale.Inc()
		return
	}

	if echo {
		s.enqueue(raw, sess.Addr())
		return
	}

	recipients := s.router.Route(pkt.ClientID)
	s.framesRelayed.Add(1)
	s.metrics.RecordRelay(len(recipients))
	for _, rcpt := range recipients {
		s.enqueue(raw, rcpt.Addr())
	}
}

func (s *UDPServer) handleDisconnect(id uuid.UUID, reason string) {
	sess, ok := s.sessions.Remove(id)
	if !ok {
		return
	}
	s.groups.Leave(id)
	s.positions.Remove(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))

	s.logger.Info("Session disconnected",
		slog.String("client_id", id.String()),
		slog.String("username", sess.Username()),
		slog.String("reason", reason),
	)
}

// handleServerShutdown halts the relay when the packet comes from the
// configured admin identity with a live session. Anyone else is ignored.
func (s *UDPServer) handleServerShutdown(pkt *protocol.Packet) {
	if !s.hasAdminID || pkt.ClientID != s.adminID || !s.sessions.Has(pkt.ClientID) {
		s.logger.Warn("Ignoring unprivileged shutdown request",
			slog.String("client_id", pkt.ClientID.String()),
		)
		return
	}

	s.logger.Info("Shutdown requested by admin client",
		slog.String("client_id", pkt.ClientID.String()),
	)

	notice, err := protocol.Encode(&protocol.Packet{
		Type:     protocol.PacketTypeServerShutdown,
		ClientID: s.adminID,
	})
	if err != nil {
		s.logger.Error("Failed to encode shutdown notice", slog.String("error", err.Error()))
	} else {
		for _, sess := range s.sessions.Snapshot() {
			s.enqueue(notice, sess.Addr())
		}
	}

	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// enqueue hands a datagram to the outbound sender without blocking. A full
// queue drops the datagram: audio is perishable and superseded 20 ms later.
func (s *UDPServer) enqueue(data []byte, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	select {
	case s.sendChan <- outboundDatagram{data: data, addr: addr}:
	default:
		s.sendsDropped.Add(1)
		s.metrics.SendsDropped.Inc()
	}
}

func (s *UDPServer) sendLoop() {
	defer s.wgSender.Done()
	for od := range s.sendChan {
		if _, err := s.conn.WriteToUDP(od.data, od.addr); err != nil {
			s.metrics.SendErrors.Inc()
			s.logger.Debug("Failed to send datagram",
				slog.String("addr", od.addr.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sweepLoop evicts idle sessions on a fixed interval, independent of packet
// traffic, and prunes orphaned positions.
func (s *UDPServer) sweepLoop() {
	defer s.wgReceive.Done()

	ticker := time.NewTicker(s.cfg.Relay.GetSweepInterval())
	defer ticker.Stop()

	timeout := s.cfg.Relay.GetIdleTimeout()
	s.logger.Info("Session sweep started",
		slog.Duration("idle_timeout", timeout),
		slog.Duration("interval", s.cfg.Relay.GetSweepInterval()),
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			evicted := s.sessions.SweepExpired(timeout)
			for _, sess := range evicted {
				s.evict(sess)
			}
			pruned := s.positions.Prune(s.sessions.Has)
			if len(evicted) > 0 || pruned > 0 {
				s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
				s.logger.Info("Idle sweep completed",
					slog.Int("evicted", len(evicted)),
					slog.Int("positions_pruned", pruned),
				)
			}
		}
	}
}

// evict tears down an idle session's state and tells the client, the
// synthetic disconnect that keeps router and groups consistent.
func (s *UDPServer) evict(sess *session.Session) {
	s.groups.Leave(sess.ID)
	s.positions.Remove(sess.ID)
	s.metrics.SessionsEvicted.Inc()

	if notice, err := protocol.Encode(&protocol.Packet{
		Type:     protocol.PacketTypeDisconnect,
		ClientID: sess.ID,
	}); err == nil {
		s.enqueue(notice, sess.Addr())
	}

	s.logger.Info("Session evicted by idle sweep",
		slog.String("client_id", sess.ID.String()),
		slog.String("username", sess.Username()),
		slog.Time("last_seen", sess.LastSeen()),
	)
}

// Statistics is a snapshot of transport counters for the monitoring API.
type Statistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	UnknownSessions  uint64 `json:"unknown_session_drops"`
	FramesRelayed    uint64 `json:"frames_relayed"`
	SendsDropped     uint64 `json:"sends_dropped"`
	ActiveSessions   int    `json:"active_sessions"`
	SendQueueSize    int    `json:"send_queue_size"`
	SendQueueCap     int    `json:"send_queue_capacity"`
}

// GetStatistics returns current transport statistics.
func (s *UDPServer) GetStatistics() Statistics {
	return Statistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsProcessed: s.packetsProcessed.Load(),
		ParseErrors:      s.parseErrors.Load(),
		UnknownSessions:  s.unknownSessions.Load(),
		FramesRelayed:    s.framesRelayed.Load(),
		SendsDropped:     s.sendsDropped.Load(),
		ActiveSessions:   s.sessions.Len(),
		SendQueueSize:    len(s.sendChan),
		SendQueueCap:     cap(s.sendChan),
	}
}

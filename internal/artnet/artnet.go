package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
)

// Receiver listens for ArtDMX datagrams on one UDP socket and emits a
// validated Frame per accepted packet. Malformed or foreign packets are
// counted and dropped; nothing here ever retries or fails the stream.
type Receiver struct {
	logger   logger.Logger
	cfg      config.ArtNetConf
	conn     *net.UDPConn
	ctx      context.Context
	received atomic.Uint64
	dropped  atomic.Uint64
	emitted  atomic.Uint64
}

// NewReceiver builds a Receiver for the configured bind address, port and
// universe.
func NewReceiver(log logger.Logger, cfg config.ArtNetConf) *Receiver {
	return &Receiver{
		logger: log,
		cfg:    cfg,
	}
}

// Start binds the UDP socket and launches the receive loop. The loop stops
// when ctx is cancelled or Stop closes the socket.
func (r *Receiver) Start(ctx context.Context, frames chan<- Frame) error {
	ip := net.ParseIP(r.cfg.BindIP)
	if ip == nil {
		return fmt.Errorf("artnet: bad bind address %q", r.cfg.BindIP)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: r.cfg.Port})
	if err != nil {
		return fmt.Errorf("artnet: listen %s:%d: %w", r.cfg.BindIP, r.cfg.Port, err)
	}

	r.conn = conn
	r.ctx = ctx
	r.logger.With(logger.Fields{"module": "artnet"}).Infof("listening on %s, universe %d", conn.LocalAddr(), r.cfg.Universe)

	go r.receiveLoop(frames)
	return nil
}

// Stop closes the socket, which unblocks and ends the receive loop.
func (r *Receiver) Stop() {
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// Stats reports packet counters for the status endpoint.
func (r *Receiver) Stats() (received, dropped, emitted uint64) {
	return r.received.Load(), r.dropped.Load(), r.emitted.Load()
}

// Addr returns the bound socket address, nil before Start. With a zero
// configured port this is where the kernel actually put us.
func (r *Receiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Receiver) receiveLoop(frames chan<- Frame) {
	log := r.logger.With(logger.Fields{"module": "artnet"})
	universe := uint16(r.cfg.Universe)
	buf := make([]byte, 1024)

	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Debug("receive loop stopped")
				return
			}
			log.Errorf("read error: %v", err)
			continue
		}

		r.received.Add(1)
		metrics.AddPacketReceived()

		var f Frame
		if reason := parseArtDMX(buf[:n], universe, &f); reason != "" {
			r.dropped.Add(1)
			metrics.AddPacketDropped(reason)
			log.Debugf("dropped packet (%s), %d bytes", reason, n)
			continue
		}

		select {
		case frames <- f:
			r.emitted.Add(1)
			metrics.AddFrame()
		case <-r.ctx.Done():
			return
		}
	}
}

package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/session counter.
var Stats = &stats{}

type stats struct {
	Sessions       atomic.Int64 // cumulative sessions (client) or relay clients (server)
	ClosedSessions atomic.Int64
	BytesSent      atomic.Int64 // datagram bytes written to the link
	BytesRecv      atomic.Int64 // datagram bytes read from the link
	FramesSent     atomic.Int64
	FramesRecv     atomic.Int64
	Resends        atomic.Int64 // reliable frames retransmitted
	WouldBlock     atomic.Int64 // sends deferred because the link was full
	ParseFaults    atomic.Int64 // undecodable frames or messages
	ProtocolFaults atomic.Int64 // well-formed messages illegal in the current state
	Rooms          atomic.Int64 // rooms currently open on the relay
}

func (s *stats) AddSession()    { s.Sessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}
func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}
func (s *stats) AddResend()        { s.Resends.Add(1) }
func (s *stats) AddWouldBlock()    { s.WouldBlock.Add(1) }
func (s *stats) AddParseFault()    { s.ParseFaults.Add(1) }
func (s *stats) AddProtocolFault() { s.ProtocolFaults.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Prometheus export
// ──────────────────────────────────────────────────────────────────────────────

// RegisterStats exposes Stats on reg under the nodetunnel namespace.
func RegisterStats(reg prometheus.Registerer) {
	factory := promauto.With(reg)

	counter := func(name, help string, v *atomic.Int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "nodetunnel",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	counter("sessions_total", "Sessions opened since process start", &Stats.Sessions)
	counter("sessions_closed_total", "Sessions closed since process start", &Stats.ClosedSessions)
	counter("sent_bytes_total", "Datagram bytes written", &Stats.BytesSent)
	counter("received_bytes_total", "Datagram bytes read", &Stats.BytesRecv)
	counter("sent_frames_total", "Frames written", &Stats.FramesSent)
	counter("received_frames_total", "Frames read", &Stats.FramesRecv)
	counter("resends_total", "Reliable frames retransmitted", &Stats.Resends)
	counter("would_block_total", "Sends deferred because the link could not accept them", &Stats.WouldBlock)
	counter("parse_faults_total", "Frames or messages that failed to decode", &Stats.ParseFaults)
	counter("protocol_faults_total", "Messages rejected in the current session state", &Stats.ProtocolFaults)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nodetunnel",
		Name:      "rooms",
		Help:      "Rooms currently open",
	}, func() float64 { return float64(Stats.Rooms.Load()) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevTotal, prevClosed, prevResends int64
		for {
			select {
			case <-ticker.C:
				total := Stats.Sessions.Load()
				closed := Stats.ClosedSessions.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				resends := Stats.Resends.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				inC := total - prevTotal
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC, resends-prevResends))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed
				prevResends = resends

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC, resends int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓ | Resends: %d",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
		resends,
	)
}

package commands

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/cli/output"
	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/pkg/bufpool"
	"github.com/marmos91/smbtran/pkg/config"
	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/rwproxy"
	"github.com/marmos91/smbtran/pkg/session"
	"github.com/marmos91/smbtran/pkg/transport"
)

// minPingSize leaves room for the sequence number.
const minPingSize = 4

type pingOptions struct {
	count      int
	size       int
	interval   time.Duration
	timeout    time.Duration
	calledName string
	parallel   int
	output     string
}

func newPingCmd() *cobra.Command {
	o := &pingOptions{}

	cmd := &cobra.Command{
		Use:   "ping [host:port]",
		Short: "Open a session and time echo round trips",
		Long: `Open a NetBIOS session to an SMB peer, send numbered messages and
print the round-trip time of each reply. The peer must echo messages back,
as "smbtran echo" does.

Without an address, session.remote from the configuration is used.

Examples:
  # Five round trips to a local echo responder
  smbtran ping 127.0.0.1:1139 -c 5

  # RFC 1002 session request before the first message
  smbtran ping fileserver:139 --called-name FILESRV

  # Pipeline 100 requests over 4 workers
  smbtran ping 127.0.0.1:1139 -c 100 --parallel 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := ""
			if len(args) == 1 {
				remote = args[0]
			}
			return runPing(cmd, o, remote)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.count, "count", "c", 4, "Number of requests to send")
	f.IntVarP(&o.size, "size", "s", 64, "Payload size in bytes")
	f.DurationVarP(&o.interval, "interval", "i", time.Second, "Wait between sequential requests")
	f.DurationVar(&o.timeout, "timeout", 0, "Transport timeout (default: transport.timeout)")
	f.StringVar(&o.calledName, "called-name", "", "NetBIOS name for the session request (default: transport.nbt.called_name)")
	f.IntVar(&o.parallel, "parallel", 0, "Run requests on this many proxy workers instead of one at a time")
	f.StringVarP(&o.output, "output", "o", "table", "Output format (table|json|yaml)")
	return cmd
}

func runPing(cmd *cobra.Command, o *pingOptions, remote string) error {
	if o.count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if o.size < minPingSize {
		return fmt.Errorf("--size must be at least %d", minPingSize)
	}
	format, err := output.ParseFormat(o.output)
	if err != nil {
		return err
	}

	cfg, source, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if o.calledName != "" {
		cfg.Transport.NBT.CalledName = o.calledName
	}
	if o.timeout > 0 {
		cfg.Transport.Timeout = o.timeout
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logger.Debug("Configuration loaded", "source", source)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	sc, err := cfg.SessionConfig("ping", remote, metrics.NewTransportMetrics(), metrics.NewSessionMetrics())
	if err != nil {
		return err
	}

	var pool *rwproxy.Pool
	if o.parallel > 0 {
		pool = rwproxy.New(rwproxy.Config{
			Workers:    o.parallel,
			QueueDepth: max(cfg.Proxy.QueueDepth, o.count),
		})
		pool.Start()
		defer pool.Stop()
	}

	sess, err := session.New(sc, session.DefaultRegistry(), pool)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Open(ctx); err != nil {
		return fmt.Errorf("open session to %s: %w", sc.Remote, err)
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format)
	stats := &pingStats{remote: sc.Remote.String()}

	if pool != nil {
		pingAsync(ctx, sess, o, p, stats)
	} else {
		pingSequential(ctx, sess, o, p, stats)
	}

	if err := p.Print(stats.summary()); err != nil {
		return err
	}
	if stats.received == 0 {
		return fmt.Errorf("no replies from %s", stats.remote)
	}
	return nil
}

func pingSequential(ctx context.Context, sess *session.Session, o *pingOptions, p *output.Printer, stats *pingStats) {
	for seq := 1; seq <= o.count; seq++ {
		if seq > 1 && o.interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.interval):
			}
		}
		if ctx.Err() != nil {
			return
		}

		payload := pingPayload(seq, o.size)
		start := time.Now()
		reply, err := sess.Request(ctx, payload)
		stats.record(p, seq, payload, reply, time.Since(start), err)
		bufpool.Put(payload)
	}
}

func pingAsync(ctx context.Context, sess *session.Session, o *pingOptions, p *output.Printer, stats *pingStats) {
	type pending struct {
		call    *session.Call
		payload []byte
		start   time.Time
	}

	calls := make([]pending, 0, o.count)
	for seq := 1; seq <= o.count; seq++ {
		payload := pingPayload(seq, o.size)
		start := time.Now()
		call, err := sess.RequestAsync(ctx, payload)
		if err != nil {
			stats.record(p, seq, payload, nil, time.Since(start), err)
			bufpool.Put(payload)
			continue
		}
		calls = append(calls, pending{call: call, payload: payload, start: start})
	}

	for _, c := range calls {
		reply, err := c.call.Wait(ctx)
		seq := int(binary.BigEndian.Uint32(c.payload))
		stats.record(p, seq, c.payload, reply, time.Since(c.start), err)
		select {
		case <-c.call.Done():
			bufpool.Put(c.payload)
		default:
			// Still queued or running; leave the buffer to the collector.
		}
	}
}

// pingPayload returns a pooled buffer carrying seq followed by a fill
// pattern, so replies can be matched to requests.
func pingPayload(seq, size int) []byte {
	buf := bufpool.Get(size)
	binary.BigEndian.PutUint32(buf, uint32(seq))
	for i := minPingSize; i < size; i++ {
		buf[i] = byte(i)
	}
	return buf
}

type pingStats struct {
	remote   string
	sent     int
	received int
	mismatch int
	failed   int
	min, max time.Duration
	total    time.Duration
}

func (s *pingStats) record(p *output.Printer, seq int, payload, reply []byte, rtt time.Duration, err error) {
	s.sent++
	if err != nil {
		s.failed++
		p.Status(output.StatusFail, fmt.Sprintf("%s seq=%d code=%s: %v", s.remote, seq, transport.CodeOf(err), err))
		return
	}
	if !bytes.Equal(payload, reply) {
		s.mismatch++
		p.Status(output.StatusWarn, fmt.Sprintf("%s seq=%d bytes=%d reply differs from request", s.remote, seq, len(reply)))
		return
	}

	s.received++
	s.total += rtt
	if s.min == 0 || rtt < s.min {
		s.min = rtt
	}
	if rtt > s.max {
		s.max = rtt
	}
	p.Status(output.StatusOK, fmt.Sprintf("%s seq=%d bytes=%d rtt=%s", s.remote, seq, len(reply), rtt.Round(time.Microsecond)))
}

func (s *pingStats) summary() output.KeyValues {
	var avg time.Duration
	if s.received > 0 {
		avg = s.total / time.Duration(s.received)
	}
	loss := 0.0
	if s.sent > 0 {
		loss = 100 * float64(s.sent-s.received) / float64(s.sent)
	}
	return output.KeyValues{
		{"Remote", s.remote},
		{"Sent", fmt.Sprint(s.sent)},
		{"Received", fmt.Sprint(s.received)},
		{"Mismatched", fmt.Sprint(s.mismatch)},
		{"Failed", fmt.Sprint(s.failed)},
		{"Loss", fmt.Sprintf("%.1f%%", loss)},
		{"RTT min/avg/max", fmt.Sprintf("%s/%s/%s",
			s.min.Round(time.Microsecond), avg.Round(time.Microsecond), s.max.Round(time.Microsecond))},
	}
}

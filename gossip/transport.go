package gossip

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmesh/fleetmesh/types"
)

// Handler processes one inbound envelope and optionally returns a reply
// frame. Returning nil closes the connection without a response.
type Handler func(env *Envelope) *Envelope

// Transport moves gossip envelopes between agents. Implementations carry one
// request frame and at most one response frame per connection.
type Transport interface {
	// Exchange sends env to addr. For pull and push-pull envelopes it waits
	// for the peer's reply frame; for push it returns nil immediately after
	// the write.
	Exchange(ctx context.Context, addr string, env *Envelope) (*Envelope, error)

	// Serve accepts connections on lis and feeds inbound frames to handle
	// until ctx is cancelled. Malformed frames are dropped and their
	// connection closed; they never reach the handler.
	Serve(ctx context.Context, lis net.Listener, handle Handler) error
}

// TCPTransport implements Transport over plain TCP with newline-delimited
// UTF-8 JSON frames.
type TCPTransport struct {
	dialTimeout  time.Duration
	maxFrameSize int
	logger       *zap.Logger
}

// NewTCPTransport creates a transport with the given per-connection dial/IO
// timeout and maximum accepted frame size.
func NewTCPTransport(dialTimeout time.Duration, maxFrameSize int, logger *zap.Logger) *TCPTransport {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPTransport{
		dialTimeout:  dialTimeout,
		maxFrameSize: maxFrameSize,
		logger:       logger.With(zap.String("component", "gossip_transport")),
	}
}

// Exchange implements Transport.
func (t *TCPTransport) Exchange(ctx context.Context, addr string, env *Envelope) (*Envelope, error) {
	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, types.WrapError(types.ErrPeerUnreachable, fmt.Sprintf("dial %s", addr), err)
	}
	defer conn.Close()

	deadline := time.Now().Add(t.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := writeFrame(conn, env); err != nil {
		return nil, types.WrapError(types.ErrPeerUnreachable, fmt.Sprintf("write to %s", addr), err)
	}

	if env.Type != TypePull && env.Type != TypePushPull {
		return nil, nil
	}

	reply, err := readFrame(conn, t.maxFrameSize)
	if err != nil {
		return nil, types.WrapError(types.ErrPeerUnreachable, fmt.Sprintf("read reply from %s", addr), err)
	}
	return reply, nil
}

// Serve implements Transport.
func (t *TCPTransport) Serve(ctx context.Context, lis net.Listener, handle Handler) error {
	// Unblock Accept when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			lis.Close()
		case <-done:
		}
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go t.handleConn(conn, handle)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn, handle Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(t.dialTimeout))

	env, err := readFrame(conn, t.maxFrameSize)
	if err != nil {
		// Malformed input: drop the frame, close the connection, no crash.
		t.logger.Debug("dropping malformed frame",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err),
		)
		return
	}

	reply := handle(env)
	if reply == nil {
		return
	}
	if err := writeFrame(conn, reply); err != nil {
		t.logger.Debug("failed to write reply",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err),
		)
	}
}

func writeFrame(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func readFrame(r io.Reader, maxFrameSize int) (*Envelope, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(maxFrameSize)))
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, types.WrapError(types.ErrMalformedEnvelope, "decode envelope", err)
	}
	return &env, nil
}

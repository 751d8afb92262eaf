package inbound

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

// DefaultDelimiter terminates each socket message.
const DefaultDelimiter byte = 0x13

// DefaultMaxFrame caps one socket message, delimiter excluded.
const DefaultMaxFrame = 1 << 20

var (
	ErrNoJSONObject  = errors.New("inbound: message holds no json object")
	ErrFrameTooLarge = errors.New("inbound: socket frame exceeds limit")
)

type SocketConfig struct {
	// Port <= 0 disables the listener.
	Port        int
	Host        string
	Delimiter   byte
	IdleTimeout time.Duration
	// MaxFrame <= 0 uses DefaultMaxFrame. A client that sends a longer frame
	// is disconnected.
	MaxFrame int
	Logger   zerolog.Logger
}

func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Port:        8443,
		Delimiter:   DefaultDelimiter,
		IdleTimeout: 5 * time.Minute,
		MaxFrame:    DefaultMaxFrame,
		Logger:      zerolog.Nop(),
	}
}

// SocketListener accepts delimiter-framed handler documents, dispatches each
// one and echoes the canonicalized handler back followed by a newline.
type SocketListener struct {
	cfg      SocketConfig
	dispatch Dispatcher
	log      zerolog.Logger
	clients  atomic.Int64
	addr     atomic.Value

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	connWG sync.WaitGroup
}

func NewSocketListener(cfg SocketConfig, dispatch Dispatcher) *SocketListener {
	def := DefaultSocketConfig()
	if cfg.Delimiter == 0 {
		cfg.Delimiter = def.Delimiter
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = def.MaxFrame
	}
	return &SocketListener{
		cfg:      cfg,
		dispatch: dispatch,
		log:      cfg.Logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Enabled reports whether a port is configured.
func (l *SocketListener) Enabled() bool {
	return l.cfg.Port > 0
}

// Addr returns the bound address once serving, or "".
func (l *SocketListener) Addr() string {
	if v, ok := l.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Serve binds the configured port and serves until ctx ends. A disabled
// listener returns nil immediately.
func (l *SocketListener) Serve(ctx context.Context) error {
	if !l.Enabled() {
		l.log.Info().Msg("inbound.socket disabled")
		return nil
	}
	addr := net.JoinHostPort(strings.TrimSpace(l.cfg.Host), fmt.Sprint(l.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.ServeListener(ctx, ln)
}

// ServeListener serves on an already bound listener. When ctx ends it closes
// the listener and every open client connection, and returns only after all
// connection handlers have exited.
func (l *SocketListener) ServeListener(ctx context.Context, ln net.Listener) error {
	l.addr.Store(ln.Addr().String())
	l.log.Info().Str("addr", ln.Addr().String()).Msg("inbound.socket listening")

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = ln.Close()
		l.closeConns()
		l.connWG.Wait()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			l.closeConns()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !l.track(ctx, conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer l.connWG.Done()
			defer l.untrack(conn)
			l.handleConn(ctx, conn)
		}()
	}
}

// track registers conn unless ctx already ended.
func (l *SocketListener) track(ctx context.Context, conn net.Conn) bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	l.conns[conn] = struct{}{}
	l.connWG.Add(1)
	return true
}

func (l *SocketListener) untrack(conn net.Conn) {
	l.connMu.Lock()
	delete(l.conns, conn)
	l.connMu.Unlock()
}

func (l *SocketListener) closeConns() {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	for conn := range l.conns {
		_ = conn.Close()
	}
}

func (l *SocketListener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := l.clients.Add(1)
	l.log.Debug().Str("remote", remote).Int64("active_clients", active).Msg("inbound.socket client connected")
	defer func() {
		remaining := l.clients.Add(-1)
		l.log.Debug().Str("remote", remote).Int64("active_clients", remaining).Msg("inbound.socket client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		msg, err := readFrame(reader, l.cfg.Delimiter, l.cfg.MaxFrame)
		if errors.Is(err, ErrFrameTooLarge) {
			l.log.Warn().Str("remote", remote).Int("max_frame", l.cfg.MaxFrame).Msg("inbound.socket frame too large, dropping client")
			observability.RecordInbound("socket", "oversize")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if len(bytes.TrimSpace(msg)) > 0 {
			reply := l.handleMessage(ctx, remote, msg)
			if _, werr := conn.Write(append(reply, '\n')); werr != nil {
				l.log.Warn().Err(werr).Str("remote", remote).Msg("inbound.socket write failed")
				return
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				l.log.Debug().Err(err).Str("remote", remote).Msg("inbound.socket read ended")
			}
			return
		}
	}
}

// readFrame reads up to and excluding delim. It stops with ErrFrameTooLarge
// as soon as the frame grows past limit, without buffering the rest.
func readFrame(r *bufio.Reader, delim byte, limit int) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice(delim)
		n := len(chunk)
		if err == nil {
			n--
		}
		if len(frame)+n > limit {
			return nil, ErrFrameTooLarge
		}
		frame = append(frame, chunk[:n]...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return frame, err
	}
}

// handleMessage returns the echo for one message. Malformed messages get an
// empty reply and leave the connection open.
func (l *SocketListener) handleMessage(ctx context.Context, remote string, msg []byte) []byte {
	doc, err := TrimToLastBrace(msg)
	if err != nil {
		l.log.Warn().Err(err).Str("remote", remote).Msg("inbound.socket malformed message")
		observability.RecordInbound("socket", "malformed")
		return nil
	}
	h, err := timeline.DecodeHandler(doc)
	if err != nil {
		l.log.Warn().Err(err).Str("remote", remote).Msg("inbound.socket malformed handler")
		observability.RecordInbound("socket", "malformed")
		return nil
	}
	h.Canonicalize()
	if ctx.Err() != nil {
		return nil
	}
	if _, err := l.dispatch.RunCommand(ctx, h); err != nil {
		l.log.Warn().Err(err).Str("remote", remote).Str("kind", h.Kind.String()).Msg("inbound.socket dispatch failed")
		observability.RecordInbound("socket", "rejected")
	} else {
		observability.RecordInbound("socket", "dispatched")
	}
	out, err := timeline.EncodeHandler(h)
	if err != nil {
		l.log.Error().Err(err).Msg("inbound.socket encode reply")
		return nil
	}
	return out
}

// TrimToLastBrace drops anything after the final closing brace.
func TrimToLastBrace(msg []byte) ([]byte, error) {
	idx := bytes.LastIndexByte(msg, '}')
	if idx < 0 {
		return nil, ErrNoJSONObject
	}
	return bytes.TrimSpace(msg[:idx+1]), nil
}

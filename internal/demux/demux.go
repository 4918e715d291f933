// Package demux implements the HTTP/WS Demultiplexer described in
// spec.md §4.6: a single public TCP port that peeks each connection's
// HTTP request head, classifies it as REST or WebSocket-upgrade, and
// splices the raw byte stream verbatim to the matching upstream.
//
// Grounded on _examples/original_source/src/api_gateway.rs: the
// MAX_REQUEST_SIZE=4096 cap, the httparse-based head classification,
// and forward_stream's "write the already-consumed bytes first, then
// bidirectional copy" shape, here done with net/http's request parser
// and io.Copy in place of tokio_util/httparse.
package demux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/logger"
)

// MaxRequestSize is the cap on how many bytes of the request head the
// classifier will buffer before giving up (spec.md §4.6).
const MaxRequestSize = 4096

// Demultiplexer binds the public port and forwards each connection to
// one of two upstreams based on its request head.
type Demultiplexer struct {
	listener  net.Listener
	restAddr  string
	wsAddr    string
}

// New binds port and prepares to forward to the given upstream
// addresses (loopback REST and fan-out ports).
func New(port int, restPort, wsPort int) (*Demultiplexer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, apperr.Transport(err, "bind demultiplexer port %d", port)
	}
	return &Demultiplexer{
		listener: ln,
		restAddr: fmt.Sprintf("127.0.0.1:%d", restPort),
		wsAddr:   fmt.Sprintf("127.0.0.1:%d", wsPort),
	}, nil
}

// Serve accepts connections until the listener is closed, handling each
// in its own goroutine.
func (d *Demultiplexer) Serve() error {
	logger.Demux().Info().Str("addr", d.listener.Addr().String()).Msg("demultiplexer starting")
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return err
		}
		go d.handle(conn)
	}
}

// Close stops accepting new connections.
func (d *Demultiplexer) Close() error {
	return d.listener.Close()
}

// handle classifies one accepted connection's request head, then
// splices the rest of the stream to whichever upstream was selected.
func (d *Demultiplexer) handle(client net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logger.Demux().Error().Interface("panic", r).Msg("demultiplexer connection handler panicked")
		}
	}()

	head, isWebsocket, err := readRequestHead(client)
	if err != nil {
		logger.Demux().Error().Err(err).Msg("classify request head")
		client.Close()
		return
	}

	upstreamAddr := d.restAddr
	if isWebsocket {
		upstreamAddr = d.wsAddr
	}

	upstream, err := net.Dial("tcp", upstreamAddr)
	if err != nil {
		logger.Demux().Error().Err(err).Str("upstream", upstreamAddr).Msg("dial upstream")
		client.Close()
		return
	}

	if _, err := upstream.Write(head); err != nil {
		logger.Demux().Error().Err(err).Msg("write buffered head to upstream")
		client.Close()
		upstream.Close()
		return
	}

	splice(client, upstream)
}

// readRequestHead buffers bytes from conn, attempting to parse an
// HTTP/1 request head after every read, up to MaxRequestSize bytes. It
// returns the exact bytes consumed so they can be forwarded verbatim,
// and whether the request carries an Upgrade: websocket header.
func readRequestHead(conn net.Conn) (head []byte, isWebsocket bool, err error) {
	var buf bytes.Buffer
	chunk := make([]byte, 512)

	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}

		if buf.Len() > MaxRequestSize {
			return nil, false, apperr.CapacityExceeded("request head exceeded %d bytes", MaxRequestSize)
		}

		req, parseErr := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf.Bytes())))
		if parseErr == nil {
			upgrade := req.Header.Get("Upgrade")
			return buf.Bytes(), bytes.EqualFold([]byte(upgrade), []byte("websocket")), nil
		}

		if readErr != nil {
			return nil, false, readErr
		}
	}
}

// splice runs a bidirectional byte copy between client and upstream
// until either side closes, logging byte counts once both directions
// finish. It is half-close-aware: closing the read end of one side
// (io.Copy returning) closes the write end of the other via CloseWrite.
func splice(client, upstream net.Conn) {
	defer client.Close()
	defer upstream.Close()

	done := make(chan int64, 2)

	go func() {
		n, _ := io.Copy(upstream, client)
		closeWrite(upstream)
		done <- n
	}()
	go func() {
		n, _ := io.Copy(client, upstream)
		closeWrite(client)
		done <- n
	}()

	sent := <-done
	received := <-done
	logger.Demux().Debug().Int64("sent", sent).Int64("received", received).Msg("connection closed")
}

type writeCloser interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
	}
}

package firehose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"twimer/internal/config"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// zstdMagic prefixes every zstd frame
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// WebsocketDialer subscribes to a relay that re-publishes the firehose as
// one JSON record per websocket message.
type WebsocketDialer struct {
	Endpoint string

	// Compress asks the relay for zstd frames
	Compress bool

	// ReadTimeout bounds the wait for each message. Zero means 60 seconds.
	ReadTimeout time.Duration
}

func (d *WebsocketDialer) Name() string { return config.TransportWebsocket }

func (d *WebsocketDialer) Dial(ctx context.Context, q Query) (Stream, error) {
	wsURL, err := d.buildWebSocketURL(q)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("failed to build WebSocket URL: %w", err)}
	}

	log.Info().Str("url", wsURL).Msg("firehose: connecting to websocket relay")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		te := &TransportError{Op: "dial", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
			te.Status = resp.Status
		}
		return nil, te
	}
	conn.SetReadLimit(MaxRecordSize)

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("create zstd decoder: %w", err)}
	}

	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &websocketStream{conn: conn, decoder: decoder, timeout: timeout}
	// unblock ReadMessage on cancellation
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

func (d *WebsocketDialer) buildWebSocketURL(q Query) (string, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return "", err
	}

	v := u.Query()
	if len(q.Track) > 0 {
		v.Set("track", strings.Join(q.Track, ","))
	}
	if len(q.Languages) > 0 {
		v.Set("language", strings.Join(q.Languages, ","))
	}
	if d.Compress {
		v.Set("compress", "true")
	}

	u.RawQuery = v.Encode()
	return u.String(), nil
}

type websocketStream struct {
	conn    *websocket.Conn
	decoder *zstd.Decoder
	timeout time.Duration
	stop    func() bool

	closeOnce sync.Once
}

func (s *websocketStream) Next() (Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Message{}, &TransportError{Op: "read", Err: ErrStall}
		}
		return Message{}, &TransportError{Op: "read", Err: err}
	}

	// Zstd compressed data starts with magic number 0x28 0xB5 0x2F 0xFD
	if len(data) >= 4 && string(data[:4]) == string(zstdMagic) {
		decompressed, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			// passed through as-is; the session rejects it at decode time
			log.Warn().Err(err).Msg("firehose: failed to decompress message")
		} else {
			data = decompressed
		}
	}

	return Classify(data), nil
}

func (s *websocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.decoder.Close()
	})
	return err
}

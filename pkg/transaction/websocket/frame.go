package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/ws"

	"github.com/txwire/pkg/protocol"
)

// Opcode identifies the frame type.
type Opcode byte

const (
	OpContinuation = Opcode(ws.OpContinuation)
	OpText         = Opcode(ws.OpText)
	OpBinary       = Opcode(ws.OpBinary)
	OpClose        = Opcode(ws.OpClose)
	OpPing         = Opcode(ws.OpPing)
	OpPong         = Opcode(ws.OpPong)
)

// IsControl reports whether op is a control frame opcode.
func (op Opcode) IsControl() bool { return ws.OpCode(op).IsControl() }

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(%d)", byte(op))
}

var (
	// ErrProtocol reports a frame that violates RFC 6455.
	ErrProtocol = errors.New("websocket: protocol error")
	// ErrFrameTooLarge reports a frame or message above the size limit.
	ErrFrameTooLarge = errors.New("websocket: frame too large")
)

// Frame is a single WebSocket frame.
type Frame struct {
	Fin     bool
	Op      Opcode
	Payload []byte
}

// AppendFrame encodes f onto dst. Client frames must be masked; masking works
// on a copy of the payload.
func AppendFrame(dst []byte, f Frame, mask bool) []byte {
	frame := ws.NewFrame(ws.OpCode(f.Op), f.Fin, f.Payload)
	if mask {
		frame = ws.MaskFrame(frame)
	}
	buf := bytes.NewBuffer(dst)
	// Writes into a bytes.Buffer do not fail.
	_ = ws.WriteFrame(buf, frame)
	return buf.Bytes()
}

// ParseFrame decodes one frame from the front of buf and returns it with the
// number of bytes consumed. protocol.ErrIncomplete is returned while the
// frame is still arriving. limit bounds the payload size; zero disables it.
// Only the rules that hold for any side of the connection are checked.
func ParseFrame(buf []byte, limit int) (Frame, int, error) {
	return parseFrame(buf, limit, checkFrame)
}

// checkFrame applies the header rules that do not depend on the connection
// side or on fragmentation state.
func checkFrame(h ws.Header) error {
	switch {
	case h.OpCode.IsReserved():
		return ws.ErrProtocolOpCodeReserved
	case h.OpCode.IsControl() && h.Length > ws.MaxControlFramePayloadSize:
		return ws.ErrProtocolControlPayloadOverflow
	case h.OpCode.IsControl() && !h.Fin:
		return ws.ErrProtocolControlNotFinal
	case h.Rsv != 0:
		return ws.ErrProtocolNonZeroRsv
	}
	return nil
}

func parseFrame(buf []byte, limit int, check func(ws.Header) error) (Frame, int, error) {
	r := bytes.NewReader(buf)
	h, err := ws.ReadHeader(r)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Frame{}, 0, protocol.ErrIncomplete
	case err != nil:
		return Frame{}, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := check(h); err != nil {
		return Frame{}, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if limit > 0 && h.Length > int64(limit) {
		return Frame{}, 0, ErrFrameTooLarge
	}

	off := len(buf) - r.Len()
	if int64(r.Len()) < h.Length {
		return Frame{}, 0, protocol.ErrIncomplete
	}
	end := off + int(h.Length)

	f := Frame{Fin: h.Fin, Op: Opcode(h.OpCode), Payload: make([]byte, h.Length)}
	copy(f.Payload, buf[off:end])
	if h.Masked {
		ws.Cipher(f.Payload, h.Mask, 0)
	}
	return f, end, nil
}

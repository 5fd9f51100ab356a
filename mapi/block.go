// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"bufio"
	"encoding/binary"
	"io"
)

const (
	// blockHeaderLen is the size of the per-block length prefix: 15 bits of
	// payload length and one "final" bit, little-endian.
	blockHeaderLen = 2

	// maxBlockPayload is the largest payload a block header can describe.
	maxBlockPayload = 1<<15 - 1

	// DefaultBlockSize is the outgoing payload size per block. The server
	// historically frames its own messages in 8190-byte blocks and accepts
	// the same from clients.
	DefaultBlockSize = 8*1024 - 2

	// maxMessageSize caps a single reassembled logical message. A server
	// that exceeds it is considered broken rather than buffered without
	// bound.
	maxMessageSize = 1 << 30
)

// Framer splits outgoing logical messages into length-prefixed blocks and
// reassembles incoming blocks into logical messages. It knows nothing about
// message semantics. A Framer is not safe for concurrent use.
type Framer struct {
	r         *bufio.Reader
	w         *bufio.Writer
	blockSize int
	cur       *messageReader // in-progress incoming message, nil between messages
}

// NewFramer wraps a bidirectional byte stream. blockSize bounds the payload
// of each outgoing block; values outside (0, maxBlockPayload] fall back to
// DefaultBlockSize.
func NewFramer(rw io.ReadWriter, blockSize int) *Framer {
	if blockSize <= 0 || blockSize > maxBlockPayload {
		blockSize = DefaultBlockSize
	}
	return &Framer{
		r:         bufio.NewReaderSize(rw, DefaultBlockSize+blockHeaderLen),
		w:         bufio.NewWriterSize(rw, DefaultBlockSize+blockHeaderLen),
		blockSize: blockSize,
	}
}

// BlockSize returns the outgoing payload size per block.
func (f *Framer) BlockSize() int { return f.blockSize }

// Send writes one logical message as a sequence of blocks, the last one
// carrying the final flag. An empty message becomes a single empty final
// block (the client-side prompt acknowledgement).
func (f *Framer) Send(msg []byte) error {
	var hdr [blockHeaderLen]byte
	for {
		n := len(msg)
		if n > f.blockSize {
			n = f.blockSize
		}
		final := n == len(msg)
		word := uint16(n) << 1
		if final {
			word |= 1
		}
		binary.LittleEndian.PutUint16(hdr[:], word)
		if _, err := f.w.Write(hdr[:]); err != nil {
			return transportErrf(err, "writing block header: %v", err)
		}
		if _, err := f.w.Write(msg[:n]); err != nil {
			return transportErrf(err, "writing block payload: %v", err)
		}
		msg = msg[n:]
		if final {
			break
		}
	}
	if err := f.w.Flush(); err != nil {
		return transportErrf(err, "flushing message: %v", err)
	}
	return nil
}

// Receive reads blocks until one marked final and returns the concatenated
// payload. For incremental consumption of large messages use Stream.
func (f *Framer) Receive() ([]byte, error) {
	msg, err := io.ReadAll(f.Stream())
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Stream returns a reader over the next logical message. It yields payload
// bytes block by block and reports io.EOF once the final block is drained,
// so multi-megabyte tuple streams can be consumed line by line without
// buffering the whole message. The previous message's reader must be fully
// drained before calling Stream again; each call starts a fresh reassembly.
func (f *Framer) Stream() io.Reader {
	f.cur = &messageReader{f: f}
	return f.cur
}

// messageReader reassembles one logical message.
type messageReader struct {
	f         *Framer
	remaining int  // unread bytes of the current block
	final     bool // current block carried the final flag
	total     int
	err       error
}

func (m *messageReader) Read(p []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	for m.remaining == 0 {
		if m.final {
			m.err = io.EOF
			return 0, io.EOF
		}
		if err := m.nextBlock(); err != nil {
			m.err = err
			return 0, err
		}
	}
	if len(p) > m.remaining {
		p = p[:m.remaining]
	}
	n, err := m.f.r.Read(p)
	m.remaining -= n
	if err != nil {
		m.err = transportErrf(err, "reading block payload: %v", err)
		return n, m.err
	}
	return n, nil
}

// nextBlock reads and validates one block header.
func (m *messageReader) nextBlock() error {
	var hdr [blockHeaderLen]byte
	if _, err := io.ReadFull(m.f.r, hdr[:]); err != nil {
		return transportErrf(err, "reading block header: %v", err)
	}
	word := binary.LittleEndian.Uint16(hdr[:])
	length := int(word >> 1)
	if length > maxBlockPayload {
		return transportErrf(nil, "block length %d exceeds maximum %d", length, maxBlockPayload)
	}
	m.total += length
	if m.total > maxMessageSize {
		return transportErrf(nil, "message exceeds %d bytes", maxMessageSize)
	}
	m.remaining = length
	m.final = word&1 == 1
	return nil
}

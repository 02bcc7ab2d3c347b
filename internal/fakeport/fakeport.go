// Package fakeport is an in-memory Transport that behaves like a Maestro with unlimited speed: SetTarget frames
// update the channel position immediately and GetPosition queries are answered from it
package fakeport

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/protocol"
)

// ErrClosed is returned by I/O on a closed Port
var ErrClosed = errors.New("port closed")

// Port records every frame and answers position queries
type Port struct {
	mu sync.Mutex

	frames    [][]byte
	pending   bytes.Buffer
	positions map[int]float64

	// Silent channels never answer position queries
	silent map[int]bool

	writeErr error
	readErr  error
	closed   bool
}

// New creates a Port with all channels at the given positions (in microseconds)
func New(positions ...float64) *Port {
	p := &Port{
		positions: map[int]float64{},
		silent:    map[int]bool{},
	}
	for ch, pos := range positions {
		p.positions[ch] = pos
	}
	return p
}

// Silence makes a channel ignore position queries
func (p *Port) Silence(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[ch] = true
}

// FailWrites makes every following Write return err
func (p *Port) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// FailReads makes every following Read return err
func (p *Port) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// Write records a frame and updates the fake device state
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	frame := bytes.Clone(b)
	p.frames = append(p.frames, frame)

	if len(frame) < 3 || frame[0] != maestro.LeadIn {
		return len(b), nil
	}

	switch frame[2] {
	case protocol.CmdSetTarget:
		if len(frame) == 6 {
			quarter := uint16(frame[4]) | uint16(frame[5])<<7
			p.positions[int(frame[3])] = float64(quarter) / 4
		}
	case protocol.CmdGetPosition:
		ch := int(frame[3])
		if p.silent[ch] {
			break
		}
		v := uint16(p.positions[ch] * 4)
		p.pending.Write([]byte{byte(v), byte(v >> 8)})
	}

	return len(b), nil
}

// Read returns pending response bytes, or io.EOF if there are none
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.pending.Len() == 0 {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

// Close closes the Port
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Frames returns every frame written so far
func (p *Port) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	copy(out, p.frames)
	return out
}

// FramesWithCommand returns the written frames with a command byte
func (p *Port) FramesWithCommand(cmd byte) [][]byte {
	var out [][]byte
	for _, f := range p.Frames() {
		if len(f) >= 3 && f[2] == cmd {
			out = append(out, f)
		}
	}
	return out
}

// Reset forgets the recorded frames
func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

// Position returns the fake device position of a channel
func (p *Port) Position(ch int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[ch]
}

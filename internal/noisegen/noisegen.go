// SPDX-License-Identifier: MIT

// Package noisegen implements the Noise Generator (): dummy-traffic
// Ping/Pong frames emitted at a configurable rate to mask real traffic
// patterns. Grounded on device/device.go's persistentKeepalive timer, the
// closest WireGuard analogue to a periodic liveness-style frame, but
// generalized here to a randomized per-interval schedule rather than one
// fixed interval.
package noisegen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"
)

// Policy bounds one interval's worth of dummy traffic.
type Policy struct {
	MinMessagesPerInterval int
	MaxMessagesPerInterval int
	MinMessageSize         int
	MaxMessageSize         int
	Interval               time.Duration
}

// BandwidthTarget derives a Policy from a target bandwidth envelope
// (bandwidth-driven noise mode).
type BandwidthTarget struct {
	MinBandwidth int // bytes/interval
	MaxBandwidth int // bytes/interval
	Interval     time.Duration
	Saturate     bool
}

// DerivePolicy takes maxMessageSize as the message size and sets
// MaxMessagesPerInterval = floor(MaxBandwidth / size); bandwidth is already
// in bytes per interval, so Interval is not part of the quotient. While the
// quotient is 0 the size is halved. MinMessagesPerInterval is
// MaxMessagesPerInterval scaled by MinBandwidth / MaxBandwidth, or equal to
// it when Saturate is set.
func (b BandwidthTarget) DerivePolicy(maxMessageSize int) (Policy, error) {
	if maxMessageSize <= 0 {
		return Policy{}, fmt.Errorf("noisegen: maxMessageSize must be positive")
	}
	if b.MaxBandwidth <= 0 || b.Interval <= 0 {
		return Policy{}, fmt.Errorf("noisegen: MaxBandwidth and Interval must be positive")
	}

	size := maxMessageSize
	maxMessages := (b.MaxBandwidth) / size
	for maxMessages == 0 && size > 1 {
		size /= 2
		maxMessages = b.MaxBandwidth / size
	}
	if maxMessages == 0 {
		maxMessages = 1
	}

	minMessages := maxMessages
	if !b.Saturate && b.MaxBandwidth > 0 {
		ratio := float64(b.MinBandwidth) / float64(b.MaxBandwidth)
		minMessages = int(float64(maxMessages) * ratio)
	}

	return Policy{
		MinMessagesPerInterval: minMessages,
		MaxMessagesPerInterval: maxMessages,
		MinMessageSize:         size,
		MaxMessageSize:         size,
		Interval:               b.Interval,
	}, nil
}

func randInt(min, max int) (int, error) {
	if max <= min {
		return min, nil
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	span := max - min + 1
	return min + int(binary.BigEndian.Uint32(buf[:])%uint32(span)), nil
}

// Frame is one dummy Ping/Pong frame to emit.
type Frame struct {
	SendAt  time.Duration // offset from the start of the interval
	Payload []byte
}

// Schedule draws a uniformly-distributed (not bursty) set of dummy frame
// send times and random payload sizes for one interval under p.
func Schedule(p Policy) ([]Frame, error) {
	count, err := randInt(p.MinMessagesPerInterval, p.MaxMessagesPerInterval)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, count)
	for i := range frames {
		offsetNanos, err := randInt(0, int(p.Interval.Nanoseconds()))
		if err != nil {
			return nil, err
		}
		size, err := randInt(p.MinMessageSize, p.MaxMessageSize)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size)
		if _, err := rand.Read(payload); err != nil {
			return nil, err
		}
		frames[i] = Frame{SendAt: time.Duration(offsetNanos), Payload: payload}
	}
	return frames, nil
}

// Generator runs Schedule on a ticking interval and delivers frames to Emit
// until Stop is called. Suppressed entirely while Suspended returns true
// ("Noise is suppressed for suspended peers").
type Generator struct {
	Policy    Policy
	Emit      func(Frame)
	Suspended func() bool

	stop chan struct{}
	done chan struct{}
}

func (g *Generator) Start() {
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.run()
}

func (g *Generator) Stop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
}

func (g *Generator) run() {
	defer close(g.done)
	ticker := time.NewTicker(g.Policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if g.Suspended != nil && g.Suspended() {
				continue
			}
			frames, err := Schedule(g.Policy)
			if err != nil {
				continue
			}
			start := time.Now()
			sort.Slice(frames, func(i, j int) bool { return frames[i].SendAt < frames[j].SendAt })
			for _, f := range frames {
				timer := time.NewTimer(time.Until(start.Add(f.SendAt)))
				select {
				case <-timer.C:
					g.Emit(f)
				case <-g.stop:
					timer.Stop()
					return
				}
			}
		}
	}
}

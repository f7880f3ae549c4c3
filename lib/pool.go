package lib

import (
	"fmt"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"
)

// ErrPoolExhausted reports that no payload chunk is currently available.
var ErrPoolExhausted = errors.New("payload pool exhausted")

// Pool provides the payload chunks backing every queued segment. One pool per
// process; sized for the largest payload a segment can carry.
var (
	Pool         *rp.RingPool
	bufferLength = DefaultMSS
	emptySlice   []byte
)

// InitPool creates the payload pool. Calling it again is a no-op, so library
// users and tests may both call it freely.
func InitPool(poolSize, payloadSize int, debug bool, processTimeThreshold time.Duration) {
	if Pool != nil {
		return
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if payloadSize > 0 {
		bufferLength = payloadSize
	}
	emptySlice = make([]byte, bufferLength)

	rp.Debug = debug
	Pool = rp.NewRingPool("SFT: ", poolSize, NewPayload, bufferLength)
	Pool.Debug = debug
	if processTimeThreshold > 0 {
		Pool.ProcessTimeThreshold = processTimeThreshold
	}
}

// Payload represents a packet payload byte slice backed by the ring pool.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload creates a pool element's data buffer.
func NewPayload(params ...interface{}) rp.DataInterface {
	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

// Reset resets the content of the payload
func (p *Payload) Reset() {
	copy(p.payloadBytes, emptySlice)
	p.length = 0
}

// PrintContent prints the content of the payload
func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("payload copy: source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("payload copy: source byte slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}

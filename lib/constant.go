package lib

import "time"

// Flag constants
const (
	SYNFlag uint8 = 1 << 0
	ACKFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 2
	RSTFlag uint8 = 1 << 3
	PSHFlag uint8 = 1 << 4
)

const (
	HeaderLength  = 20   // fixed segment header, no options
	MaxPacketSize = 1400 // header + payload; keeps a segment under typical MTU
)

// Defaults used when no ConnectionConfig is supplied.
const (
	DefaultMSS        = MaxPacketSize - HeaderLength
	DefaultMaxRwnd    = 256 * 1024
	DefaultCwndBytes  = 100 * 1400
	DefaultRTO        = 200 * time.Millisecond
	DefaultMaxDupAcks = 3
	DefaultTimeWait   = 1 * time.Second
	DefaultPoolSize   = 2000
)

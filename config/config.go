package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the transport engine and the file transfer
// applications. Values left out of the YAML file keep their defaults.
type Config struct {
	// Engine settings
	PreferredMSS    int  `yaml:"preferredMSS"`    // maximum payload bytes per segment
	MaxRwnd         int  `yaml:"maxRwnd"`         // receive buffer capacity in bytes
	CwndBytes       int  `yaml:"cwndBytes"`       // fixed in-flight cap in bytes
	RtoMs           int  `yaml:"rtoMs"`           // retransmission timeout in milliseconds
	MaxDupAcks      int  `yaml:"maxDupAcks"`      // duplicate ACK threshold for fast retransmit
	TimeWaitMs      int  `yaml:"timeWaitMs"`      // linger before TIME_WAIT collapses to CLOSED
	PayloadPoolSize int  `yaml:"payloadPoolSize"` // number of payload chunks in the ring pool
	TOS             int  `yaml:"tos"`             // optional DSCP/TOS marking for outgoing datagrams
	Debug           bool `yaml:"debug"`           // verbose engine logging
	PoolDebug       bool `yaml:"poolDebug"`       // ring pool chunk tracing

	// Application settings
	ServerIP   string `yaml:"serverIP"`
	ServerPort int    `yaml:"serverPort"`
}

func DefaultConfig() *Config {
	return &Config{
		PreferredMSS:    1380,
		MaxRwnd:         256 * 1024,
		CwndBytes:       100 * 1400,
		RtoMs:           200,
		MaxDupAcks:      3,
		TimeWaitMs:      1000,
		PayloadPoolSize: 2000,
		TOS:             0,
		Debug:           false,
		PoolDebug:       false,
		ServerIP:        "127.0.0.1",
		ServerPort:      8080,
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults. A missing
// file is not an error; callers simply get the defaults back.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}

	return conf, nil
}

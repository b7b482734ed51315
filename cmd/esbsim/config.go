package main

import (
	"fmt"
	"os"
	"time"

	"github.com/flynn/json5"

	"github.com/michcald/esb"
	"github.com/michcald/esb/radiosim"
)

// simConfig describes a simulated link. It is read from JSON5 files and
// stored in capture files.
type simConfig struct {
	Protocol         string  `json:"protocol"`
	Bitrate          string  `json:"bitrate"`
	CRC              string  `json:"crc"`
	Channel          uint8   `json:"channel"`
	AddressLength    int     `json:"address_length"`
	PayloadLength    uint8   `json:"payload_length"`
	RetransmitDelay  uint16  `json:"retransmit_delay"`
	RetransmitCount  uint16  `json:"retransmit_count"`
	SelectiveAutoAck bool    `json:"selective_auto_ack"`
	Seed             uint64  `json:"seed"`
	Loss             float64 `json:"loss"`
	LatencyUS        int64   `json:"latency_us"`
}

func defaultSimConfig() simConfig {
	d := esb.DefaultConfig()
	return simConfig{
		Protocol:         d.Protocol.String(),
		Bitrate:          d.Bitrate.String(),
		CRC:              d.CRC.String(),
		Channel:          2,
		AddressLength:    esb.MaxAddressLength,
		PayloadLength:    d.PayloadLength,
		RetransmitDelay:  1000,
		RetransmitCount:  3,
		SelectiveAutoAck: true,
		Seed:             1,
	}
}

// loadSimConfig reads path on top of the defaults, so a file only needs
// the fields it changes.
func loadSimConfig(path string) (simConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return simConfig{}, fmt.Errorf("read config: %w", err)
	}
	c := defaultSimConfig()
	if err := json5.Unmarshal(data, &c); err != nil {
		return simConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func (c simConfig) validate() error {
	if c.Loss < 0 || c.Loss > 1 {
		return fmt.Errorf("loss %v not in 0..1", c.Loss)
	}
	if c.LatencyUS < 0 {
		return fmt.Errorf("negative latency %dus", c.LatencyUS)
	}
	if c.Channel > esb.MaxChannel {
		return fmt.Errorf("channel %d above %d", c.Channel, esb.MaxChannel)
	}
	if c.AddressLength < esb.MinAddressLength || c.AddressLength > esb.MaxAddressLength {
		return fmt.Errorf("address length %d not in %d..%d", c.AddressLength, esb.MinAddressLength, esb.MaxAddressLength)
	}
	_, err := c.engineConfig(esb.ModePTX, nil)
	return err
}

// engineConfig returns the engine configuration for one end of the link.
func (c simConfig) engineConfig(mode esb.Mode, h esb.EventHandler) (esb.Config, error) {
	cfg := esb.DefaultConfig()
	var err error
	if cfg.Protocol, err = esb.ParseProtocol(c.Protocol); err != nil {
		return cfg, err
	}
	if cfg.Bitrate, err = esb.ParseBitrate(c.Bitrate); err != nil {
		return cfg, err
	}
	if cfg.CRC, err = esb.ParseCRC(c.CRC); err != nil {
		return cfg, err
	}
	cfg.Mode = mode
	cfg.PayloadLength = c.PayloadLength
	cfg.RetransmitDelay = c.RetransmitDelay
	cfg.RetransmitCount = c.RetransmitCount
	cfg.SelectiveAutoAck = c.SelectiveAutoAck
	cfg.EventHandler = h
	return cfg, cfg.Validate()
}

func (c simConfig) mediumOptions() []radiosim.Option {
	opts := []radiosim.Option{radiosim.WithLoss(c.Loss, c.Seed)}
	if c.LatencyUS > 0 {
		opts = append(opts, radiosim.WithLatency(time.Duration(c.LatencyUS)*time.Microsecond))
	}
	return opts
}

// exchangeTimeout bounds the wait for one payload's outcome.
func (c simConfig) exchangeTimeout() time.Duration {
	perAttempt := time.Duration(c.RetransmitDelay)*time.Microsecond + time.Duration(c.LatencyUS)*2*time.Microsecond
	return perAttempt*time.Duration(c.RetransmitCount+1) + time.Second
}

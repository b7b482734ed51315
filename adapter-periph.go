//go:build !tinygo

package esb

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	if err := p.PinIO.In(gpio.PullUp, periphEdge(edge)); err != nil {
		return err
	}

	stop := make(chan struct{})
	p.stopWatch = stop
	go func() {
		for {
			fired := p.PinIO.WaitForEdge(-1)
			select {
			case <-stop:
				return
			default:
			}
			if fired {
				handler()
			}
		}
	}()
	return nil
}

func periphEdge(e Edge) gpio.Edge {
	switch e {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	case BothEdges:
		return gpio.BothEdges
	}
	return gpio.NoEdge
}

func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	return p.PinIO.In(gpio.PullUp, gpio.NoEdge)
}

// NRF24Config holds the wiring of an nRF24L01+ on a Linux host.
type NRF24Config struct {
	// CEPin is the BCM number of the Chip Enable pin. Zero means 25.
	CEPin int
	// IRQPin is the BCM number of the IRQ pin. Zero means no IRQ line;
	// the radio then polls STATUS.
	IRQPin int
	// SpiBusPath defaults to "/dev/spidev0.0".
	SpiBusPath string
	// SpiClockHz defaults to 1 MHz.
	SpiClockHz int
}

func (c NRF24Config) withDefaults() NRF24Config {
	if c.CEPin == 0 {
		c.CEPin = 25
	}
	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}
	if c.SpiClockHz == 0 {
		c.SpiClockHz = 1_000_000
	}
	return c
}

func openGPIO(role string, bcm int) (*realPin, error) {
	name := fmt.Sprintf("GPIO%d", bcm)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: no %s pin %s", ErrPkg, role, name)
	}
	return &realPin{PinIO: pin}, nil
}

// OpenNRF24 opens the SPI bus and GPIO pins through periph.io and returns
// the radio ready to be handed to New.
func OpenNRF24(c NRF24Config) (*NRF24, error) {
	c = c.withDefaults()
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %w", ErrPkg, err)
	}

	port, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrPkg, c.SpiBusPath, err)
	}
	dev, err := openOnPort(port, c)
	if err != nil {
		port.Close()
		return nil, err
	}
	dev.port = port
	return dev, nil
}

func openOnPort(port spi.Port, c NRF24Config) (*NRF24, error) {
	conn, err := port.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: spi connect: %w", ErrPkg, err)
	}
	ce, err := openGPIO("CE", c.CEPin)
	if err != nil {
		return nil, err
	}
	var irq Pin
	if c.IRQPin != 0 {
		pin, err := openGPIO("IRQ", c.IRQPin)
		if err != nil {
			return nil, err
		}
		irq = pin
	}
	return NewNRF24(conn, ce, irq)
}

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/internal/hcsim"
	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class/keyboard"
	"github.com/halfdome/xhci/usb/class/mouse"
	"github.com/halfdome/xhci/xhci"
)

// Run brings up the emulated controller, enumerates the attached device
// profiles, and streams synthetic input reports through the stack.
type Run struct {
	Profiles []string `help:"Device profiles to attach: built-in name or profile file path" default:"hid-mouse" env:"XHCID_PROFILES"`
	Ports    uint8    `help:"Root hub port count" default:"4" env:"XHCID_PORTS"`
	Slots    uint8    `help:"Device slot count" default:"8" env:"XHCID_SLOTS"`
	Reports  int      `help:"Synthetic input reports to inject per device" default:"8" env:"XHCID_REPORTS"`
	Arena    int      `help:"DMA arena size in bytes" default:"4194304" env:"XHCID_ARENA"`
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger) error {
	arena, err := dma.NewArena(r.Arena)
	if err != nil {
		return fmt.Errorf("allocating DMA arena: %w", err)
	}

	hc := hcsim.New(arena, hcsim.Config{Ports: r.Ports, Slots: r.Slots}, logger)
	ctrl := xhci.New(hc, arena, xhci.Config{
		Slots:           r.Slots,
		CommandRingSize: xhci.DefaultConfig.CommandRingSize,
		EventRingSize:   xhci.DefaultConfig.EventRingSize,
	}, logger)

	mouse.SetHandler(func(buttons uint8, dx, dy int8) {
		logger.Info("mouse report", "buttons", fmt.Sprintf("%03b", buttons), "dx", dx, "dy", dy)
	})
	keyboard.SetHandler(func(modifiers, keycode uint8) {
		logger.Info("key press", "modifiers", fmt.Sprintf("%08b", modifiers), "keycode", keycode)
	})

	// Devices are attached before the controller comes up, as at power-on;
	// ConfigurePorts discovers them once the event ring is armed.
	profiles := make([]hcsim.Profile, 0, len(r.Profiles))
	for i, name := range r.Profiles {
		p, err := hcsim.ResolveProfile(name)
		if err != nil {
			return err
		}
		dev, err := hcsim.NewDevice(p)
		if err != nil {
			return err
		}
		port := uint8(i + 1)
		if err := hc.Attach(port, dev); err != nil {
			return err
		}
		profiles = append(profiles, p)
		logger.Info("device attached", "port", port, "profile", p.Name,
			"id", fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID))
	}

	if err := ctrl.Init(); err != nil {
		return err
	}
	if err := ctrl.Run(); err != nil {
		return err
	}
	ctrl.ConfigurePorts()
	if err := drain(ctrl); err != nil {
		return err
	}

	for i := 0; i < r.Reports; i++ {
		for pi, p := range profiles {
			port := uint8(pi + 1)
			if err := hc.QueueReport(port, 0x81, syntheticReport(p, i)); err != nil {
				return err
			}
			if err := drain(ctrl); err != nil {
				return err
			}
		}
	}
	return nil
}

// drain pumps the event loop until the ring is empty. The emulation
// produces events synchronously, so an empty ring means quiescence.
func drain(ctrl *xhci.Controller) error {
	for ctrl.Pending() {
		if err := ctrl.ProcessEvent(); err != nil {
			return err
		}
	}
	return nil
}

// syntheticReport fabricates a boot-protocol input report matching the
// profile's device class.
func syntheticReport(p hcsim.Profile, i int) []byte {
	if len(p.Interfaces) > 0 && p.Interfaces[0].Protocol == usb.ProtocolKeyboard {
		// 'a' + i, no modifiers
		return []byte{0, 0, uint8(0x04 + i%26), 0, 0, 0, 0, 0}
	}
	return []byte{uint8(i % 2), uint8(int8(5 + i)), uint8(int8(-3 - i))}
}

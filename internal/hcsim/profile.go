package hcsim

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/halfdome/xhci/usb"
)

// Profile describes an emulated device: identity plus the interface and
// endpoint layout its configuration descriptor reports. Profiles load
// from YAML or TOML files, or come from the built-in set.
type Profile struct {
	Name       string             `yaml:"name" toml:"name"`
	VendorID   uint16             `yaml:"vendor_id" toml:"vendor_id"`
	ProductID  uint16             `yaml:"product_id" toml:"product_id"`
	Speed      string             `yaml:"speed" toml:"speed"` // low, full, high, super
	Interfaces []InterfaceProfile `yaml:"interfaces" toml:"interfaces"`
}

// InterfaceProfile is one interface of the configuration.
type InterfaceProfile struct {
	Class     uint8             `yaml:"class" toml:"class"`
	SubClass  uint8             `yaml:"subclass" toml:"subclass"`
	Protocol  uint8             `yaml:"protocol" toml:"protocol"`
	Endpoints []EndpointProfile `yaml:"endpoints" toml:"endpoints"`
}

// EndpointProfile is one endpoint. Address is the bEndpointAddress
// encoding (0x81 = endpoint 1 IN).
type EndpointProfile struct {
	Address       uint8  `yaml:"address" toml:"address"`
	Type          string `yaml:"type" toml:"type"` // control, isochronous, bulk, interrupt
	MaxPacketSize uint16 `yaml:"max_packet_size" toml:"max_packet_size"`
	Interval      uint8  `yaml:"interval" toml:"interval"`
}

func transferTypeBits(s string) (uint8, error) {
	switch s {
	case "control":
		return uint8(usb.TransferControl), nil
	case "isochronous":
		return uint8(usb.TransferIsochronous), nil
	case "bulk":
		return uint8(usb.TransferBulk), nil
	case "interrupt", "":
		return uint8(usb.TransferInterrupt), nil
	default:
		return 0, fmt.Errorf("hcsim: unknown endpoint type %q", s)
	}
}

// descriptors builds the device and configuration descriptors the
// emulated device serves.
func (p Profile) descriptors() (usb.DeviceDescriptor, usb.Config) {
	desc := usb.DeviceDescriptor{
		BcdUSB:             0x0200,
		BMaxPacketSize0:    64,
		IDVendor:           p.VendorID,
		IDProduct:          p.ProductID,
		BcdDevice:          0x0100,
		BNumConfigurations: 1,
	}
	cfg := usb.Config{Header: usb.ConfigHeader{
		BConfigurationValue: 1,
		BMAttributes:        0xA0, // bus powered, remote wakeup
		BMaxPower:           50,
	}}
	for i, ip := range p.Interfaces {
		ic := usb.InterfaceConfig{Descriptor: usb.InterfaceDescriptor{
			BInterfaceNumber:   uint8(i),
			BInterfaceClass:    ip.Class,
			BInterfaceSubClass: ip.SubClass,
			BInterfaceProtocol: ip.Protocol,
		}}
		for _, ep := range ip.Endpoints {
			bits, err := transferTypeBits(ep.Type)
			if err != nil {
				bits = uint8(usb.TransferInterrupt)
			}
			ic.Endpoints = append(ic.Endpoints, usb.EndpointDescriptor{
				BEndpointAddress: ep.Address,
				BMAttributes:     bits,
				WMaxPacketSize:   ep.MaxPacketSize,
				BInterval:        ep.Interval,
			})
		}
		cfg.Interfaces = append(cfg.Interfaces, ic)
	}
	return desc, cfg
}

// MouseProfile is the built-in HID boot mouse.
func MouseProfile() Profile {
	return Profile{
		Name:      "hid-mouse",
		VendorID:  0x1bcf,
		ProductID: 0x0005,
		Speed:     "full",
		Interfaces: []InterfaceProfile{{
			Class:    usb.ClassHID,
			SubClass: usb.SubClassHIDBoot,
			Protocol: usb.ProtocolMouse,
			Endpoints: []EndpointProfile{{
				Address: 0x81, Type: "interrupt", MaxPacketSize: 8, Interval: 10,
			}},
		}},
	}
}

// KeyboardProfile is the built-in HID boot keyboard.
func KeyboardProfile() Profile {
	return Profile{
		Name:      "hid-keyboard",
		VendorID:  0x04d9,
		ProductID: 0x0169,
		Speed:     "full",
		Interfaces: []InterfaceProfile{{
			Class:    usb.ClassHID,
			SubClass: usb.SubClassHIDBoot,
			Protocol: usb.ProtocolKeyboard,
			Endpoints: []EndpointProfile{{
				Address: 0x81, Type: "interrupt", MaxPacketSize: 8, Interval: 10,
			}},
		}},
	}
}

// Builtins returns the built-in profiles.
func Builtins() []Profile {
	return []Profile{MouseProfile(), KeyboardProfile()}
}

// ResolveProfile returns a built-in profile by name, or loads a profile
// file when the name does not match a built-in.
func ResolveProfile(name string) (Profile, error) {
	for _, p := range Builtins() {
		if p.Name == name {
			return p, nil
		}
	}
	return LoadProfile(name)
}

// LoadProfile reads a profile from a YAML or TOML file, chosen by
// extension.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("hcsim: reading profile: %w", err)
	}
	var p Profile
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	default:
		return Profile{}, fmt.Errorf("hcsim: profile %s: unsupported format", path)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("hcsim: parsing profile %s: %w", path, err)
	}
	if len(p.Interfaces) == 0 {
		return Profile{}, fmt.Errorf("hcsim: profile %s has no interfaces", path)
	}
	return p, nil
}

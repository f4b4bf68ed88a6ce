// Package usb contains the bus-level protocol types shared by the host
// driver and the emulated controller: setup packets, descriptors, and
// endpoint identities. Descriptors can be built into wire form (used by
// emulated devices) and parsed back out of it (used during enumeration).
package usb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// USB descriptor type constants.
const (
	DeviceDescType    = 0x01
	ConfigDescType    = 0x02
	StringDescType    = 0x03
	InterfaceDescType = 0x04
	EndpointDescType  = 0x05
	HIDDescType       = 0x21
)

// Descriptor lengths in bytes (fixed values from USB spec).
const (
	DeviceDescLen    = 18
	ConfigDescLen    = 9
	InterfaceDescLen = 9
	EndpointDescLen  = 7
)

// Interface class triple for HID boot devices.
const (
	ClassHID         = 0x03
	SubClassHIDBoot  = 0x01
	ProtocolKeyboard = 0x01
	ProtocolMouse    = 0x02
)

// DeviceDescriptor represents the standard USB device descriptor.
// BLength and BDescriptorType are implied by the wire format.
type DeviceDescriptor struct {
	BcdUSB             uint16
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16
	IDProduct          uint16
	BcdDevice          uint16
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
}

// Bytes returns the 18-byte binary representation.
func (d DeviceDescriptor) Bytes() []byte {
	var b bytes.Buffer
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DeviceDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdUSB)
	b.WriteByte(d.BDeviceClass)
	b.WriteByte(d.BDeviceSubClass)
	b.WriteByte(d.BDeviceProtocol)
	b.WriteByte(d.BMaxPacketSize0)
	_ = binary.Write(&b, binary.LittleEndian, d.IDVendor)
	_ = binary.Write(&b, binary.LittleEndian, d.IDProduct)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdDevice)
	b.WriteByte(d.IManufacturer)
	b.WriteByte(d.IProduct)
	b.WriteByte(d.ISerialNumber)
	b.WriteByte(d.BNumConfigurations)
	return b.Bytes()
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(data []byte) (DeviceDescriptor, error) {
	if len(data) < DeviceDescLen {
		return DeviceDescriptor{}, fmt.Errorf("usb: device descriptor too short: %d bytes", len(data))
	}
	if data[1] != DeviceDescType {
		return DeviceDescriptor{}, fmt.Errorf("usb: not a device descriptor: type %#02x", data[1])
	}
	return DeviceDescriptor{
		BcdUSB:             binary.LittleEndian.Uint16(data[2:]),
		BDeviceClass:       data[4],
		BDeviceSubClass:    data[5],
		BDeviceProtocol:    data[6],
		BMaxPacketSize0:    data[7],
		IDVendor:           binary.LittleEndian.Uint16(data[8:]),
		IDProduct:          binary.LittleEndian.Uint16(data[10:]),
		BcdDevice:          binary.LittleEndian.Uint16(data[12:]),
		IManufacturer:      data[14],
		IProduct:           data[15],
		ISerialNumber:      data[16],
		BNumConfigurations: data[17],
	}, nil
}

// ConfigHeader represents the 9-byte configuration descriptor header.
// WTotalLength is patched when the full blob is built.
type ConfigHeader struct {
	WTotalLength        uint16
	BNumInterfaces      uint8
	BConfigurationValue uint8
	IConfiguration      uint8
	BMAttributes        uint8
	BMaxPower           uint8
}

func (h ConfigHeader) Write(b *bytes.Buffer) {
	b.WriteByte(ConfigDescLen)
	b.WriteByte(ConfigDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WTotalLength)
	b.WriteByte(h.BNumInterfaces)
	b.WriteByte(h.BConfigurationValue)
	b.WriteByte(h.IConfiguration)
	b.WriteByte(h.BMAttributes)
	b.WriteByte(h.BMaxPower)
}

// InterfaceDescriptor (9 bytes) for each interface altsetting.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(InterfaceDescType)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(i.BNumEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// EndpointDescriptor (7 bytes) for each endpoint.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16
	BInterval        uint8
}

func (e EndpointDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(EndpointDescLen)
	b.WriteByte(EndpointDescType)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
}

// Info converts the descriptor to the class-driver view of the endpoint.
func (e EndpointDescriptor) Info() EndpointInfo {
	return EndpointInfo{
		ID:            ParseEndpointAddress(e.BEndpointAddress),
		Type:          TransferType(e.BMAttributes & 0x03),
		MaxPacketSize: e.WMaxPacketSize,
		Interval:      e.BInterval,
	}
}

// InterfaceConfig holds all descriptors for a single interface.
type InterfaceConfig struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor
}

// Config is a fully parsed (or to-be-built) configuration.
type Config struct {
	Header     ConfigHeader
	Interfaces []InterfaceConfig
}

// Bytes serializes the configuration descriptor blob with wTotalLength,
// bNumInterfaces and each interface's bNumEndpoints auto-filled.
func (c Config) Bytes() []byte {
	var b bytes.Buffer
	h := c.Header
	h.BNumInterfaces = uint8(len(c.Interfaces))
	total := ConfigDescLen
	for _, ic := range c.Interfaces {
		total += InterfaceDescLen + EndpointDescLen*len(ic.Endpoints)
	}
	h.WTotalLength = uint16(total)
	h.Write(&b)
	for _, ic := range c.Interfaces {
		id := ic.Descriptor
		id.BNumEndpoints = uint8(len(ic.Endpoints))
		id.Write(&b)
		for _, ep := range ic.Endpoints {
			ep.Write(&b)
		}
	}
	return b.Bytes()
}

// ParseConfig walks a configuration descriptor blob and collects the
// interface and endpoint descriptors. The first descriptor must be the
// configuration header; unknown descriptor types (HID class descriptors
// and the like) are skipped, attached to no one.
func ParseConfig(data []byte) (Config, error) {
	if len(data) < ConfigDescLen {
		return Config{}, fmt.Errorf("usb: configuration blob too short: %d bytes", len(data))
	}
	if data[1] != ConfigDescType {
		return Config{}, fmt.Errorf("usb: not a configuration descriptor: type %#02x", data[1])
	}
	cfg := Config{Header: ConfigHeader{
		WTotalLength:        binary.LittleEndian.Uint16(data[2:]),
		BNumInterfaces:      data[4],
		BConfigurationValue: data[5],
		IConfiguration:      data[6],
		BMAttributes:        data[7],
		BMaxPower:           data[8],
	}}
	if int(cfg.Header.WTotalLength) < len(data) {
		data = data[:cfg.Header.WTotalLength]
	}

	off := int(data[0])
	for off+2 <= len(data) {
		length, typ := int(data[off]), data[off+1]
		if length < 2 || off+length > len(data) {
			return Config{}, fmt.Errorf("usb: malformed descriptor at offset %d", off)
		}
		d := data[off : off+length]
		switch typ {
		case InterfaceDescType:
			if length < InterfaceDescLen {
				return Config{}, fmt.Errorf("usb: short interface descriptor at offset %d", off)
			}
			cfg.Interfaces = append(cfg.Interfaces, InterfaceConfig{Descriptor: InterfaceDescriptor{
				BInterfaceNumber:   d[2],
				BAlternateSetting:  d[3],
				BNumEndpoints:      d[4],
				BInterfaceClass:    d[5],
				BInterfaceSubClass: d[6],
				BInterfaceProtocol: d[7],
				IInterface:         d[8],
			}})
		case EndpointDescType:
			if length < EndpointDescLen {
				return Config{}, fmt.Errorf("usb: short endpoint descriptor at offset %d", off)
			}
			if len(cfg.Interfaces) == 0 {
				return Config{}, fmt.Errorf("usb: endpoint descriptor before any interface at offset %d", off)
			}
			last := &cfg.Interfaces[len(cfg.Interfaces)-1]
			last.Endpoints = append(last.Endpoints, EndpointDescriptor{
				BEndpointAddress: d[2],
				BMAttributes:     d[3],
				WMaxPacketSize:   binary.LittleEndian.Uint16(d[4:]),
				BInterval:        d[6],
			})
		}
		off += length
	}
	return cfg, nil
}

// EncodeStringDescriptor converts a UTF-8 string to a USB string descriptor.
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf))
	buf[1] = StringDescType
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}

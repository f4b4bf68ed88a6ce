package usb

import "fmt"

// bmRequestType bit fields.
const (
	RequestTypeOut uint8 = 0x00
	RequestTypeIn  uint8 = 0x80

	RequestTypeStandard uint8 = 0x00 << 5
	RequestTypeClass    uint8 = 0x01 << 5
	RequestTypeVendor   uint8 = 0x02 << 5

	RecipientDevice    uint8 = 0x00
	RecipientInterface uint8 = 0x01
	RecipientEndpoint  uint8 = 0x02
)

// Standard request codes.
const (
	RequestGetStatus        uint8 = 0x00
	RequestClearFeature     uint8 = 0x01
	RequestSetFeature       uint8 = 0x03
	RequestSetAddress       uint8 = 0x05
	RequestGetDescriptor    uint8 = 0x06
	RequestSetDescriptor    uint8 = 0x07
	RequestGetConfiguration uint8 = 0x08
	RequestSetConfiguration uint8 = 0x09
	RequestGetInterface     uint8 = 0x0A
	RequestSetInterface     uint8 = 0x0B
)

// HID class request codes.
const (
	RequestHIDGetReport   uint8 = 0x01
	RequestHIDSetProtocol uint8 = 0x0B
)

// HID protocol values for SET_PROTOCOL.
const (
	HIDProtocolBoot   uint16 = 0
	HIDProtocolReport uint16 = 1
)

// SetupData is the 8-byte payload of a control transfer's setup stage.
// It is a comparable value type so it can key the pending-request maps.
type SetupData struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// In reports whether the request's data stage is device-to-host.
func (s SetupData) In() bool { return s.RequestType&RequestTypeIn != 0 }

func (s SetupData) String() string {
	return fmt.Sprintf("bmRequestType=%#02x bRequest=%#02x wValue=%#04x wIndex=%#04x wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// GetDescriptorSetup builds the standard GET_DESCRIPTOR request.
func GetDescriptorSetup(descType, descIndex uint8, length uint16) SetupData {
	return SetupData{
		RequestType: RequestTypeIn | RequestTypeStandard | RecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Length:      length,
	}
}

// SetConfigurationSetup builds the standard SET_CONFIGURATION request.
func SetConfigurationSetup(configValue uint8) SetupData {
	return SetupData{
		RequestType: RequestTypeOut | RequestTypeStandard | RecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(configValue),
	}
}

// SetProtocolSetup builds the HID SET_PROTOCOL request for an interface.
func SetProtocolSetup(ifaceNum uint8, protocol uint16) SetupData {
	return SetupData{
		RequestType: RequestTypeOut | RequestTypeClass | RecipientInterface,
		Request:     RequestHIDSetProtocol,
		Value:       protocol,
		Index:       uint16(ifaceNum),
	}
}

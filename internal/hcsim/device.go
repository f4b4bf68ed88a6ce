package hcsim

import (
	"fmt"

	"github.com/halfdome/xhci/usb"
)

// Device is one emulated USB device: descriptor blobs built from a
// profile plus the little runtime state the standard requests touch.
type Device struct {
	profile    Profile
	speed      uint8
	descBlob   []byte
	configBlob []byte

	configured uint8
	protocol   uint16
	reports    map[uint8][][]byte // queued interrupt-IN reports by DCI
}

// NewDevice builds the emulated device for a profile.
func NewDevice(p Profile) (*Device, error) {
	speed, err := p.speedID()
	if err != nil {
		return nil, err
	}
	desc, cfg := p.descriptors()
	return &Device{
		profile:    p,
		speed:      speed,
		descBlob:   desc.Bytes(),
		configBlob: cfg.Bytes(),
		protocol:   usb.HIDProtocolReport,
		reports:    map[uint8][][]byte{},
	}, nil
}

// Profile returns the profile the device was built from.
func (d *Device) Profile() Profile { return d.profile }

func (d *Device) reset() {
	d.configured = 0
	d.protocol = usb.HIDProtocolReport
	d.reports = map[uint8][][]byte{}
}

// control executes a control request. For IN requests the returned bytes
// are the response; for OUT requests outData holds the data stage
// payload. ok=false means the device would stall the request.
func (d *Device) control(setup usb.SetupData, outData []byte) ([]byte, bool) {
	switch {
	case setup.Request == usb.RequestGetDescriptor && setup.In():
		switch uint8(setup.Value >> 8) {
		case usb.DeviceDescType:
			return d.descBlob, true
		case usb.ConfigDescType:
			return d.configBlob, true
		default:
			return nil, false
		}

	case setup.Request == usb.RequestSetConfiguration && !setup.In():
		d.configured = uint8(setup.Value)
		return nil, true

	case setup.Request == usb.RequestHIDSetProtocol &&
		setup.RequestType == usb.RequestTypeOut|usb.RequestTypeClass|usb.RecipientInterface:
		d.protocol = setup.Value
		return nil, true

	default:
		return nil, false
	}
}

// Configured returns the active configuration value, 0 before
// SET_CONFIGURATION.
func (d *Device) Configured() uint8 { return d.configured }

// Protocol returns the active HID protocol.
func (d *Device) Protocol() uint16 { return d.protocol }

func (d *Device) queueReport(dci uint8, data []byte) {
	d.reports[dci] = append(d.reports[dci], append([]byte(nil), data...))
}

func (d *Device) popReport(dci uint8) ([]byte, bool) {
	q := d.reports[dci]
	if len(q) == 0 {
		return nil, false
	}
	d.reports[dci] = q[1:]
	return q[0], true
}

func (p Profile) speedID() (uint8, error) {
	switch p.Speed {
	case "low":
		return 2, nil
	case "full", "":
		return 1, nil
	case "high":
		return 3, nil
	case "super":
		return 4, nil
	default:
		return 0, fmt.Errorf("hcsim: unknown speed %q", p.Speed)
	}
}

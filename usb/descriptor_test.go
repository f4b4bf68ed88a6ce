package usb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/usb"
)

func bootMouseConfig() usb.Config {
	return usb.Config{
		Header: usb.ConfigHeader{BConfigurationValue: 1, BMAttributes: 0xA0, BMaxPower: 50},
		Interfaces: []usb.InterfaceConfig{{
			Descriptor: usb.InterfaceDescriptor{
				BInterfaceClass:    usb.ClassHID,
				BInterfaceSubClass: usb.SubClassHIDBoot,
				BInterfaceProtocol: usb.ProtocolMouse,
			},
			Endpoints: []usb.EndpointDescriptor{{
				BEndpointAddress: 0x81,
				BMAttributes:     uint8(usb.TransferInterrupt),
				WMaxPacketSize:   8,
				BInterval:        10,
			}},
		}},
	}
}

func TestConfigBytesFillsTotals(t *testing.T) {
	blob := bootMouseConfig().Bytes()

	require.Len(t, blob, 9+9+7)
	cfg, err := usb.ParseConfig(blob)
	require.NoError(t, err)

	assert.EqualValues(t, len(blob), cfg.Header.WTotalLength)
	assert.EqualValues(t, 1, cfg.Header.BNumInterfaces)
	require.Len(t, cfg.Interfaces, 1)
	assert.EqualValues(t, 1, cfg.Interfaces[0].Descriptor.BNumEndpoints)
	assert.EqualValues(t, usb.ClassHID, cfg.Interfaces[0].Descriptor.BInterfaceClass)

	require.Len(t, cfg.Interfaces[0].Endpoints, 1)
	info := cfg.Interfaces[0].Endpoints[0].Info()
	assert.Equal(t, usb.EndpointID{Number: 1, In: true}, info.ID)
	assert.Equal(t, usb.TransferInterrupt, info.Type)
	assert.EqualValues(t, 8, info.MaxPacketSize)
	assert.EqualValues(t, 10, info.Interval)
}

func TestParseConfigSkipsClassDescriptors(t *testing.T) {
	blob := bootMouseConfig().Bytes()

	// Splice a HID class descriptor between the interface and its endpoint,
	// as real keyboards and mice report it.
	hidDesc := []byte{9, usb.HIDDescType, 0x11, 0x01, 0, 1, 0x22, 50, 0}
	spliced := make([]byte, 0, len(blob)+len(hidDesc))
	spliced = append(spliced, blob[:18]...) // config + interface
	spliced = append(spliced, hidDesc...)
	spliced = append(spliced, blob[18:]...) // endpoint
	spliced[2] = uint8(len(spliced))        // wTotalLength low byte

	cfg, err := usb.ParseConfig(spliced)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 1)
	assert.Len(t, cfg.Interfaces[0].Endpoints, 1, "endpoint still attached to its interface")
}

func TestParseConfigErrors(t *testing.T) {
	type testCase struct {
		name string
		data []byte
	}

	cases := []testCase{
		{name: "empty", data: nil},
		{name: "too short", data: []byte{9, usb.ConfigDescType, 9, 0}},
		{
			name: "not a configuration descriptor",
			data: []byte{18, usb.DeviceDescType, 0, 2, 0, 0, 0, 64, 0},
		},
		{
			name: "endpoint before interface",
			data: []byte{9, usb.ConfigDescType, 16, 0, 0, 1, 0, 0xA0, 50,
				7, usb.EndpointDescType, 0x81, 3, 8, 0, 10},
		},
		{
			name: "descriptor length overruns blob",
			data: []byte{9, usb.ConfigDescType, 12, 0, 1, 1, 0, 0xA0, 50,
				9, usb.InterfaceDescType, 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := usb.ParseConfig(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestParseDeviceDescriptor(t *testing.T) {
	desc := usb.DeviceDescriptor{
		BcdUSB:             0x0200,
		BMaxPacketSize0:    64,
		IDVendor:           0x1bcf,
		IDProduct:          0x0005,
		BNumConfigurations: 1,
	}
	blob := desc.Bytes()
	require.Len(t, blob, usb.DeviceDescLen)

	got, err := usb.ParseDeviceDescriptor(blob)
	require.NoError(t, err)
	assert.Equal(t, desc, got)

	_, err = usb.ParseDeviceDescriptor(blob[:10])
	assert.Error(t, err)

	blob[1] = usb.ConfigDescType
	_, err = usb.ParseDeviceDescriptor(blob)
	assert.Error(t, err)
}

func TestEncodeStringDescriptor(t *testing.T) {
	d := usb.EncodeStringDescriptor("ab")
	assert.Equal(t, []byte{6, usb.StringDescType, 'a', 0, 'b', 0}, d)
}

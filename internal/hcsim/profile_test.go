package hcsim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/usb"
)

const yamlProfile = `
name: test-pad
vendor_id: 0x045e
product_id: 0x028e
speed: high
interfaces:
  - class: 0x03
    subclass: 0x01
    protocol: 0x02
    endpoints:
      - address: 0x81
        type: interrupt
        max_packet_size: 8
        interval: 4
`

const tomlProfile = `
name = "test-pad"
vendor_id = 0x045e
product_id = 0x028e
speed = "high"

[[interfaces]]
class = 0x03
subclass = 0x01
protocol = 0x02

[[interfaces.endpoints]]
address = 0x81
type = "interrupt"
max_packet_size = 8
interval = 4
`

func writeProfile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	type testCase struct {
		name    string
		file    string
		content string
	}

	cases := []testCase{
		{name: "yaml", file: "pad.yaml", content: yamlProfile},
		{name: "toml", file: "pad.toml", content: tomlProfile},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := LoadProfile(writeProfile(t, tc.file, tc.content))
			require.NoError(t, err)

			assert.Equal(t, "test-pad", p.Name)
			assert.EqualValues(t, 0x045e, p.VendorID)
			assert.Equal(t, "high", p.Speed)
			require.Len(t, p.Interfaces, 1)
			require.Len(t, p.Interfaces[0].Endpoints, 1)
			assert.EqualValues(t, 0x81, p.Interfaces[0].Endpoints[0].Address)
			assert.EqualValues(t, 4, p.Interfaces[0].Endpoints[0].Interval)
		})
	}
}

func TestLoadProfileErrors(t *testing.T) {
	_, err := LoadProfile(writeProfile(t, "pad.ini", "[x]"))
	assert.Error(t, err, "unsupported format")

	_, err = LoadProfile(writeProfile(t, "pad.yaml", "name: empty"))
	assert.Error(t, err, "profile without interfaces")

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveProfileBuiltins(t *testing.T) {
	p, err := ResolveProfile("hid-mouse")
	require.NoError(t, err)
	assert.Equal(t, uint8(usb.ProtocolMouse), p.Interfaces[0].Protocol)

	p, err = ResolveProfile("hid-keyboard")
	require.NoError(t, err)
	assert.Equal(t, uint8(usb.ProtocolKeyboard), p.Interfaces[0].Protocol)

	_, err = ResolveProfile("no-such-profile")
	assert.Error(t, err)
}

func TestDeviceControlRequests(t *testing.T) {
	dev, err := NewDevice(MouseProfile())
	require.NoError(t, err)

	resp, ok := dev.control(usb.GetDescriptorSetup(usb.DeviceDescType, 0, usb.DeviceDescLen), nil)
	require.True(t, ok)
	desc, err := usb.ParseDeviceDescriptor(resp)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1bcf, desc.IDVendor)

	resp, ok = dev.control(usb.GetDescriptorSetup(usb.ConfigDescType, 0, 256), nil)
	require.True(t, ok)
	cfg, err := usb.ParseConfig(resp)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 1)
	assert.EqualValues(t, usb.ClassHID, cfg.Interfaces[0].Descriptor.BInterfaceClass)

	_, ok = dev.control(usb.GetDescriptorSetup(usb.StringDescType, 0, 64), nil)
	assert.False(t, ok, "unsupported descriptor stalls")

	_, ok = dev.control(usb.SetConfigurationSetup(1), nil)
	require.True(t, ok)
	assert.EqualValues(t, 1, dev.Configured())

	_, ok = dev.control(usb.SetProtocolSetup(0, usb.HIDProtocolBoot), nil)
	require.True(t, ok)
	assert.Equal(t, usb.HIDProtocolBoot, dev.Protocol())

	dev.reset()
	assert.Zero(t, dev.Configured())
	assert.Equal(t, usb.HIDProtocolReport, dev.Protocol())
}

func TestDeviceReportQueue(t *testing.T) {
	dev, err := NewDevice(MouseProfile())
	require.NoError(t, err)

	_, ok := dev.popReport(3)
	assert.False(t, ok)

	dev.queueReport(3, []byte{1, 2, 3})
	dev.queueReport(3, []byte{4, 5, 6})

	first, ok := dev.popReport(3)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, first)
	second, ok := dev.popReport(3)
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5, 6}, second)
	_, ok = dev.popReport(3)
	assert.False(t, ok)
}

func TestSpeedID(t *testing.T) {
	for name, want := range map[string]uint8{"low": 2, "full": 1, "": 1, "high": 3, "super": 4} {
		got, err := Profile{Speed: name}.speedID()
		require.NoError(t, err)
		assert.Equal(t, want, got, "speed %q", name)
	}
	_, err := Profile{Speed: "warp"}.speedID()
	assert.Error(t, err)
}

package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"viztap/internal/config"
)

// ErrDeviceUnavailable reports that no usable capture device could be
// resolved or opened.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// PortAudio library bindings, swapped out in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
)

// paDevicesFunc is the enumeration entry point used by the query helpers
// below. Tests replace it to simulate device sets without hardware.
var paDevicesFunc = paDevices

// Initialize brings up the PortAudio host layer. Every other call in this
// package assumes it has run; pair it with Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host layer. Defer it right after a
// successful Initialize.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("portaudio shutdown: %w", err)
	}
	return nil
}

// Device is a host-independent summary of one audio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// HostDevices lists every device the host exposes, in PortAudio index
// order.
func HostDevices() ([]Device, error) {
	paDeviceInfos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, len(paDeviceInfos))
	for i, info := range paDeviceInfos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		}
	}
	return devices, nil
}

// InputDevice resolves a capture device by numeric ID; MinDeviceID (-1)
// selects the system default input. IDs out of range and devices without
// input channels report ErrDeviceUnavailable.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	if deviceID == config.MinDeviceID {
		device, err := paLibDefaultInputDeviceFunc()
		if err != nil {
			return nil, err
		}
		return device, nil
	}

	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: invalid device ID: %d", ErrDeviceUnavailable, deviceID)
	}
	if devices[deviceID].MaxInputChannels == 0 {
		return nil, fmt.Errorf("%w: device %d (%s) does not support input",
			ErrDeviceUnavailable, deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// FindInputDevice resolves the capture device by preference:
//
//  1. The first input device whose name contains preferred
//     (case-insensitive), when preferred is nonempty. Monitor sources show
//     up here: after the loopback route is enabled, preferred is set to the
//     virtual sink's monitor name.
//  2. The first input device that looks like a monitor or loopback source.
//  3. The system default input device.
func FindInputDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	if preferred != "" {
		needle := strings.ToLower(preferred)
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
				return d, nil
			}
		}
	}

	for _, d := range devices {
		if d.MaxInputChannels > 0 && isMonitorName(d.Name) {
			return d, nil
		}
	}

	device, err := paLibDefaultInputDeviceFunc()
	if err != nil {
		return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
	}
	return device, nil
}

// PickDevice resolves the capture device from the runtime configuration. A
// preferred name wins over the numeric device ID.
func PickDevice(preferred string, deviceID int) (*portaudio.DeviceInfo, error) {
	if preferred != "" {
		return FindInputDevice(preferred)
	}
	return InputDevice(deviceID)
}

// ListDevices prints every host device with its capture-relevant
// properties. Monitor and loopback sources are tagged, since those are the
// devices a visualization session usually wants.
func ListDevices() error {
	devices, err := paDevicesFunc()
	if err != nil {
		return err
	}

	fmt.Printf("\nAvailable audio devices\n\n")
	for i, d := range devices {
		fmt.Printf("[%d] %s%s\n", i, d.Name, deviceTags(d))
		fmt.Printf("    in %d / out %d @ %.0f Hz, input latency %.2f-%.2f ms\n",
			d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate,
			d.DefaultLowInputLatency.Seconds()*1000,
			d.DefaultHighInputLatency.Seconds()*1000)
	}
	fmt.Println()
	return nil
}

// deviceTags renders the role markers shown after a device name.
func deviceTags(d *portaudio.DeviceInfo) string {
	var tags []string
	if d.MaxInputChannels > 0 {
		tags = append(tags, "capture")
	}
	if d.MaxOutputChannels > 0 {
		tags = append(tags, "playback")
	}
	if isMonitorName(d.Name) {
		tags = append(tags, "monitor")
	}
	if len(tags) == 0 {
		return ""
	}
	return "  (" + strings.Join(tags, ", ") + ")"
}

// isMonitorName reports whether a device name looks like a sink monitor or
// loopback source.
func isMonitorName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "monitor") || strings.Contains(lower, "loopback")
}

// paDevices returns all available PortAudio devices, normalizing a nil
// result to an empty slice.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}

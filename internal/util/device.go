package util

import (
	"os"
	"strings"
)

// BoardSerialNo returns a stable identifier for the board the rover runs on.
// Rockchip boards expose the SoC serial in the device tree; containers and
// dev machines fall back to the machine id, then the hostname.
func BoardSerialNo() string {
	candidates := []string{
		"/proc/device-tree/serial-number",
		"/sys/firmware/devicetree/base/serial-number",
		"/etc/machine-id",
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// Device tree strings are NUL terminated.
		serial := strings.TrimSpace(strings.Trim(string(data), "\x00"))
		if serial != "" {
			return serial
		}
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "unknown"
}

// BoardModel returns the device tree model string, e.g. "Rockchip RK3568 EVB",
// or "unknown" when not running on a device tree platform.
func BoardModel() string {
	for _, path := range []string{
		"/proc/device-tree/model",
		"/sys/firmware/devicetree/base/model",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		model := strings.TrimSpace(strings.Trim(string(data), "\x00"))
		if model != "" {
			return model
		}
	}
	return "unknown"
}

package chrome

import (
	"sort"

	"github.com/chromedp/chromedp/device"
)

// Devices are the emulation profiles selectable by name. An empty device
// name keeps the browser's own desktop window.
var Devices = map[string]device.Info{
	"Desktop 1080p": {
		Name:      "Desktop 1080p",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Width:     1920,
		Height:    1080,
		Scale:     1.0,
	},
	"Laptop": {
		Name:      "Laptop",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Width:     1366,
		Height:    768,
		Scale:     1.0,
	},
	"iPad Pro": {
		Name:      "iPad Pro",
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
		Width:     1024,
		Height:    1366,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"iPhone 12 Pro": {
		Name:      "iPhone 12 Pro",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
		Width:     390,
		Height:    844,
		// 1.0 keeps text readable in a desktop window.
		Scale:  1.0,
		Mobile: true,
		Touch:  true,
	},
}

// Device looks up an emulation profile.
func Device(name string) (device.Info, bool) {
	d, ok := Devices[name]
	return d, ok
}

// DeviceNames returns the profile names in sorted order.
func DeviceNames() []string {
	names := make([]string, 0, len(Devices))
	for name := range Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

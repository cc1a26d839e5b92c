package cpu

import (
	"context"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds subprocess and network probes. Local file probes carry
// no timeout.
const probeTimeout = 5 * time.Second

var defaultTemperaturePaths = []string{
	"/sys/class/thermal/thermal_zone0/temp",
	"/sys/devices/virtual/thermal/thermal_zone0/temp",
}

var defaultVcgencmdBinaries = []string{
	"/usr/bin/vcgencmd",
	"/opt/vc/bin/vcgencmd",
}

// TemperatureSysfsProbe reads the CPU temperature in millidegrees from the
// first existing-and-parseable candidate path.
func TemperatureSysfsProbe(paths ...string) Probe[float64] {
	if len(paths) == 0 {
		paths = defaultTemperaturePaths
	}

	return func() (float64, bool) {
		for _, path := range paths {
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
			if err != nil {
				continue
			}
			return roundTo(float64(milli)/1000.0, 2), true
		}
		return 0, false
	}
}

// TemperatureVcgencmdProbe invokes the vendor diagnostic tool and parses its
// "temp=48.3'C" output.
func TemperatureVcgencmdProbe(binaries ...string) Probe[float64] {
	if len(binaries) == 0 {
		binaries = defaultVcgencmdBinaries
	}

	return func() (float64, bool) {
		out, ok := runVcgencmd(binaries, "measure_temp")
		if !ok {
			return 0, false
		}
		celsius, err := parseVcgencmdTemp(out)
		if err != nil {
			return 0, false
		}
		return roundTo(celsius, 2), true
	}
}

// runVcgencmd runs the first binary that exists with a bounded deadline.
// Non-zero exit, a missing binary or a timeout all report not-ok.
func runVcgencmd(binaries []string, args ...string) (string, bool) {
	for _, bin := range binaries {
		if _, err := os.Stat(bin); err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		out, err := exec.CommandContext(ctx, bin, args...).Output()
		cancel()
		if err != nil {
			continue
		}

		return string(out), true
	}
	return "", false
}

func parseVcgencmdTemp(out string) (float64, error) {
	_, value, _ := strings.Cut(out, "=")
	value, _, _ = strings.Cut(value, "'")
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

package cpu

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Throttle flag bit layout, fixed by the firmware interface: bits 0-3 are
// conditions active right now, bits 16-19 the same conditions since boot.
const (
	UnderVoltageBit  = 0
	FreqCappedBit    = 1
	ThrottledBit     = 2
	SoftTempLimitBit = 3

	occurredShift = 16
	activeMask    = 0xF
)

var defaultThrottlePaths = []string{
	"/sys/devices/platform/soc/soc:firmware/get_throttled",
	"/sys/devices/platform/scb/soc:firmware/get_throttled",
	"/sys/firmware/devicetree/base/soc/get_throttled",
}

const (
	defaultSupervisorURL = "http://supervisor"
	supervisorTokenEnv   = "SUPERVISOR_TOKEN"
)

// ThrottleSysfsProbe reads the firmware throttle mask from the first
// existing-and-parseable sysfs path. Values are hexadecimal.
func ThrottleSysfsProbe(paths ...string) Probe[uint32] {
	if len(paths) == 0 {
		paths = defaultThrottlePaths
	}

	return func() (uint32, bool) {
		for _, path := range paths {
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			mask, err := parseThrottleHex(string(raw))
			if err != nil {
				continue
			}
			return mask, true
		}
		return 0, false
	}
}

// ThrottleVcgencmdProbe invokes the vendor diagnostic tool and parses its
// "throttled=0x..." output.
func ThrottleVcgencmdProbe(binaries ...string) Probe[uint32] {
	if len(binaries) == 0 {
		binaries = defaultVcgencmdBinaries
	}

	return func() (uint32, bool) {
		out, ok := runVcgencmd(binaries, "get_throttled")
		if !ok {
			return 0, false
		}
		mask, err := parseVcgencmdThrottle(out)
		if err != nil {
			return 0, false
		}
		return mask, true
	}
}

// ThrottleSupervisorProbe queries the host supervisor hardware endpoint. The
// probe is token-gated: without SUPERVISOR_TOKEN in the environment it is
// skipped immediately.
func ThrottleSupervisorProbe(baseURL string, client *http.Client) Probe[uint32] {
	if baseURL == "" {
		baseURL = defaultSupervisorURL
	}
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	return func() (uint32, bool) {
		token := os.Getenv(supervisorTokenEnv)
		if token == "" {
			return 0, false
		}

		req, err := http.NewRequest(http.MethodGet, baseURL+"/hardware/info", http.NoBody)
		if err != nil {
			return 0, false
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			return 0, false
		}
		defer resp.Body.Close()

		var payload struct {
			Data struct {
				Chassis struct {
					Throttling *struct {
						UnderVoltage  bool `json:"under_voltage"`
						FreqCapped    bool `json:"frequency_capped"`
						Throttled     bool `json:"throttled"`
						SoftTempLimit bool `json:"soft_temp_limit"`
					} `json:"throttling"`
				} `json:"chassis"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return 0, false
		}

		throttling := payload.Data.Chassis.Throttling
		if throttling == nil {
			return 0, false
		}

		var mask uint32
		if throttling.UnderVoltage {
			mask |= 1 << UnderVoltageBit
		}
		if throttling.FreqCapped {
			mask |= 1 << FreqCappedBit
		}
		if throttling.Throttled {
			mask |= 1 << ThrottledBit
		}
		if throttling.SoftTempLimit {
			mask |= 1 << SoftTempLimitBit
		}

		return mask, true
	}
}

// ThrottleInferredProbe derives a partial mask from two independent low-level
// signals: a scaling maximum below 95% of the hardware maximum sets the
// frequency-capped bit, and a temperature at or above the first trip point
// sets the soft-temperature-limit bit. A mask of zero means nothing could be
// inferred and the probe reports not-ok.
func ThrottleInferredProbe(cpufreqDir, thermalDir string) Probe[uint32] {
	if cpufreqDir == "" {
		cpufreqDir = "/sys/devices/system/cpu/cpu0/cpufreq"
	}
	if thermalDir == "" {
		thermalDir = "/sys/class/thermal/thermal_zone0"
	}

	return func() (uint32, bool) {
		scalingMax, okScaling := readIntFile(cpufreqDir + "/scaling_max_freq")
		cpuinfoMax, okCpuinfo := readIntFile(cpufreqDir + "/cpuinfo_max_freq")
		currentTemp, okTemp := readIntFile(thermalDir + "/temp")
		tripTemp, okTrip := readIntFile(thermalDir + "/trip_point_0_temp")

		if !okScaling && !okCpuinfo && !okTemp && !okTrip {
			return 0, false
		}

		var mask uint32
		if okScaling && okCpuinfo && scalingMax < cpuinfoMax*95/100 {
			mask |= 1 << FreqCappedBit
		}
		if okTemp && okTrip && currentTemp >= tripTemp {
			mask |= 1 << SoftTempLimitBit
		}

		if mask == 0 {
			return 0, false
		}
		return mask, true
	}
}

func parseThrottleHex(raw string) (uint32, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseVcgencmdThrottle parses "throttled=0x50005" style output.
func parseVcgencmdThrottle(out string) (uint32, error) {
	_, value, found := strings.Cut(out, "=")
	if !found {
		return 0, fmt.Errorf("unexpected vcgencmd output: %q", out)
	}
	return parseThrottleHex(value)
}

func readIntFile(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}
	return v, true
}

package cpu

import "strings"

var throttleMessages = []struct {
	bit  int
	text string
}{
	{UnderVoltageBit, "Under-voltage NOW"},
	{FreqCappedBit, "Frequency capped NOW"},
	{ThrottledBit, "Throttled NOW"},
	{SoftTempLimitBit, "Soft temp limit NOW"},
	{UnderVoltageBit + occurredShift, "Under-voltage OCCURRED"},
	{FreqCappedBit + occurredShift, "Frequency capped OCCURRED"},
	{ThrottledBit + occurredShift, "Throttling OCCURRED"},
	{SoftTempLimitBit + occurredShift, "Soft temp limit OCCURRED"},
}

// Decode converts a throttle mask to human-readable text. A zero mask
// decodes to "OK".
func Decode(mask uint32) string {
	var messages []string
	for _, m := range throttleMessages {
		if mask&(1<<m.bit) != 0 {
			messages = append(messages, m.text)
		}
	}

	if len(messages) == 0 {
		return "OK"
	}
	return strings.Join(messages, ", ")
}

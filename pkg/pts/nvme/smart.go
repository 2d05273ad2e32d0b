package nvme

import (
	"fmt"
	"strconv"
	"strings"
)

// kelvinThreshold separates Kelvin from Celsius readings: nvme-cli 1.x
// reports the composite temperature in Kelvin, some 2.x builds in Celsius.
const kelvinThreshold = 200

// SmartLog holds the health fields tracked around every measurement.
type SmartLog struct {
	// Temperature is the composite temperature in Celsius.
	Temperature      float64 `json:"temperature"`
	PercentUsed      int     `json:"percent_used"`
	AvailableSpare   int     `json:"avail_spare"`
	CriticalWarning  int     `json:"critical_warning"`
	DataUnitsRead    uint64  `json:"data_units_read"`
	DataUnitsWritten uint64  `json:"data_units_written"`
	MediaErrors      uint64  `json:"media_errors"`
}

// ParseSmartLog decodes `nvme smart-log --output-format=json`. Field types
// vary across nvme-cli releases (numbers or strings), so each field is
// read leniently.
func ParseSmartLog(data []byte) (*SmartLog, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding smart-log: %w", err)
	}

	temp, ok := number(raw, "temperature")
	if !ok {
		return nil, fmt.Errorf("%w: smart-log has no temperature", ErrUnexpectedOutput)
	}
	if temp > kelvinThreshold {
		temp -= 273.15
	}

	used, ok := number(raw, "percent_used")
	if !ok {
		used, _ = number(raw, "percentage_used")
	}
	spare, _ := number(raw, "avail_spare")
	warn, _ := number(raw, "critical_warning")
	read, _ := number(raw, "data_units_read")
	written, _ := number(raw, "data_units_written")
	media, _ := number(raw, "media_errors")

	return &SmartLog{
		Temperature:      temp,
		PercentUsed:      int(used),
		AvailableSpare:   int(spare),
		CriticalWarning:  int(warn),
		DataUnitsRead:    uint64(read),
		DataUnitsWritten: uint64(written),
		MediaErrors:      uint64(media),
	}, nil
}

// number reads key as a float, accepting JSON numbers and strings such as
// "310" or "37 C" or "5%".
func number(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if i := strings.IndexFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		}); i >= 0 {
			s = s[:i]
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

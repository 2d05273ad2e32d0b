package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSmartLog(t *testing.T) {
	tests := []struct {
		name string
		data string
		temp float64
		used int
	}{
		{
			name: "kelvin number",
			data: `{"critical_warning":0,"temperature":310,"avail_spare":100,"spare_thresh":10,"percent_used":2,"data_units_read":123456,"data_units_written":654321,"media_errors":0}`,
			temp: 36.85,
			used: 2,
		},
		{
			name: "celsius number",
			data: `{"critical_warning":0,"temperature":41,"avail_spare":100,"percentage_used":7}`,
			temp: 41,
			used: 7,
		},
		{
			name: "strings with units",
			data: `{"critical_warning":"0","temperature":"37 C","avail_spare":"100%","percent_used":"3%"}`,
			temp: 37,
			used: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSmartLog([]byte(tt.data))
			require.NoError(t, err)
			assert.InDelta(t, tt.temp, s.Temperature, 1e-9)
			assert.Equal(t, tt.used, s.PercentUsed)
			assert.Equal(t, 100, s.AvailableSpare)
		})
	}
}

func TestParseSmartLogCounters(t *testing.T) {
	s, err := ParseSmartLog([]byte(`{"temperature":300,"data_units_read":123456,"data_units_written":654321,"media_errors":4}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), s.DataUnitsRead)
	assert.Equal(t, uint64(654321), s.DataUnitsWritten)
	assert.Equal(t, uint64(4), s.MediaErrors)
}

func TestParseSmartLogErrors(t *testing.T) {
	_, err := ParseSmartLog([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseSmartLog([]byte(`{"percent_used":1}`))
	assert.ErrorIs(t, err, ErrUnexpectedOutput)
}

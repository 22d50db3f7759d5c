package sht3x

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

const (
	AddrDefault byte = 0x44 // ADDR pin low
	AddrAlt     byte = 0x45 // ADDR pin high
)

const (
	CmdStopPeriodic uint16 = 0x3093
	CmdSoftReset    uint16 = 0x30a2
	CmdReadStatus   uint16 = 0xf32d
	CmdClearStatus  uint16 = 0x3041
	CmdFetchData    uint16 = 0xe000
)

type Repeatability byte

// Zero value is the agent default.
const (
	RepeatabilityMedium Repeatability = iota
	RepeatabilityHigh
	RepeatabilityLow
)

func ParseRepeatability(s string) (Repeatability, error) {
	switch s {
	case "high":
		return RepeatabilityHigh, nil
	case "", "medium":
		return RepeatabilityMedium, nil
	case "low":
		return RepeatabilityLow, nil
	}
	return 0, errors.NotValidf("sht3x repeatability='%s'", s)
}

// Rate is periodic measurement rate, measurements per second.
type Rate byte

// Zero value is the agent default.
const (
	Rate1    Rate = iota
	RateHalf      // 0.5 mps
	Rate2
	Rate4
	Rate10
)

var periodicCommands = [...][3]uint16{
	RateHalf: {RepeatabilityHigh: 0x2032, RepeatabilityMedium: 0x2024, RepeatabilityLow: 0x202f},
	Rate1:    {RepeatabilityHigh: 0x2130, RepeatabilityMedium: 0x2126, RepeatabilityLow: 0x212d},
	Rate2:    {RepeatabilityHigh: 0x2236, RepeatabilityMedium: 0x2220, RepeatabilityLow: 0x222b},
	Rate4:    {RepeatabilityHigh: 0x2334, RepeatabilityMedium: 0x2322, RepeatabilityLow: 0x2329},
	Rate10:   {RepeatabilityHigh: 0x2737, RepeatabilityMedium: 0x2721, RepeatabilityLow: 0x272a},
}

var ratePeriods = [...]time.Duration{
	RateHalf: 2 * time.Second,
	Rate1:    time.Second,
	Rate2:    500 * time.Millisecond,
	Rate4:    250 * time.Millisecond,
	Rate10:   100 * time.Millisecond,
}

func ParseRate(s string) (Rate, error) {
	switch s {
	case "0.5":
		return RateHalf, nil
	case "", "1":
		return Rate1, nil
	case "2":
		return Rate2, nil
	case "4":
		return Rate4, nil
	case "10":
		return Rate10, nil
	}
	return 0, errors.NotValidf("sht3x rate='%s'", s)
}

func (r Rate) Period() time.Duration { return ratePeriods[r] }

func PeriodicCommand(r Rate, rep Repeatability) uint16 {
	return periodicCommands[r][rep]
}

// Status register bits.
type Status uint16

const (
	StatusAlertPending   Status = 1 << 15
	StatusHeaterOn       Status = 1 << 13
	StatusHumidityAlert  Status = 1 << 11
	StatusTempAlert      Status = 1 << 10
	StatusResetDetected  Status = 1 << 4
	StatusCommandFailed  Status = 1 << 1
	StatusChecksumFailed Status = 1 << 0
)

func (s Status) String() string {
	names := []struct {
		bit  Status
		name string
	}{
		{StatusAlertPending, "alert"},
		{StatusHeaterOn, "heater"},
		{StatusHumidityAlert, "rh-alert"},
		{StatusTempAlert, "t-alert"},
		{StatusResetDetected, "reset"},
		{StatusCommandFailed, "cmd-failed"},
		{StatusChecksumFailed, "crc-failed"},
	}
	out := fmt.Sprintf("%04x", uint16(s))
	for _, n := range names {
		if s&n.bit != 0 {
			out += " " + n.name
		}
	}
	return out
}

func convertTemperature(raw uint16) float32 {
	return -45 + 175*float32(raw)/65535
}

func convertHumidity(raw uint16) float32 {
	rh := 100 * float32(raw) / 65535
	if rh < 0 {
		rh = 0
	} else if rh > 100 {
		rh = 100
	}
	return rh
}

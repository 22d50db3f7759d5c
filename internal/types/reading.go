package types

import (
	"fmt"

	"github.com/temoto/envtele/internal/timebase"
)

// Reading is one sensor sample. Produced by the sensor driver, consumed once by the reporter.
type Reading struct {
	Temperature float32 // °C
	Humidity    float32 // %RH, 0..100
	Tick        timebase.Tick
}

func (r Reading) String() string {
	return fmt.Sprintf("temperature=%.2fC humidity=%.2f%%RH tick=%d", r.Temperature, r.Humidity, r.Tick)
}

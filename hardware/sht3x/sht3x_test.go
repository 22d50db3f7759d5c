package sht3x

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/crc"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/internal/timebase"
	"github.com/temoto/envtele/log2"
)

type tenv struct {
	t      testing.TB
	bus    *i2c.MockBus
	clock  *timebase.ManualClock
	sleeps []time.Duration
	sensor *Sensor
}

func testEnv(t testing.TB, present ...byte) *tenv {
	env := &tenv{
		t:     t,
		bus:   i2c.NewMockBus(t, present...),
		clock: timebase.NewManualClock(1000),
	}
	config := Config{
		Rate:          Rate1,
		Repeatability: RepeatabilityMedium,
		PollDelay:     time.Millisecond,
		ReadTimeout:   3 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			env.sleeps = append(env.sleeps, d)
			return ctx.Err()
		},
	}
	env.sensor = New(env.bus, config, env.clock, log2.NewTest(t, log2.LDebug))
	return env
}

// word formats 16 bit value with checksum as hex
func word(v uint16) string {
	hi, lo := byte(v>>8), byte(v)
	return fmt.Sprintf("%02x%02x%02x", hi, lo, crc.CRC8_p31_2(hi, lo))
}

func rawTemperature(c float64) uint16 { return uint16((c + 45) / 175 * 65535) }
func rawHumidity(rh float64) uint16   { return uint16(rh / 100 * 65535) }

func (env *tenv) expectInit(addr byte, status uint16) {
	env.bus.Expect(addr, "3093", "")
	env.bus.Expect(addr, "30a2", "")
	env.bus.Expect(addr, "f32d", "")
	env.bus.Expect(addr, "", word(status))
	env.bus.Expect(addr, "2126", "")
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0x8010)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	assert.True(t, env.sensor.Initialized())
	assert.Equal(t, AddrDefault, env.sensor.Address())
	assert.Equal(t, StatusAlertPending|StatusResetDetected, env.sensor.Status())
	assert.Equal(t, []time.Duration{stopDelay, DefaultSettleDelay}, env.sleeps)
	assert.NoError(t, env.sensor.LastError())
	env.bus.ExpectationsWereMet()
}

func TestInitializeNoDevice(t *testing.T) {
	t.Parallel()
	env := testEnv(t)
	for i := 0; i < 3; i++ {
		err := env.sensor.Initialize(context.Background())
		require.Error(t, err)
		assert.Equal(t, ErrNoDeviceFound, errors.Cause(err))
		assert.False(t, env.sensor.Initialized())
	}
	_, err := env.sensor.ReadLatest(context.Background())
	assert.Equal(t, ErrNotInitialized, errors.Cause(err))
	assert.Equal(t, uint32(3), env.sensor.Stat().Inits)
	env.bus.ExpectationsWereMet()
}

func TestInitializeAddressFallback(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrAlt)
	env.expectInit(AddrAlt, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	assert.Equal(t, AddrAlt, env.sensor.Address())
	assert.Equal(t, []byte{AddrAlt}, env.sensor.Found())
	env.bus.ExpectationsWereMet()
}

func TestInitializePrefersConfigured(t *testing.T) {
	t.Parallel()
	env := testEnv(t, 0x20, AddrDefault, 0x68)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	assert.Equal(t, AddrDefault, env.sensor.Address())
	env.bus.ExpectationsWereMet()
}

func TestInitializeStatusFailed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		expect func(*tenv)
	}{
		{"bus", func(env *tenv) {
			env.bus.Expect(AddrDefault, "f32d", "")
			env.bus.ExpectErr(AddrDefault, "", i2c.ErrMockNack)
		}},
		{"crc", func(env *tenv) {
			env.bus.Expect(AddrDefault, "f32d", "")
			env.bus.Expect(AddrDefault, "", "0000ff")
		}},
		{"command", func(env *tenv) {
			env.bus.ExpectErr(AddrDefault, "f32d", i2c.ErrMockNack)
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			env := testEnv(t, AddrDefault)
			env.bus.Expect(AddrDefault, "3093", "")
			env.bus.Expect(AddrDefault, "30a2", "")
			c.expect(env)
			err := env.sensor.Initialize(context.Background())
			require.Error(t, err)
			assert.Equal(t, ErrStatusReadFailed, errors.Cause(err))
			assert.False(t, env.sensor.Initialized())
			assert.Equal(t, err, env.sensor.LastError())
			env.bus.ExpectationsWereMet()
		})
	}
}

func TestInitializeStartFailed(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.bus.ExpectErr(AddrDefault, "3093", i2c.ErrMockNack) // tolerated
	env.bus.Expect(AddrDefault, "30a2", "")
	env.bus.Expect(AddrDefault, "f32d", "")
	env.bus.Expect(AddrDefault, "", word(0))
	env.bus.ExpectErr(AddrDefault, "2126", i2c.ErrMockNack)
	err := env.sensor.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrMeasurementStartFailed, errors.Cause(err))
	assert.False(t, env.sensor.Initialized())
	env.bus.ExpectationsWereMet()
}

func TestReadLatest(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	env.sleeps = nil

	// first attempt: data not ready yet
	env.bus.Expect(AddrDefault, "e000", "")
	env.bus.ExpectErr(AddrDefault, "", i2c.ErrMockNack)
	env.bus.Expect(AddrDefault, "e000", "")
	env.bus.Expect(AddrDefault, "", word(rawTemperature(23.5))+word(rawHumidity(55.2)))
	env.clock.Set(5000)
	r, err := env.sensor.ReadLatest(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.5, r.Temperature, 0.01)
	assert.InDelta(t, 55.2, r.Humidity, 0.01)
	assert.Equal(t, timebase.Tick(5000), r.Tick)
	assert.Equal(t, []time.Duration{time.Millisecond}, env.sleeps)
	assert.Equal(t, uint32(1), env.sensor.Stat().Reads)
	assert.False(t, env.sensor.Stat().LastRead.IsZero())
	env.bus.ExpectationsWereMet()
}

func TestReadLatestTimeout(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	env.sleeps = nil

	// ReadTimeout=3ms PollDelay=1ms -> 4 attempts
	for i := 0; i < 4; i++ {
		env.bus.Expect(AddrDefault, "e000", "")
		env.bus.ExpectErr(AddrDefault, "", i2c.ErrMockNack)
	}
	_, err := env.sensor.ReadLatest(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrMeasurementReadFailed, errors.Cause(err))
	assert.Contains(t, err.Error(), "not ready")
	assert.Len(t, env.sleeps, 3)
	assert.True(t, env.sensor.Initialized(), "read failure must not invalidate session")
	env.bus.ExpectationsWereMet()
}

func TestReadLatestChecksum(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))

	env.bus.Expect(AddrDefault, "e000", "")
	env.bus.Expect(AddrDefault, "", word(rawTemperature(20))+"000000")
	_, err := env.sensor.ReadLatest(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrMeasurementReadFailed, errors.Cause(err))
	assert.Contains(t, err.Error(), "checksum")
	env.bus.ExpectationsWereMet()
}

func TestReadLatestCancel(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.bus.Expect(AddrDefault, "e000", "")
	env.bus.ExpectErr(AddrDefault, "", i2c.ErrMockNack)
	_, err := env.sensor.ReadLatest(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrMeasurementReadFailed, errors.Cause(err))
	env.bus.ExpectationsWereMet()
}

func TestStop(t *testing.T) {
	t.Parallel()
	env := testEnv(t, AddrDefault)
	env.expectInit(AddrDefault, 0)
	require.NoError(t, env.sensor.Initialize(context.Background()))
	env.bus.Expect(AddrDefault, "3093", "")
	require.NoError(t, env.sensor.Stop())
	assert.False(t, env.sensor.Initialized())
	env.bus.ExpectationsWereMet()
}

func TestConvert(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, -45, convertTemperature(0), 0.001)
	assert.InDelta(t, 130, convertTemperature(0xffff), 0.001)
	assert.InDelta(t, 0, convertHumidity(0), 0.001)
	assert.InDelta(t, 100, convertHumidity(0xffff), 0.001)
}

func TestPeriodicCommand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0x2126), PeriodicCommand(Rate1, RepeatabilityMedium))
	assert.Equal(t, uint16(0x2737), PeriodicCommand(Rate10, RepeatabilityHigh))
	assert.Equal(t, time.Second, Rate1.Period())
	r, err := ParseRate("")
	require.NoError(t, err)
	assert.Equal(t, Rate1, r)
	_, err = ParseRepeatability("ultra")
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0000", Status(0).String())
	assert.Equal(t, "8010 alert reset", (StatusAlertPending | StatusResetDetected).String())
}

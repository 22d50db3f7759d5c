package led

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envtele/log2"
	gpio "github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

const testPin uint32 = 17

func testLED(t testing.TB) (*LED, *gpio_mock.MockChip, *gpio_mock.MockLines, *[]byte) {
	values := &[]byte{}
	chip := &gpio_mock.MockChip{}
	lines := &gpio_mock.MockLines{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, testPin).Return(lines, nil)
	lines.On("SetFunc", testPin).Return(gpio.LineSetFunc(func(v byte) { *values = append(*values, v) }))
	lines.On("Flush").Return(nil)
	l, err := NewChip(chip, testPin, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	return l, chip, lines, values
}

func TestLED(t *testing.T) {
	t.Parallel()
	l, chip, lines, values := testLED(t)
	assert.False(t, l.On())
	require.NoError(t, l.Set(true))
	assert.True(t, l.On())
	require.NoError(t, l.Toggle())
	require.NoError(t, l.Toggle())
	assert.Equal(t, []byte{0, 1, 0, 1}, *values)

	lines.On("Close").Return(nil)
	chip.On("Close").Return(nil)
	require.NoError(t, l.Close())
	assert.Equal(t, []byte{0, 1, 0, 1, 0}, *values)
	chip.AssertExpectations(t)
	lines.AssertExpectations(t)
}

func TestOpenLinesError(t *testing.T) {
	t.Parallel()
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, testPin).Return((*gpio_mock.MockLines)(nil), errors.New("device busy"))
	_, err := NewChip(chip, testPin, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
}

func TestInitialWriteErrorReleasesLines(t *testing.T) {
	t.Parallel()
	chip := &gpio_mock.MockChip{}
	lines := &gpio_mock.MockLines{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, testPin).Return(lines, nil)
	lines.On("SetFunc", testPin).Return(gpio.LineSetFunc(func(v byte) {}))
	lines.On("Flush").Return(errors.New("EIO"))
	lines.On("Close").Return(nil)
	l, err := NewChip(chip, testPin, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.Nil(t, l)
	lines.AssertCalled(t, "Close")
	chip.AssertNotCalled(t, "Close")
}

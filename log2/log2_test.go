package log2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fun  func(t testing.TB, l *Log) string
	}{
		{"caller/debug", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Debugf("poll attempt=%d", 3)
			return formatCallerShort(1) + "debug: poll attempt=3\n"
		}},
		{"caller/info", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Infof("link state=%s", "Connected")
			return formatCallerShort(1) + "link state=Connected\n"
		}},
		{"caller/error", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Errorf("halted")
			return formatCallerShort(1) + "error: halted\n"
		}},
		{"prefix/nested", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.WithPrefix("net").WithPrefix("scan").Infof("found=%d", 3)
			return "net: scan: found=3\n"
		}},
		{"level/filter", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.SetLevel(LInfo)
			l.Debugf("hidden")
			l.Infof("shown")
			return "shown\n"
		}},
		{"writer/info", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			fmt.Fprintf(l.Writer(LInfo), "GET /status %d\n", 200)
			return "GET /status 200\n"
		}},
		{"error-func/error", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			exactError := fmt.Errorf("no I2C device found")
			l.Error(exactError)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, exactError, e)
			}
			return "error: no I2C device found\n"
		}},
		{"error-func/string", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			l.Errorf("rssi=%d below %d", -91, -80)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, "rssi=-91 below -80", e.Error())
			}
			return "error: rssi=-91 below -80\n"
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			c.fun(t, nil)
		})
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, LAll)
			expect := c.fun(t, l)
			assert.Equal(t, expect, buf.String())
		})
	}
}

func BenchmarkReadingLine(b *testing.B) {
	// typical agent line: one per sample
	const format = "temperature=%.2f humidity=%.2f tick=%d"
	cases := []struct {
		name string
		f    FmtFunc
	}{
		{"stdlib", log.New(ioutil.Discard, "", 0).Printf},
		{"info", func() FmtFunc { l := NewWriter(ioutil.Discard, LInfo); l.SetFlags(0); return l.Infof }()},
		{"debug-filtered", func() FmtFunc { l := NewWriter(ioutil.Discard, LInfo); l.SetFlags(0); return l.Debugf }()},
	}
	for _, c := range cases {
		c := c
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				c.f(format, 23.5, 55.25, i)
			}
		})
	}
}

func TestLevelWriterFiltered(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LInfo)
	l.SetFlags(0)
	n, err := io.WriteString(l.Writer(LDebug), "GET /health 200\n")
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Empty(t, buf.String())
}

func callerShort(depth int) (file string, line int) {
	var ok bool
	_, file, line, ok = runtime.Caller(depth)
	if !ok {
		file = "???"
		line = 0
	}

	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	file = short

	return
}

func formatCallerShort(depth int) string {
	file, line := callerShort(depth + 1)
	return fmt.Sprintf("%s:%d: ", file, line-1)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	l := NewTest(t, LDebug)
	ctx := ContextWithLogger(context.Background(), l)
	assert.Equal(t, l, ContextValueLogger(ctx))
	assert.Nil(t, ContextValueLogger(context.Background()))
}

func TestWithPrefixFollowsParent(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	root := NewWriter(buf, LInfo)
	root.SetFlags(0)
	child := root.WithPrefix("sht3x")
	child.Debugf("read %x", []byte{0x66, 0x11})
	assert.Empty(t, buf.String())

	root.SetLevel(LDebug)
	child.Debugf("read %x", []byte{0x66, 0x11})
	assert.Equal(t, "sht3x: debug: read 6611\n", buf.String())

	var got error
	root.SetErrorFunc(func(e error) { got = e })
	child.WithPrefix("status").Errorf("checksum mismatch")
	require.Error(t, got)
	assert.Equal(t, "checksum mismatch", got.Error())

	// Clone stays independent
	buf.Reset()
	clone := root.Clone(LInfo)
	root.SetLevel(LError)
	clone.Infof("kept")
	child.Infof("dropped")
	assert.Equal(t, "kept\n", buf.String())
}

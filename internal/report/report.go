// Package report delivers readings to the collector over HTTP.
// Each reading is one POST, no queue and no retry: a reading that can not
// be delivered now is dropped and the next sample replaces it.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers/atomic_clock"
	"github.com/temoto/envtele/internal/types"
	"github.com/temoto/envtele/log2"
)

const modName string = "report"

const (
	DefaultEndpoint       = "http://192.168.1.132:8000/api/add_lectura"
	DefaultTimeout        = 10 * time.Second
	DefaultKeyTemperature = "temperatura"
	DefaultKeyHumidity    = "humedad"
	HeaderRequestId       = "X-Request-Id"
	bodyLimit             = 512
)

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrDeliveryFailed     = errors.New("delivery failed")
)

// DeliveryError carries collector response or transport error.
// StatusCode is 0 when no response was received.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery failed: status=%d body=%q", e.StatusCode, e.Body)
}

// AsDeliveryError finds DeliveryError in annotation chain of err.
func AsDeliveryError(err error) (*DeliveryError, bool) {
	for err != nil {
		if de, ok := err.(*DeliveryError); ok {
			return de, true
		}
		u, ok := err.(interface{ Underlying() error })
		if !ok {
			return nil, false
		}
		err = u.Underlying()
	}
	return nil, false
}

// Connector is the part of network manager reporter depends on.
type Connector interface {
	Connected() bool
	Connect(ctx context.Context) error
}

type Config struct {
	Endpoint       string
	Timeout        time.Duration
	KeyTemperature string
	KeyHumidity    string
	Transport      http.RoundTripper // nil = http.DefaultTransport
}

type Stat struct {
	Sent        uint32
	Failed      uint32
	Dropped     uint32
	LastSuccess atomic_clock.Clock
}

type Reporter struct {
	Log    *log2.Log
	net    Connector
	client *http.Client
	config Config
	stat   Stat
}

func New(net Connector, config Config, log *log2.Log) *Reporter {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.KeyTemperature == "" {
		config.KeyTemperature = DefaultKeyTemperature
	}
	if config.KeyHumidity == "" {
		config.KeyHumidity = DefaultKeyHumidity
	}
	return &Reporter{
		Log: log.WithPrefix(modName),
		net: net,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		config: config,
	}
}

func (r *Reporter) Endpoint() string { return r.config.Endpoint }
func (r *Reporter) Stat() *Stat      { return &r.stat }

// Report sends one reading. When network is down, exactly one Connect attempt is made.
func (r *Reporter) Report(ctx context.Context, reading types.Reading) error {
	if !r.net.Connected() {
		r.Log.Infof("WiFi disconnected, attempting to reconnect...")
		if err := r.net.Connect(ctx); err != nil {
			atomic.AddUint32(&r.stat.Dropped, 1)
			return errors.Wrapf(err, ErrNetworkUnavailable, "reading dropped (%s) err=%v", reading, err)
		}
	}

	body, err := r.Payload(reading)
	if err != nil {
		atomic.AddUint32(&r.stat.Failed, 1)
		return errors.Annotate(err, "report payload")
	}
	err = r.post(ctx, body)
	if err != nil {
		atomic.AddUint32(&r.stat.Failed, 1)
		return err
	}
	atomic.AddUint32(&r.stat.Sent, 1)
	r.stat.LastSuccess.SetNow()
	return nil
}

// Payload renders reading as collector JSON object.
func (r *Reporter) Payload(reading types.Reading) ([]byte, error) {
	return json.Marshal(map[string]float32{
		r.config.KeyTemperature: reading.Temperature,
		r.config.KeyHumidity:    reading.Humidity,
	})
}

func (r *Reporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(&DeliveryError{Err: err}, ErrDeliveryFailed, "endpoint=%s", r.config.Endpoint)
	}
	req = req.WithContext(ctx)
	rid := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestId, rid)
	r.Log.Debugf("POST %s id=%s body=%s", r.config.Endpoint, rid, body)

	resp, err := r.client.Do(req)
	if err != nil {
		r.Log.Errorf("HTTP request failed id=%s err=%v", rid, err)
		return errors.Wrapf(&DeliveryError{Err: err}, ErrDeliveryFailed, "id=%s", rid)
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		r.Log.Debugf("response body read id=%s err=%v", rid, err)
	}
	text := strings.TrimSpace(string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.Log.Errorf("HTTP error code=%d id=%s response=%s", resp.StatusCode, rid, text)
		derr := &DeliveryError{StatusCode: resp.StatusCode, Body: text, Err: errors.New(resp.Status)}
		return errors.Wrapf(derr, ErrDeliveryFailed, "id=%s", rid)
	}
	r.Log.Infof("data sent successfully code=%d response=%s", resp.StatusCode, text)
	return nil
}

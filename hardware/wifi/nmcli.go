package wifi

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

const nmcliQueryTimeout = 5 * time.Second

type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, errors.Annotatef(err, "%s %s stderr=%s", name, strings.Join(args, " "), bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Nmcli drives NetworkManager through its command line client.
type Nmcli struct {
	Iface string
	run   RunFunc
}

func NewNmcli(iface string) *Nmcli {
	return &Nmcli{Iface: iface, run: execRun}
}

func NewNmcliRunner(iface string, run RunFunc) *Nmcli {
	return &Nmcli{Iface: iface, run: run}
}

func (n *Nmcli) Scan(ctx context.Context) ([]Network, error) {
	out, err := n.run(ctx, "nmcli", "--terse", "--fields", "SSID,SIGNAL,SECURITY",
		"device", "wifi", "list", "ifname", n.Iface, "--rescan", "yes")
	if err != nil {
		return nil, errors.Annotate(err, "wifi scan")
	}
	return parseScan(out)
}

func (n *Nmcli) Join(ctx context.Context, ssid string) error {
	args := []string{"device", "wifi", "connect", ssid, "ifname", n.Iface}
	if dl, ok := ctx.Deadline(); ok {
		if wait := int(time.Until(dl) / time.Second); wait > 0 {
			args = append([]string{"--wait", strconv.Itoa(wait)}, args...)
		}
	}
	_, err := n.run(ctx, "nmcli", args...)
	return errors.Annotatef(err, "wifi join ssid=%s", ssid)
}

func (n *Nmcli) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliQueryTimeout)
	defer cancel()
	out, err := n.run(ctx, "nmcli", "--terse", "--fields", "GENERAL.STATE", "device", "show", n.Iface)
	if err != nil {
		return false
	}
	return parseDeviceState(out) == 100
}

func (n *Nmcli) RSSI() (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliQueryTimeout)
	defer cancel()
	out, err := n.run(ctx, "nmcli", "--terse", "--fields", "IN-USE,SIGNAL",
		"device", "wifi", "list", "ifname", n.Iface, "--rescan", "no")
	if err != nil {
		return 0, errors.Annotate(err, "wifi rssi")
	}
	for _, line := range bytes.Split(out, []byte{'\n'}) {
		fields := splitTerse(string(line))
		if len(fields) == 2 && fields[0] == "*" {
			signal, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, errors.Annotatef(err, "wifi rssi parse line=%q", line)
			}
			return SignalToDBm(signal), nil
		}
	}
	return 0, errors.NotFoundf("wifi rssi: no active network on %s", n.Iface)
}

func (n *Nmcli) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliQueryTimeout)
	defer cancel()
	_, err := n.run(ctx, "nmcli", "device", "disconnect", n.Iface)
	// not active is fine
	if err != nil && strings.Contains(err.Error(), "not active") {
		return nil
	}
	return errors.Annotate(err, "wifi disconnect")
}

// SignalToDBm converts NetworkManager signal quality 0..100 to approximate dBm.
func SignalToDBm(signal int) int32 {
	if signal < 0 {
		signal = 0
	} else if signal > 100 {
		signal = 100
	}
	return int32(signal/2 - 100)
}

func parseScan(out []byte) ([]Network, error) {
	lines := bytes.Split(out, []byte{'\n'})
	nets := make([]Network, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fields := splitTerse(string(line))
		if len(fields) != 3 {
			return nil, errors.NotValidf("wifi scan line=%q", line)
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Annotatef(err, "wifi scan signal line=%q", line)
		}
		nets = append(nets, Network{
			SSID: fields[0],
			RSSI: SignalToDBm(signal),
			Auth: ParseSecurity(fields[2]),
		})
	}
	return nets, nil
}

// "GENERAL.STATE:100 (connected)" -> 100
func parseDeviceState(out []byte) int {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// splitTerse splits nmcli --terse line on ':' honoring '\:' and '\\' escapes.
func splitTerse(line string) []string {
	line = strings.TrimRight(line, "\r")
	fields := make([]string, 0, 4)
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

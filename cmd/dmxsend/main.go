// dmxsend pushes test DMX values at a bridge: either raw ArtDMX datagrams
// to one address, or through an Art-Net controller with node discovery.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"artnet2ha/internal/artnet"
	goartnet "github.com/Haba1234/go-artnet"
)

var (
	target   string
	cidr     string
	universe int
	values   string
	count    int
	interval time.Duration
	wait     time.Duration
)

func init() {
	flag.StringVar(&target, "target", "", "Send raw ArtDMX to this host:port instead of using a controller")
	flag.StringVar(&cidr, "cidr", "192.168.6.0/24", "Network range of the Art-Net interface (controller mode)")
	flag.IntVar(&universe, "universe", 0, "Universe to address")
	flag.StringVar(&values, "values", "", "Channel values to send, e.g. 1=255,2=128,5=0")
	flag.IntVar(&count, "count", 1, "How many frames to send")
	flag.DurationVar(&interval, "interval", 50*time.Millisecond, "Delay between frames")
	flag.DurationVar(&wait, "wait", 3*time.Second, "Node discovery time before sending (controller mode)")
}

func main() {
	flag.Parse()

	channels, err := parseValues(values)
	if err != nil {
		fmt.Printf("bad -values: %v\n", err)
		os.Exit(1)
	}

	if target != "" {
		err = sendRaw(channels)
	} else {
		err = sendController(channels)
	}
	if err != nil {
		fmt.Printf("send failed: %v\n", err)
		os.Exit(1)
	}
}

// parseValues turns "1=255,2=128" into a channel slice long enough to carry
// the highest channel named.
func parseValues(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("no channel values given")
	}

	set := map[int]uint8{}
	maxCh := 0
	for _, pair := range strings.Split(s, ",") {
		chStr, valStr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("%q is not channel=value", pair)
		}
		ch, err := strconv.Atoi(chStr)
		if err != nil || ch < 1 || ch > artnet.UniverseSize {
			return nil, fmt.Errorf("channel %q out of range [1,%d]", chStr, artnet.UniverseSize)
		}
		val, err := strconv.Atoi(valStr)
		if err != nil || val < 0 || val > 255 {
			return nil, fmt.Errorf("value %q out of range [0,255]", valStr)
		}
		set[ch] = uint8(val)
		if ch > maxCh {
			maxCh = ch
		}
	}

	channels := make([]byte, maxCh)
	for ch, val := range set {
		channels[ch-1] = val
	}
	return channels, nil
}

func sendRaw(channels []byte) error {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	for i := 0; i < count; i++ {
		pkt := artnet.MarshalDMX(uint16(universe), uint8(i+1), channels)
		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if i < count-1 {
			time.Sleep(interval)
		}
	}
	fmt.Printf("sent %d frames to %s, universe %d\n", count, target, universe)
	return nil
}

func sendController(channels []byte) error {
	ip, err := artnet.FindInterfaceIP(cidr)
	if err != nil {
		return err
	}
	if ip == nil {
		return fmt.Errorf("no interface inside %s", cidr)
	}

	host, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])
	fmt.Printf("using Art-Net IP %s and hostname %s\n", ip, host)

	sender := goartnet.NewController(host, ip, goartnet.NewDefaultLogger("info"), goartnet.MaxFPS(40))
	if err := sender.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	defer sender.Stop()

	time.Sleep(wait)

	var frame [artnet.UniverseSize]byte
	copy(frame[:], channels)
	for i := 0; i < count; i++ {
		sender.SendDMXToAddress(frame, universeToAddress(uint16(universe)))
		if i < count-1 {
			time.Sleep(interval)
		}
	}
	fmt.Printf("sent %d frames via controller, universe %d\n", count, universe)
	return nil
}

// universeToAddress converts a DMX universe number to an Art-Net address:
// high byte Net, low byte SubUni.
func universeToAddress(universe uint16) goartnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return goartnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}

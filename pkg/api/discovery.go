package api

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultDiscoveryPort = 32228
	discoveryRequest     = "launchctldiscovery1"
)

// DiscoveryResponder answers UDP broadcasts so controllers on the local
// network can find the HTTP API port.
type DiscoveryResponder struct {
	addr     string
	port     int
	response []byte
	logger   log.FieldLogger
}

func NewDiscoveryResponder(addr string, port, apiPort int, logger log.FieldLogger) *DiscoveryResponder {
	return &DiscoveryResponder{
		addr:     addr,
		port:     port,
		response: []byte(fmt.Sprintf(`{"ApiPort": %d}`, apiPort)),
		logger:   logger,
	}
}

func (d *DiscoveryResponder) reply(data []byte) ([]byte, bool) {
	if !strings.Contains(string(data), discoveryRequest) {
		return nil, false
	}
	return d.response, true
}

func (d *DiscoveryResponder) Run(ctx context.Context) error {
	buf := make([]byte, 1024)

	listenAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.addr, strconv.Itoa(d.port)))
	if err != nil {
		return fmt.Errorf("cannot resolve discovery address: %v", err)
	}

	sock, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("cannot bind discovery socket: %v", err)
	}
	defer sock.Close()

	d.logger.Debugf("Discovery responder started on %s", sock.LocalAddr())
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Set a read deadline to periodically check for context cancellation
		sock.SetReadDeadline(time.Now().Add(time.Second))

		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			d.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		d.logger.Debugf("Received %q from %s", buf[:n], from)
		if resp, ok := d.reply(buf[:n]); ok {
			if _, err := sock.WriteToUDP(resp, from); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}

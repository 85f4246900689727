package mcpserver

import (
	"net"
	"strconv"
	"time"
)

const (
	tenSeconds  = 10 * time.Second
	fiveSeconds = 5 * time.Second
)

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

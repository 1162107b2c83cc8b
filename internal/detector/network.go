package detector

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const defaultProbeTimeout = 500 * time.Millisecond

// TCPDetector reports alive when Address accepts a TCP connection.
type TCPDetector struct {
	Address string
	Timeout time.Duration
}

func (d TCPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	conn, err := net.DialTimeout("tcp", d.Address, timeout)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Address }

// HTTPDetector reports alive when a GET on URL answers below 500.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func (d HTTPDetector) Alive() (bool, error) {
	c := d.Client
	if c == nil {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		c = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequest(http.MethodGet, d.URL, nil)
	if err != nil {
		return false, fmt.Errorf("http detector: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return false, nil
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }

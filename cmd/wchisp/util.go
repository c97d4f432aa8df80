package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/wchisp/go-wchisp/wchisp"
)

func newSession(ctx context.Context, c *rootConfig, extra ...wchisp.Option) (*wchisp.Session, io.Closer, error) {
	hal, closer, err := openTransport(c)
	if err != nil {
		return nil, nil, err
	}

	opts := append([]wchisp.Option{wchisp.WithLogger(newLogger(c.verbose))}, extra...)
	s, err := wchisp.NewSession(ctx, hal, opts...)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return s, closer, nil
}

func openTransport(c *rootConfig) (wchisp.HAL, io.Closer, error) {
	switch c.transport {
	case "usb":
		u, err := wchisp.OpenUSB()
		if err != nil {
			return nil, nil, err
		}
		return u, u, nil
	case "serial":
		if c.port == "" {
			return nil, nil, errors.New("wchisp: -port is required with the serial transport")
		}
		s, err := wchisp.OpenSerial(c.port, c.baud)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("wchisp: unknown transport %q", c.transport)
	}
}

func newLogger(verbose bool) wchisp.Logger {
	if verbose {
		return log.New(os.Stderr, "", 0)
	}
	return nil
}

// printProgress returns a progress callback that draws a percentage line
// on w, advancing in whole-percent steps.
func printProgress(w io.Writer) wchisp.ProgressFunc {
	last := -1
	return func(p wchisp.Progress) {
		pct := int(p.Percentage)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "\r%s: %3d%% (%d/%d bytes)", p.Stage, pct, p.Written, p.Total)
		if pct >= 100 {
			fmt.Fprintln(w)
		}
	}
}

func readFirmware(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("wchisp: %s is empty", path)
	}
	return data, nil
}

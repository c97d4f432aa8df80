package main

import (
	"context"
	"flag"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type rootConfig struct {
	verbose   bool
	transport string
	port      string
	baud      int
}

func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "increase log verbosity")
	fs.StringVar(&c.transport, "t", "usb", "transport type, usb or serial")
	fs.StringVar(&c.port, "port", "", "serial port name, e.g. /dev/ttyUSB0")
	fs.IntVar(&c.baud, "baud", 0, "serial baud rate, 0 uses the bootloader default")
}

func (c *rootConfig) Exec(context.Context, []string) error {
	return flag.ErrHelp
}

func newRootCmd() (*ffcli.Command, *rootConfig) {
	var cfg rootConfig

	fs := flag.NewFlagSet("wchisp", flag.ExitOnError)
	cfg.registerFlags(fs)

	return &ffcli.Command{
		Name:       "wchisp",
		ShortUsage: "wchisp [flags] <subcommand>",
		ShortHelp:  "Flash WCH microcontrollers over the factory ISP bootloader.",
		LongHelp: `Flash WCH microcontrollers over the factory ISP bootloader.

Put the chip into bootloader mode (BOOT0 strap or blank chip) and connect
it over USB or a UART bridge. With -t usb the first chip found in
bootloader mode is used; with -t serial, -port selects the line.`,
		FlagSet: fs,
		Exec:    cfg.Exec,
	}, &cfg
}

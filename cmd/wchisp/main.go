/*
wchisp is a tool to flash WCH microcontrollers over their factory ISP
bootloader.

It talks to chips in bootloader mode over USB or a serial line.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	out := os.Stdout

	rootCmd, cfg := newRootCmd()
	rootCmd.Subcommands = []*ffcli.Command{
		newInfoCmd(cfg, out),
		newFlashCmd(cfg, out),
		newVerifyCmd(cfg, out),
		newResetCmd(cfg, out),
		newEEPROMEraseCmd(cfg, out),
		newEEPROMDumpCmd(cfg, out),
	}

	// The first interrupt cancels the context so an in-flight command
	// can finish its round trip; once cancelled, default signal handling
	// is restored and a second interrupt terminates immediately.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := rootCmd.ParseAndRun(ctx, os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "%s: interrupted\n", rootCmd.Name)
		os.Exit(130)
	default:
		// Library errors already carry the module prefix; drop it so the
		// message reads as coming from the tool.
		msg := strings.TrimPrefix(err.Error(), "wchisp: ")
		fmt.Fprintf(os.Stderr, "%s: %s\n", rootCmd.Name, msg)
		os.Exit(1)
	}
}

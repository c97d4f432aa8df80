package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/wchisp/go-wchisp/wchisp"
)

type flashConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	noVerify   bool
	noReset    bool
}

func (c *flashConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	firmware, err := readFirmware(args[0])
	if err != nil {
		return err
	}

	s, closer, err := newSession(ctx, c.rootConfig, wchisp.WithProgress(printProgress(os.Stderr)))
	if err != nil {
		return err
	}
	defer closer.Close()

	chip := s.Chip()
	if uint32(len(firmware)) > chip.FlashSize {
		return fmt.Errorf("wchisp: image of %d bytes exceeds %d bytes of flash on %s",
			len(firmware), chip.FlashSize, chip.Name)
	}

	fmt.Fprintf(c.out, "Flashing %d bytes to %s\n", len(firmware), chip)
	if err := s.Flash(ctx, firmware); err != nil {
		return err
	}

	if !c.noVerify {
		if err := s.Verify(ctx, firmware); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Verify OK")
	}
	if !c.noReset {
		if err := s.Reset(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.out, "Done")
	return nil
}

func newFlashCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := flashConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp flash", flag.ExitOnError)
	fs.BoolVar(&cfg.noVerify, "no-verify", false, "skip verification after programming")
	fs.BoolVar(&cfg.noReset, "no-reset", false, "stay in bootloader mode afterwards")
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "flash",
		ShortUsage: "wchisp flash [flags] <firmware.bin>",
		ShortHelp:  "Program a raw firmware image into code flash.",
		LongHelp: `Program a raw firmware image into code flash.

A read-protected chip is unprotected first. The image is verified after
programming and the chip is reset into the application unless disabled.`,
		FlagSet: fs,
		Exec:    cfg.Exec,
	}
}

type verifyConfig struct {
	rootConfig *rootConfig
	out        io.Writer
}

func (c *verifyConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	firmware, err := readFirmware(args[0])
	if err != nil {
		return err
	}

	s, closer, err := newSession(ctx, c.rootConfig, wchisp.WithProgress(printProgress(os.Stderr)))
	if err != nil {
		return err
	}
	defer closer.Close()

	// Verification needs the session key the same way programming does.
	if err := s.SetupKey(ctx); err != nil {
		return err
	}
	if err := s.Verify(ctx, firmware); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Verify OK")
	return nil
}

func newVerifyCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := verifyConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp verify", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "verify",
		ShortUsage: "wchisp verify <firmware.bin>",
		ShortHelp:  "Check code flash content against a firmware image.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}
}

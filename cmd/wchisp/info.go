package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/wchisp/go-wchisp/wchisp/chipdb"
)

type infoConfig struct {
	rootConfig *rootConfig
	out        io.Writer
}

func (c *infoConfig) Exec(ctx context.Context, _ []string) error {
	s, closer, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Fprint(c.out, s.ChipInfo())

	db, err := chipdb.Default()
	if err != nil {
		return err
	}
	chip := s.Chip()
	if !db.IsSupported(chip.ChipID, chip.DeviceType) {
		fmt.Fprintln(c.out, "Note: chip is not in the device table; using conservative defaults.")
	}
	return nil
}

func newInfoCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := infoConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp info", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "info",
		ShortUsage: "wchisp info",
		ShortHelp:  "Identify the connected chip and print its state.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}
}

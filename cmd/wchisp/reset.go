package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type resetConfig struct {
	rootConfig *rootConfig
	out        io.Writer
}

func (c *resetConfig) Exec(ctx context.Context, _ []string) error {
	s, closer, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := s.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s reset into application\n", s.Chip().Name)
	return nil
}

func newResetCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := resetConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp reset", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "reset",
		ShortUsage: "wchisp reset",
		ShortHelp:  "Leave the bootloader and reset into the application.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}
}

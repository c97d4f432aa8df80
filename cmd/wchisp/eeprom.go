package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type eepromEraseConfig struct {
	rootConfig *rootConfig
	out        io.Writer
}

func (c *eepromEraseConfig) Exec(ctx context.Context, _ []string) error {
	s, closer, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := s.EraseEEPROM(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Erased %d bytes of EEPROM on %s\n", s.Chip().EEPROMSize, s.Chip().Name)
	return nil
}

func newEEPROMEraseCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := eepromEraseConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp eeprom-erase", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "eeprom-erase",
		ShortUsage: "wchisp eeprom-erase",
		ShortHelp:  "Erase the data EEPROM.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}
}

type eepromDumpConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	file       string
}

func (c *eepromDumpConfig) Exec(ctx context.Context, _ []string) error {
	s, closer, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := s.SetupKey(ctx); err != nil {
		return err
	}
	data, err := s.ReadEEPROM(ctx)
	if err != nil {
		return err
	}

	if c.file != "" {
		if err := os.WriteFile(c.file, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Wrote %d bytes to %s\n", len(data), c.file)
		return nil
	}

	d := hex.Dumper(c.out)
	defer d.Close()
	_, err = d.Write(data)
	return err
}

func newEEPROMDumpCmd(rootConfig *rootConfig, out io.Writer) *ffcli.Command {
	cfg := eepromDumpConfig{rootConfig: rootConfig, out: out}

	fs := flag.NewFlagSet("wchisp eeprom-dump", flag.ExitOnError)
	fs.StringVar(&cfg.file, "o", "", "write EEPROM contents to `file` instead of a hex dump")
	rootConfig.registerFlags(fs)

	return &ffcli.Command{
		Name:       "eeprom-dump",
		ShortUsage: "wchisp eeprom-dump [flags]",
		ShortHelp:  "Read the data EEPROM and dump it.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}
}

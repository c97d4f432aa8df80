// Package wchisp drives WCH microcontrollers through their factory ISP
// bootloader in Go.
//
// It implements the command/response protocol spoken by the bootloader,
// identifies the connected chip against a packaged device table, and
// sequences the full flashing cycle: unprotect, erase, key negotiation,
// chunked program, chunked verify and reset into the application.
//
// Communication happens over a HAL, either the bundled USB bulk or serial
// implementations or a caller-supplied one.
//
// # Protocol
//
// The wire protocol is the one observed on CH32/CH55x bootloaders and
// implemented by the wchisp tooling. It is strictly half duplex: one
// command in flight per device, one response per command.
package wchisp

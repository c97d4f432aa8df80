package wchisp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// USB identifiers of the WCH factory bootloader.
const (
	vendorWCH     = 0x4348
	vendorQinHeng = 0x1a86

	productBootloader = 0x55e0

	// Bulk endpoints used by the bootloader.
	usbEndpointOut = 2 // 0x02
	usbEndpointIn  = 2 // 0x82
)

// SupportedDevice reports whether a (vendor, product) pair is a WCH chip
// in bootloader mode.
func SupportedDevice(vendorID, productID uint16) bool {
	if productID != productBootloader {
		return false
	}
	return vendorID == vendorWCH || vendorID == vendorQinHeng
}

// USBDev is a HAL over the bootloader's USB bulk endpoints.
type USBDev struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

// OpenUSB opens the first connected device in bootloader mode.
func OpenUSB() (*USBDev, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return SupportedDevice(uint16(desc.Vendor), uint16(desc.Product))
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("wchisp: enumerate usb devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, errors.New("wchisp: no device in bootloader mode found")
	}

	// Take the first match, release the rest.
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	u, err := wrapUSB(ctx, dev)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return u, nil
}

func wrapUSB(ctx *gousb.Context, dev *gousb.Device) (*USBDev, error) {
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("wchisp: claim usb configuration: %w", err)
	}

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("wchisp: claim usb interface: %w", err)
	}

	in, err := intf.InEndpoint(usbEndpointIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("wchisp: open IN endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("wchisp: open OUT endpoint: %w", err)
	}

	return &USBDev{ctx: ctx, dev: dev, cfg: cfg, intf: intf, in: in, out: out}, nil
}

// Write sends one raw frame over the OUT endpoint.
func (u *USBDev) Write(p []byte) (int, error) {
	return u.out.Write(p)
}

// Read receives one raw frame from the IN endpoint, blocking up to
// timeout. A timeout is reported as an empty result, not an error.
func (u *USBDev) Read(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, u.in.Desc.MaxPacketSize)
	n, err := u.in.ReadContext(ctx, buf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.TransferCancelled) {
			return nil, nil
		}
		return nil, fmt.Errorf("wchisp: usb read: %w", err)
	}
	return buf[:n], nil
}

// Close releases the interface and the USB context.
func (u *USBDev) Close() error {
	u.intf.Close()
	u.cfg.Close()
	err := u.dev.Close()
	if cerr := u.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

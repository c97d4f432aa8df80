package wchisp

import "time"

// halDebug traces all traffic through the wrapped HAL.
type halDebug struct {
	id   string
	l    Logger
	next HAL
}

func (h *halDebug) Write(p []byte) (int, error) {
	h.l.Printf("%5s >>  send", h.id)
	if len(p) > 0 {
		h.l.Printf("%s", hexDump(p))
	}
	n, err := h.next.Write(p)
	h.l.Printf("%5s <<  send %d %+v", h.id, n, err)
	return n, err
}

func (h *halDebug) Read(timeout time.Duration) ([]byte, error) {
	h.l.Printf("%5s >>  recv(%v)", h.id, timeout)
	b, err := h.next.Read(timeout)
	h.l.Printf("%5s <<  recv %d %+v", h.id, len(b), err)
	if len(b) > 0 {
		h.l.Printf("%s", hexDump(b))
	}
	return b, err
}

package wchisp

import (
	"time"

	"github.com/wchisp/go-wchisp/wchisp/chipdb"
)

// Progress is a snapshot of a running program or verify pass, passed to
// the progress callback. Callbacks should return quickly; they run on the
// flashing goroutine between chunks.
type Progress struct {
	// Stage is "program" or "verify".
	Stage string
	// Address is the byte offset of the chunk just completed.
	Address uint32
	// Written is the number of payload bytes done so far.
	Written int
	// Total is the full image size in bytes.
	Total int
	// Percentage is Written over Total, 0 to 100.
	Percentage float64
}

// ProgressFunc receives progress snapshots during program and verify.
type ProgressFunc func(Progress)

type sessionOptions struct {
	cfg      Config
	db       *chipdb.DB
	progress ProgressFunc
}

// Option configures a session at open time.
type Option func(*sessionOptions)

// WithLogger routes protocol traces and warnings to l.
func WithLogger(l Logger) Option {
	return func(o *sessionOptions) {
		o.cfg.Debug = l
	}
}

// WithProgress registers a progress callback for program and verify.
func WithProgress(fn ProgressFunc) Option {
	return func(o *sessionOptions) {
		o.progress = fn
	}
}

// WithTimeout overrides the default command round-trip deadline. Kind
// specific deadlines (erase, per-chunk program/verify) are unaffected.
func WithTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.cfg.Timeout = d
		}
	}
}

// WithGracePeriod overrides the pause between sending a command and
// polling for its response.
//
// The default is an observed heuristic; changing it should be validated
// against hardware.
func WithGracePeriod(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.cfg.GracePeriod = d
		}
	}
}

// WithChipDB resolves identities against db instead of the embedded
// table.
func WithChipDB(db *chipdb.DB) Option {
	return func(o *sessionOptions) {
		o.db = db
	}
}

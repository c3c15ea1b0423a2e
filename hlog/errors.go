package hlog

import "errors"

// ErrNotOnDevice is returned by a Device when the requested offset was never
// flushed (or has since been truncated). The engine treats this as the
// terminal case of a chain walk below HeadAddress, not a fatal error.
var ErrNotOnDevice = errors.New("hlog: offset not found on device")

package rtcpstats

import "errors"

var (
	ErrNoWriter       = errors.New("rtcpstats: report writer required")
	ErrClosed         = errors.New("rtcpstats: reporter closed")
	ErrTooManyStreams = errors.New("rtcpstats: stream limit reached")
)

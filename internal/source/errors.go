package source

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrSelectorNotFound means an expected element is missing. Recoverable.
	ErrSelectorNotFound = errors.New("selector not found")
	// ErrTimeout means a page interaction ran out of time. Recoverable unless it keeps happening.
	ErrTimeout = errors.New("page interaction timed out")
	// ErrSessionClosed means the browser or tab is gone and the session must be rebuilt.
	ErrSessionClosed = errors.New("browser session closed")
)

// IsFatal reports whether err requires a new session
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// IsTimeout reports whether err is a recoverable timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// closedMarkers are fragments of the errors chromedp and the devtools socket
// return once the target or browser process has died.
var closedMarkers = []string{
	"target closed",
	"invalid context",
	"websocket: close",
	"use of closed network connection",
	"broken pipe",
	"connection reset",
	"browser has disconnected",
}

// classify turns a chromedp error into one of the package errors.
// sessionCtx is the browser context; callerCtx is the per-call context.
func classify(err error, sessionCtx, callerCtx context.Context) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSelectorNotFound) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrSessionClosed) {
		return err
	}
	if sessionCtx.Err() != nil {
		return errors.Join(ErrSessionClosed, err)
	}
	if callerCtx.Err() != nil {
		// The caller gave up (stop or shutdown); not the page's fault.
		return callerCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return errors.Join(ErrSessionClosed, err)
		}
	}
	return err
}

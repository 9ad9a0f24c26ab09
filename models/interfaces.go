package models

import "context"

// RoundSession is a live connection to the results page
type RoundSession interface {
	ID() string
	// Changed does the cheap bar read and reports whether a new round appeared
	Changed(ctx context.Context) (bool, error)
	// ReadRecent does the full history read, newest first
	ReadRecent(ctx context.Context) ([]RawRound, error)
	Close() error
}

// SessionDialer acquires a new RoundSession
type SessionDialer interface {
	Dial(ctx context.Context) (RoundSession, error)
}

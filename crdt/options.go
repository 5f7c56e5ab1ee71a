package crdt

import (
	"ycrdt/common"
)

// Options configures a document.
type Options struct {
	// ClientID identifies this replica. Zero values are replaced by an id
	// from common.NewClientID unless SetClientID is true.
	ClientID    common.ClientID
	SetClientID bool

	// GUID names the document. A random one is generated when empty.
	GUID string

	// GC enables garbage collection of deleted content on commit.
	GC bool
}

// Option modifies Options.
type Option func(*Options)

// DefaultOptions returns the options used by NewDoc.
func DefaultOptions() *Options {
	return &Options{
		GC: true,
	}
}

// WithClientID sets the replica id of the document.
func WithClientID(id common.ClientID) Option {
	return func(o *Options) {
		o.ClientID = id
		o.SetClientID = true
	}
}

// WithGUID sets the document GUID.
func WithGUID(guid string) Option {
	return func(o *Options) {
		o.GUID = guid
	}
}

// WithGC enables or disables garbage collection.
func WithGC(enabled bool) Option {
	return func(o *Options) {
		o.GC = enabled
	}
}

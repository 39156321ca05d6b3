// Package config holds the compiled-in tunables named throughout spec.md.
// The core's invocation surface is two positional arguments (spec.md §6);
// there is nothing else for a flag or env parser to read, so every other
// knob here is a Go literal rather than something loaded from a file.
package config

import "time"

// Config bundles every tunable default named in spec.md §4 and §5.
type Config struct {
	NumConnTasks     int
	NumHandleTasks   int
	NumDownloadTasks int

	MaxClaimPerPeer int
	BlockSize       int64

	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	UnchokeTimeout    time.Duration
	BlockReadTimeout  time.Duration
	TrackerTimeout    time.Duration

	ProgressInterval time.Duration
	ListenPort       uint16

	// ConnectRate bounds outbound TCP connection attempts per second made by
	// the pipeline's connect stage, to avoid a thundering herd against a
	// freshly announced peer list.
	ConnectRate  float64
	ConnectBurst int

	// RecentlyContactedTTL is the short window during which a peer address
	// that was already taken from the peer queue (whether or not its dial
	// succeeded) is skipped when it comes round again, per the "peer dedup"
	// design note in spec.md §9.
	RecentlyContactedTTL time.Duration
}

// Default returns the configuration spec.md names as defaults throughout.
func Default() Config {
	return Config{
		NumConnTasks:     4,
		NumHandleTasks:   2,
		NumDownloadTasks: 8,

		MaxClaimPerPeer: 30,
		BlockSize:       16 * 1024,

		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		UnchokeTimeout:   30 * time.Second,
		BlockReadTimeout: 30 * time.Second,
		TrackerTimeout:   1 * time.Second,

		ProgressInterval: 10 * time.Second,
		ListenPort:       6881,

		ConnectRate:  20,
		ConnectBurst: 20,

		RecentlyContactedTTL: 2 * time.Minute,
	}
}

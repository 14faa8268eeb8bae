package state

import "time"

// Tunables are vars rather than consts so tests can shrink them.
var (
	HeartbeatInterval   = time.Second * 30
	BeaconInterval      = time.Second * 60
	OptimizeInterval    = time.Minute * 5
	SweepInterval       = time.Minute * 1
	ProcessInterval     = time.Millisecond * 250
	TopologyRateLimit   = time.Second * 30
	NodeStaleTimeout    = time.Second * 300
	RouteStaleTimeout   = time.Minute * 5
	LinkDecayWindow     = time.Minute * 10
	AckTimeout          = time.Second * 30
	DedupTTL            = time.Second * 30
	SyncInterval        = time.Second * 120
	SyncTimeout         = time.Second * 120
	ReferenceStaleAfter = 3 * SyncTimeout
	SnapshotInterval    = time.Minute * 5

	// BackoffBase is the initial channel-busy backoff; it doubles with jitter
	// up to BackoffCap and resets after a successful transmission.
	BackoffBase = time.Millisecond * 100
	BackoffCap  = time.Second * 2

	SendQueueCapacity = 10

	MaxHops              = uint8(8)
	EfficiencyThreshold  = 0.8
	LoadBalanceThreshold = 0.7
	LoadSwitchRatio      = 0.8
	AltReliabilityFactor = 0.9
	ReliabilityPenalty   = 10.0
	SyncAccuracyFloor    = 0.5

	// Advertised edges arrive without a direct measurement; they enter the
	// link table with a nominal quality and per-hop latency.
	AdvertisedLinkQuality = 0.7
	NominalHopLatency     = time.Millisecond * 50

	// MaxFrameSize bounds a whole frame on the radio link.
	MaxFrameSize = 1024
)

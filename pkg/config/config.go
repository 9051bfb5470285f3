package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultBackend      = "badger"
	DefaultDataDir      = "./data"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageGB = 1
	DefaultTimezone     = "UTC"
	DefaultKafkaTopic   = "room-usage-events"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Server timeouts
const (
	ReadHeaderTimeout = 10 * time.Second
	ReadTimeout       = 30 * time.Second
	WriteTimeout      = 60 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
)

// Upload timeouts and limits
const (
	UploadTimeout       = 60 * time.Second
	NotifyTimeout       = 5 * time.Second
	MaxUploadBodyBytes  = 32 << 20
	MaxSamplesPerUpload = 100000
	MaxRoomsPerUpload   = 64
	MaxRoomNameLength   = 128
)

// Read timeouts
const (
	PeriodsTimeout = 30 * time.Second
	RoomsTimeout   = 5 * time.Second
	StatsTimeout   = 5 * time.Second
	UsageTimeout   = 30 * time.Second
	ExportTimeout  = 60 * time.Second
)

// Health: the upload monitor turns unhealthy after this many consecutive failures
const MaxConsecutiveUploadFailures = 3

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

package config

import "time"

// Store defaults
const (
	DefaultDataDir     = "./data/tinyfeat"
	DefaultMaxMemoryMB = 48
	BadgerGCInterval   = 10 * time.Minute
	BadgerGCDiscard    = 0.5
)

// Runner defaults
const (
	DefaultCheckpointEvery = 500
	DefaultMasterMemoSize  = 10000
	DefaultWhich           = "missing"
)

// Sync defaults
const (
	DefaultRemotePath = "./data/tinyfeat/remote.db"
	DefaultSyncMode   = "null"
	RemotePoolSize    = 4
)

// Server defaults
const (
	DefaultListenAddr   = ":8080"
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 10 * time.Second
	ShutdownTimeout     = 30 * time.Second
	SummaryTimeout      = 10 * time.Second
	StorageUsageCache   = 10 * time.Second
	DefaultMaxStorageGB = 1
)

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

// Export limits
const (
	MaxImportRows    = 1_000_000
	MaxImportColumns = 100_000
)

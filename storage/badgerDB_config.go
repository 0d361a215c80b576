package storage

import "time"

type BadgerDBConfig struct {
	DataDir        string
	DisableLogging bool
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration // 0 disables the GC loop
}

func DefaultConfig(dataDir string) BadgerDBConfig {
	return BadgerDBConfig{
		DataDir:        dataDir,
		DisableLogging: true,
		InMemory:       false,
		SyncWrites:     true,
		GCInterval:     time.Hour,
	}
}

// InMemoryConfig is an ephemeral store, used by tests and local runs.
func InMemoryConfig() BadgerDBConfig {
	return BadgerDBConfig{
		DisableLogging: true,
		InMemory:       true,
	}
}

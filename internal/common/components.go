package common

const (
	ComponentSupervisor        = "supervisor"
	ComponentRPCPool           = "rpc-pool"
	ComponentTimestamps        = "timestamps"
	ComponentReorgDetector     = "reorg-detector"
	ComponentStreamRunner      = "stream-runner"
	ComponentRangeProcessor    = "range-processor"
	ComponentReceiverIndexer   = "receiver-indexer"
	ComponentReceiverDiscovery = "receiver-discovery"
	ComponentInstance          = "instance"
	ComponentStore             = "store"
	ComponentMigrations        = "migrations"
	ComponentMetrics           = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentSupervisor:        {},
	ComponentRPCPool:           {},
	ComponentTimestamps:        {},
	ComponentReorgDetector:     {},
	ComponentStreamRunner:      {},
	ComponentRangeProcessor:    {},
	ComponentReceiverIndexer:   {},
	ComponentReceiverDiscovery: {},
	ComponentInstance:          {},
	ComponentStore:             {},
	ComponentMigrations:        {},
	ComponentMetrics:           {},
}

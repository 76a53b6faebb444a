// Package app composes the raffle coordinator with its ledger, randomness
// oracle, keeper and event fan-out, and manages their lifecycle.
//
//	internal/app/
//	├── application.go      # wiring and lifecycle
//	├── domain/             # raffle, ledger and randomness models
//	├── events/             # event bus, websocket hub, Redis sink
//	├── httpapi/            # REST handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # config-driven process bootstrap
//	├── services/           # coordinator, ledger, oracles, keeper
//	├── storage/            # store interfaces, memory and Postgres
//	└── system/             # lifecycle manager
//
// The HTTP layer and the runtime depend on this package; services never do.
package app

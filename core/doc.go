// Package core contains the domain model shared by every Engram package:
// conversations, turns, the four-layer context, signals, durable log entries
// and the collaborator interfaces (memory, reasoning, security) the
// coordinator depends on. It has no dependencies on other Engram packages so
// that stores, gateways and the coordinator can all be built against it
// without import cycles.
package core

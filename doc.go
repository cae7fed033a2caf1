// Package namos maintains an inventory of a cloud deployment: its regions,
// devices, endpoints and drivers, and the services running on it down to
// each worker process and the configuration it loaded.
//
// Workers register with the conductor over NATS. A registration is
// materialized into the topology graph, driver records are resolved against
// the known devices, and the conductor keeps track of each worker's
// liveness from its heartbeats.
//
// # Layout
//
//   - model: entities of the topology graph and the registration payload
//   - storage: typed tables over memory, badger, NATS KV and postgres backends
//   - registration, discovery, liveness: the write side run by the conductor
//   - topology: perspectives and the 360 view read by queries
//   - conductor, rpcapi: the NATS request/reply server and its client
//   - gateway: the REST facade over rpcapi
//
// The binaries live under cmd: namos-conductor serves the RPC topic,
// namos-api serves the REST facade and namos-manage administers the store.
package namos

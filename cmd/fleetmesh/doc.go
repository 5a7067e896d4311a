// Command fleetmesh runs a mesh node: the gossip membership agent, the
// task distributor, and the admin HTTP API, individually or together.
package main

// Package app is the composition root: it materializes typed component
// configs from the config file, wires the services together, and owns the
// start/stop ordering.
package app

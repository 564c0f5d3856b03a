// Package server hosts the two listening surfaces of the service: the media
// websocket server that carries call audio, and the HTTP API for health,
// session inspection, configuration, and Prometheus metrics.
package server

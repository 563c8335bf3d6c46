// Package transport holds the JSON wire envelope shared by every external
// entry point of the bridge (HTTP, Redis lists, RabbitMQ RPC).
package transport

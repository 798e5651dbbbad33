// Package agentlog provides structured logging for the device agent using zerolog.
//
// Init must be called once at process start; WithComponent/WithDeployment/
// WithGroup derive child loggers carrying the relevant identifiers so that
// every log line from a deployment's lifecycle can be correlated.
package agentlog

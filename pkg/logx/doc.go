// Package logx is jobsched's structured logging: a thin Logger over zerolog
// whose sinks (console, JSON stdout, rotated file) can be swapped at runtime
// when the config file is reloaded.
package logx

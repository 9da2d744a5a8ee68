package cachecore

import "log/slog"

// BaseConfig contains shared, backend-agnostic driver configuration.
type BaseConfig struct {
	// Prefix namespaces keys in shared backends.
	Prefix string
	// Codec serializes values for backends that store bytes.
	Codec Codec
	// Logger receives driver diagnostics. Nil discards them.
	Logger *slog.Logger
}

// LoggerOrDiscard returns l, or a logger that drops every record when l is nil.
func LoggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// CodecOrDefault returns c, or JSONCodec when c is nil.
func CodecOrDefault(c Codec) Codec {
	if c != nil {
		return c
	}
	return JSONCodec{}
}

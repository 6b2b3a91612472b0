// Package logger wraps a zap sugared logger for the packager.
//
// One global console logger writes to stderr at a level shared by every
// derived logger, so SetLevel after config load affects loggers already
// stored in contexts. Services pull their logger from the context and tag it
// with WithName and WithKV; the KV helpers are the only logging entry points.
package logger

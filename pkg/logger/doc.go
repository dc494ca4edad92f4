// Package logger provides the structured logger used by the ORD registry.
//
// ZapLogger implements core.Logger on top of go.uber.org/zap. Every log call
// takes a map of structured fields:
//
//	log.Info("Registry snapshot published", map[string]interface{}{
//	    "operation":  "registry_rebuild",
//	    "generation": 4,
//	    "resources":  120,
//	})
//
// # Formats
//
//   - json: one JSON object per line, for log collectors
//   - text: zap's console encoding, for local development
//
// # Levels
//
// Supported levels in order of severity are debug, info, warn and error.
// The level can be changed at runtime with SetLevel; loggers derived with
// With share the level of their parent.
//
// # Component loggers
//
// With returns a child logger that adds fixed fields to every entry:
//
//	storeLog := log.With(map[string]interface{}{"component": "store"})
package logger

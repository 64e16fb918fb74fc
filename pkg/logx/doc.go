// Package logx configures lulubot's structured logging.
//
// Logger is a small value type on top of zerolog. Service owns the sinks:
//   - console (short timestamp + short caller)
//   - JSON file
//   - optional Telegram admin chat (min-level + rate limited, never blocks)
package logx

// Package storage provides the persistence layer used by the bot.
//
// It stores:
//   - user profiles (settings, usage counters, last timer starts)
//   - the global usage totals folded in by the daily reset
//   - audit log appends (operator actions)
package storage

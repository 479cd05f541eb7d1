// Package tgui provides small Telegram text helpers:
//   - HTML escaping for ParseMode="HTML"
//   - A message builder for command replies and text artifacts
//   - Rune-safe truncation and chunking to Telegram's message limit
package tgui

// Package tgui formats text for Telegram's HTML and legacy Markdown parse
// modes. Everything that takes user input escapes it.
package tgui

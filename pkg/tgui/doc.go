// Package tgui builds message text for Telegram's HTML parse mode.
//
// Values of type H are already escaped; plain strings go through Esc (or one
// of the tag helpers) before they are joined into a message.
package tgui

// Package storage persists named documents for the bot.
//
// Every document is read in full and written in full (whole-document
// overwrite). Callers own the encoding; subscription and dedup stores keep
// JSON documents here.
package storage

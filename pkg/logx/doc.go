// Package logx is kibot's logging layer: a value-type Logger over zerolog
// whose output follows the live logging config. Records go to a readable
// console, an optional JSON file, and optionally to a chat group for
// warnings and errors.
package logx

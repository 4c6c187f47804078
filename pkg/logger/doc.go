// Package logger provides slog construction and shared log attribute
// helpers for the pushkit packages.
package logger

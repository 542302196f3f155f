// Package logx is the structured logger used across ipwatch: a small value
// type over zerolog with typed fields, plus a Service that swaps outputs at
// runtime (console, file, chat) when the config reloads.
package logx

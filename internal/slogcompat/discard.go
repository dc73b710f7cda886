// Package slogcompat backports log/slog helpers missing from older toolchains.
package slogcompat

import (
	"context"
	"log/slog"
)

// DiscardHandler mirrors slog.DiscardHandler (Go 1.24+): it is never enabled
// and drops every record.
var DiscardHandler slog.Handler = discardHandler{}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

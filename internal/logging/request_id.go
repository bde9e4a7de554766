// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDField is the log field that carries the resolution's request ID.
const RequestIDField = "request_id"

type requestIDKey struct{}

// NewRequestID returns a short random identifier for one resolution.
func NewRequestID() string {
	return uuid.NewString()[:8]
}

// WithRequestID returns a context carrying id. An existing ID is kept.
func WithRequestID(ctx context.Context, id string) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the ID carried by ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns a log entry tagged with ctx's request ID.
func FromContext(ctx context.Context) *log.Entry {
	entry := log.NewEntry(log.StandardLogger())
	if id := RequestID(ctx); id != "" {
		entry = entry.WithField(RequestIDField, id)
	}
	return entry
}

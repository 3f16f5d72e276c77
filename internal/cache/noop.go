package cache

import (
	"context"
	"time"
)

// Noop never stores anything. Every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Invalidate(context.Context, string) error { return nil }

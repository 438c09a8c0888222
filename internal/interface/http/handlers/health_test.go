package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("test")
	c.AddCheck("postgres", NewPingCheck(pinger{}))
	c.AddDetail("pool", func() any { return map[string]int{"total": 3} })

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "All checks passed", status.Message)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, map[string]int{"total": 3}, status.Details["pool"])

	c.AddCheck("redis", NewPingCheck(pinger{err: errors.New("connection refused")}))
	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

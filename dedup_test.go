package helpdesk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestDedupGuard_Claim(t *testing.T) {
	ctx := context.Background()
	g := NewDedupGuard(NewMemoryStore(), 0, nil)

	assert.Equal(t, DefaultDedupTTL, g.ttl)

	assert.True(t, g.Claim(ctx, "1"))
	assert.False(t, g.Claim(ctx, "1"))
	assert.False(t, g.Claim(ctx, "1"))
	assert.True(t, g.Claim(ctx, "2"))

	// Events without id cannot be deduplicated.
	assert.True(t, g.Claim(ctx, ""))
	assert.True(t, g.Claim(ctx, ""))
}

func TestDedupGuard_FailsOpen(t *testing.T) {
	log := new(MockLogger)
	log.On("Error", "cannot claim event, processing anyway", mock.Anything).Once()

	g := NewDedupGuard(failingStore{err: errStoreDown}, 0, log)

	assert.True(t, g.Claim(context.Background(), "1"))
	log.AssertExpectations(t)
}

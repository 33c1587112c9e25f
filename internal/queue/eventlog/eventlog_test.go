package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/queue"
)

func TestNewProducerDisabledWithoutBrokers(t *testing.T) {
	p := NewProducer(Config{})
	require.Nil(t, p)
	require.NoError(t, p.Append(context.Background(), "u1", queue.Event{Kind: queue.EventEnqueued}))
	p.Close() // must not panic on a nil receiver
}

func TestNewReplayerDisabledWithoutBrokers(t *testing.T) {
	r := NewReplayer(Config{})
	require.Nil(t, r)
	jobs, err := r.ReplaySince(context.Background())
	require.NoError(t, err)
	require.Nil(t, jobs)
	require.NoError(t, r.Close())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Brokers: []string{"localhost:9092"}}
	cfg.applyDefaults()
	require.Equal(t, "vault.synthesis.events", cfg.Topic)
	require.Equal(t, "vault-orphan-recovery", cfg.GroupID)
}

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartIsIdempotent(t *testing.T) {
	s := New(Config{SynthesisInterval: 5 * time.Millisecond})
	s.Start(context.Background())
	s.Start(context.Background())
	require.True(t, s.Running())
	s.Stop()
	require.False(t, s.Running())
}

func TestSynthesisDriverFiresRepeatedly(t *testing.T) {
	var count int32
	s := New(Config{
		SynthesisInterval: 5 * time.Millisecond,
		UtilityInterval:   time.Hour,
		OrphanInterval:    time.Hour,
		RunSynthesisBatch: func(_ context.Context) { atomic.AddInt32(&count, 1) },
	})
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestStopCancelsAllDrivers(t *testing.T) {
	var synthCount, utilCount int32
	s := New(Config{
		SynthesisInterval: 5 * time.Millisecond,
		UtilityInterval:   5 * time.Millisecond,
		OrphanInterval:    5 * time.Millisecond,
		RunSynthesisBatch: func(_ context.Context) { atomic.AddInt32(&synthCount, 1) },
		RunUtilityUpdate:  func(_ context.Context) { atomic.AddInt32(&utilCount, 1) },
	})
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&synthCount)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&synthCount))
}

func TestManualTriggerInvokesRoutineWithoutStarting(t *testing.T) {
	var called bool
	s := New(Config{RunOrphanSweep: func(_ context.Context) { called = true }})
	s.TriggerOrphanSweep(context.Background())
	require.True(t, called)
	require.False(t, s.Running())
}

func TestInactivityDriverFiresRepeatedly(t *testing.T) {
	var count int32
	s := New(Config{
		SynthesisInterval:    time.Hour,
		UtilityInterval:      time.Hour,
		OrphanInterval:       time.Hour,
		InactivityInterval:   5 * time.Millisecond,
		RunInactivityTimeout: func(_ context.Context) { atomic.AddInt32(&count, 1) },
	})
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestManualTriggerInactivityTimeoutInvokesRoutineWithoutStarting(t *testing.T) {
	var called bool
	s := New(Config{RunInactivityTimeout: func(_ context.Context) { called = true }})
	s.TriggerInactivityTimeout(context.Background())
	require.True(t, called)
	require.False(t, s.Running())
}

func TestDefaultsApplied(t *testing.T) {
	s := New(Config{})
	require.Equal(t, 10*time.Second, s.cfg.SynthesisInterval)
	require.Equal(t, 24*time.Hour, s.cfg.UtilityInterval)
	require.Equal(t, time.Hour, s.cfg.OrphanInterval)
	require.Equal(t, 5*time.Minute, s.cfg.InactivityInterval)
}

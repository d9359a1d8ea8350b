package pharmadesk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/pharmadesk/core"
)

func TestSchedulerAdd(t *testing.T) {
	s := NewScheduler(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Add("disabled", "", noop))
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Add("sweep", "*/5 * * * *", noop))
	assert.Equal(t, 1, s.Len())

	err := s.Add("broken", "* * *", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, s.Len())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestAppSchedulesEnabledJobs(t *testing.T) {
	config := testConfig(t)
	config.Rates.Refresh = "*/15 * * * *"
	config.Chat.Sweep = "0 * * * *"

	app, err := New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { app.cleanup() })

	// catalog reload is left unscheduled
	assert.Equal(t, 2, app.scheduler.Len())
}

type recordingPublisher struct {
	kinds    []string
	payloads []any
}

func (p *recordingPublisher) Publish(ctx context.Context, kind string, payload any) error {
	p.kinds = append(p.kinds, kind)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestFeedForwarder(t *testing.T) {
	pub := &recordingPublisher{}
	f := feedForwarder{publisher: pub}

	e := &core.GroupEvent{Type: core.EventAgentNotify, RoomID: 7}
	require.NoError(t, f.NotifyFeed(context.Background(), e))

	assert.Equal(t, []string{core.EventAgentNotify}, pub.kinds)
	assert.Same(t, e, pub.payloads[0])
}

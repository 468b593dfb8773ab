package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/pagewatch/internal/watch"
)

func TestPublishRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	err := p.Publish(context.Background(), watch.ChangeEvent{EventID: "e1", PageID: 7, URL: "https://example.com"})
	require.NoError(t, err)

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, int64(7), events[0].PageID)
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	p := New()
	p.FailWith(errors.New("broker down"))

	err := p.Publish(context.Background(), watch.ChangeEvent{EventID: "e1"})
	assert.Error(t, err)
	assert.Empty(t, p.Events())
}

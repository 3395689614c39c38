package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id1, err := p.Publish(context.Background(), "runs", map[string]int{"total": 3})
	require.NoError(t, err)
	id2, err := p.Publish(context.Background(), "runs", map[string]int{"total": 7})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "runs", msgs[0].Topic)
}

func TestPublishConcurrent(t *testing.T) {
	t.Parallel()

	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Publish(context.Background(), "runs", struct{}{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, p.Messages(), 20)
}

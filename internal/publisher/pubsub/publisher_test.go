package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublisher_PublishesJSON(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	_, err := client.CreateTopic(ctx, "scrape-events")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()

	event := scraper.ScrapeEvent{RecordID: "rec-1", Keyword: "notebook", Total: 4}
	id, err := pub.Publish(ctx, "scrape-events", event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var got scraper.ScrapeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, event, got)
}

func TestPublisher_ReusesTopicHandles(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)

	_, err := client.CreateTopic(ctx, "t")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()
	for range 3 {
		_, err := pub.Publish(ctx, "t", map[string]int{"n": 1})
		require.NoError(t, err)
	}
	assert.Len(t, pub.topics, 1)
}

func TestPublisher_Validation(t *testing.T) {
	ctx := context.Background()

	var nilPub *Publisher
	_, err := nilPub.Publish(ctx, "t", "x")
	require.Error(t, err)

	_, client := newTestClient(t)
	pub := New(client)
	_, err = pub.Publish(ctx, "", "x")
	require.Error(t, err)
	_, err = pub.Publish(ctx, "t", make(chan int))
	require.Error(t, err)
}

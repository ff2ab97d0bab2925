//go:build integration

package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	amqplib "github.com/streadway/amqp"
)

func TestPublisher_Broker(t *testing.T) {
	ctx := context.Background()

	container, err := testutil.NewRabbitMQContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	p, err := Dial(Config{URL: container.URL, Exchange: "progress.test"})
	require.NoError(t, err)

	conn, err := amqplib.Dial(container.URL)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	require.NoError(t, err)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "campaign.#", "progress.test", false, nil))

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	p.Notify(ctx, sentEvent())
	require.NoError(t, p.Close(ctx))

	select {
	case d := <-deliveries:
		assert.Equal(t, "campaign.message_sent", d.RoutingKey)

		var env Envelope
		require.NoError(t, json.Unmarshal(d.Body, &env))
		assert.NotEmpty(t, env.ID)
		assert.Equal(t, "camp-1", env.CampaignID)
	case <-time.After(10 * time.Second):
		t.Fatal("no delivery received")
	}
}

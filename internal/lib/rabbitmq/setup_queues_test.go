package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNotificationQueues(t *testing.T) {
	queues := GetNotificationQueues()

	require.NotEmpty(t, queues, "queues list should not be empty")

	// Очередь напоминаний должна существовать: на неё опирается планировщик.
	var hasReminder bool
	seen := map[string]bool{}
	for _, q := range queues {
		assert.Falsef(t, seen[q.QueueName], "duplicate queue name: %s", q.QueueName)
		seen[q.QueueName] = true
		if q.RoutingKey == RouteReminder {
			hasReminder = true
		}
	}
	assert.True(t, hasReminder)
}

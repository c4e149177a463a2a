package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskmate/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ActivityQueue publishes task change events to an Azure storage queue.
type ActivityQueue struct {
	queue queueClient
}

// NewActivityQueue connects to the named queue.
func NewActivityQueue(connStr, queueName string) (*ActivityQueue, error) {
	opts := azqueue.ClientOptions{ClientOptions: clientOptions()}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &ActivityQueue{queue: q}, nil
}

// Record enqueues ev on behalf of userID.
func (a *ActivityQueue) Record(ctx context.Context, userID string, ev domain.TaskEvent) error {
	data, err := json.Marshal(domain.TaskEventEnvelope{UserID: userID, Event: ev})
	if err != nil {
		return err
	}
	_, err = a.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

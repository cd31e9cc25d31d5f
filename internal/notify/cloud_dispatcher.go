package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudDispatcher uses Google Cloud Tasks for durable, at-least-once
// notification delivery. Each Emit() enqueues one HTTP task per matching
// subscriber.
//
// Cloud Tasks handles:
//   - Retry with exponential backoff (configured at queue level)
//   - Dead-letter queue (DLQ) for permanently failed deliveries
//   - Rate limiting per queue
//
// Falls back to the in-memory Dispatcher when a task cannot be enqueued.
type CloudDispatcher struct {
	registry  *Registry
	client    *cloudtasks.Client
	queuePath string
	logger    *log.Logger
	fallback  *Dispatcher // in-memory fallback for local dev
}

// NewCloudDispatcher creates a Cloud Tasks-backed dispatcher.
// projectID, locationID, queueID identify the Cloud Tasks queue.
// If fallbackWorkers > 0, an in-memory Dispatcher is also created as fallback.
func NewCloudDispatcher(
	registry *Registry,
	projectID, locationID, queueID string,
	fallbackWorkers int,
) (*CloudDispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s",
		projectID, locationID, queueID)

	cd := &CloudDispatcher{
		registry:  registry,
		client:    client,
		queuePath: queuePath,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
	}

	if fallbackWorkers > 0 {
		cd.fallback = NewDispatcher(registry, fallbackWorkers)
	}

	cd.logger.Printf("Connected to Cloud Tasks queue: %s", queuePath)
	return cd, nil
}

// Emit enqueues a Cloud Task per matching subscriber. Each task is an HTTP
// POST to the subscriber URL with the signed Notification payload.
func (cd *CloudDispatcher) Emit(eventType string, subject string, data map[string]interface{}) {
	subscribers := cd.registry.GetSubscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	event := &Notification{
		ID:        fmt.Sprintf("evt-%d", time.Now().UnixNano()),
		Type:      eventType,
		Source:    "/api/v1/access",
		Timestamp: time.Now(),
		Subject:   subject,
		Data:      data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		cd.logger.Printf("Failed to marshal notification: %v", err)
		return
	}

	for _, sub := range subscribers {
		cd.enqueueTask(sub, event, payload)
	}
}

// enqueueTask creates a single Cloud Task for one subscriber.
func (cd *CloudDispatcher) enqueueTask(sub *Subscription, event *Notification, payload []byte) {
	headers := map[string]string{
		"Content-Type":               "application/json",
		"X-Accessd-Event-Type":       event.Type,
		"X-Accessd-Event-ID":         event.ID,
		"X-Accessd-Delivery-Attempt": "1",
	}

	if sub.Secret != "" {
		sig := SignPayload(payload, sub.Secret)
		headers["X-Accessd-Signature"] = "sha256=" + sig
	}

	req := &taskspb.CreateTaskRequest{
		Parent: cd.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        sub.URL,
					Headers:    headers,
					Body:       payload,
				},
			},
		},
	}

	// Non-blocking: enqueue in a goroutine to avoid latency in the hot path
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := cd.client.CreateTask(ctx, req); err != nil {
			cd.logger.Printf("Cloud Task enqueue failed: %s -> %s: %v",
				event.ID, sub.URL, err)

			if cd.fallback != nil {
				cd.fallback.Emit(event.Type, event.Subject, event.Data)
			}
		}
	}()
}

// Shutdown gracefully shuts down the Cloud Tasks client and fallback dispatcher.
func (cd *CloudDispatcher) Shutdown() {
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		cd.logger.Printf("Cloud Tasks client close error: %v", err)
	}
}

var _ Emitter = (*CloudDispatcher)(nil)

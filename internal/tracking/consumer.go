package tracking

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/embermail/dispatch/internal/model"
	"github.com/embermail/dispatch/internal/store"
)

// Consumer drains the tracking queue and persists events. Failed events are
// left on the queue for redelivery; malformed ones are dropped.
type Consumer struct {
	sqsClient *sqs.Client
	queueURL  string
	store     store.Store
	done      chan struct{}
}

func NewConsumer(sqsClient *sqs.Client, queueURL string, st store.Store) *Consumer {
	return &Consumer{
		sqsClient: sqsClient,
		queueURL:  queueURL,
		store:     st,
		done:      make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[Tracking] SQS consumer started (queue=%s)", c.queueURL)
	go c.poll(ctx)
}

func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Tracking] SQS receive error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt Event
			if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
				log.Printf("[Tracking] SQS bad message: %v", err)
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := c.processEvent(ctx, evt); err != nil {
				log.Printf("[Tracking] SQS process error (%s): %v", evt.EventType, err)
				continue
			}

			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
}

func (c *Consumer) processEvent(ctx context.Context, evt Event) error {
	accountID, err := uuid.Parse(evt.AccountID)
	if err != nil {
		log.Printf("[Tracking] dropping event with bad account id %q", evt.AccountID)
		return nil
	}
	campaignID, err := uuid.Parse(evt.CampaignID)
	if err != nil {
		log.Printf("[Tracking] dropping event with bad campaign id %q", evt.CampaignID)
		return nil
	}
	messageID, err := uuid.Parse(evt.MessageID)
	if err != nil {
		log.Printf("[Tracking] dropping event with bad message id %q", evt.MessageID)
		return nil
	}

	record := &model.DeliveryEvent{
		ID:         uuid.New(),
		MessageID:  messageID,
		CampaignID: campaignID,
		AccountID:  accountID,
		Type:       evt.EventType,
		LinkURL:    evt.LinkURL,
		IPAddress:  evt.IPAddress,
		UserAgent:  evt.UserAgent,
		OccurredAt: evt.Timestamp,
	}
	if err := c.store.InsertDeliveryEvent(ctx, record); err != nil {
		return err
	}

	log.Printf("[Tracking] recorded %s campaign=%s message=%s", evt.EventType, campaignID, messageID)
	return nil
}

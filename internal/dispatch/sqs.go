package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
)

// sqsClient defines the minimal subset of the SQS client used by the consumer.
type sqsClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer drains runner completions from a results queue. Runners that
// cannot reach the callback endpoint push their results here instead.
type SQSConsumer struct {
	client      sqsClient
	queueURL    string
	completions *Completions
	log         logger.Logger
}

// NewSQSConsumer builds a consumer for the given results queue.
func NewSQSConsumer(ctx context.Context, queueURL, region string, completions *Completions, log logger.Logger) (*SQSConsumer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = &logger.NopLogger{}
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSConsumer{
		client:      sqs.NewFromConfig(awsCfg),
		queueURL:    queueURL,
		completions: completions,
		log:         log,
	}, nil
}

// Run consumes completion messages until the context is cancelled.
func (c *SQSConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.ErrorObj("results queue receive failed", "error", err.Error())
			continue
		}

		for _, msg := range out.Messages {
			if msg.Body == nil {
				continue
			}

			var comp Completion
			if err := json.Unmarshal([]byte(*msg.Body), &comp); err != nil {
				c.log.WarnObj("results queue message malformed", "queue_error", map[string]any{
					"error": err.Error(),
				})
				// malformed messages are dropped, not retried forever
			} else if comp.DispatchID != "" {
				if _, _, err := c.completions.Apply(comp); err != nil {
					c.log.ErrorObj("completion apply failed", "queue_error", map[string]any{
						"dispatch_id": comp.DispatchID,
						"error":       err.Error(),
					})
					// leave the message in flight so SQS redelivers it
					continue
				}
			}

			if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				c.log.WarnObj("results queue delete failed", "queue_error", map[string]any{
					"dispatch_id": comp.DispatchID,
					"error":       err.Error(),
				})
			}
		}
	}
}

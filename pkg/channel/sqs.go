package channel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSChannel implements Channel on an AWS SQS queue. Visibility timeout and
// dead-letter redrive are queue configuration; the channel surfaces the
// delivery attempt from ApproximateReceiveCount so consumers can bound
// their own retries.
type SQSChannel struct {
	client   *sqs.Client
	queueURL string
}

// SQSConfig holds configuration for SQSChannel.
type SQSConfig struct {
	QueueURL string
	Region   string
	Endpoint string // Optional custom endpoint (for LocalStack, etc.)
}

// NewSQSChannel creates an SQS-backed channel.
func NewSQSChannel(ctx context.Context, cfg SQSConfig) (*SQSChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}

	return &SQSChannel{
		client:   sqs.NewFromConfig(awsCfg, clientOpts),
		queueURL: cfg.QueueURL,
	}, nil
}

func (c *SQSChannel) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	if _, err := c.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}
	return nil
}

func (c *SQSChannel) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	waitSecs := int32(wait / time.Second)
	if waitSecs > 20 {
		waitSecs = 20 // SQS long-poll ceiling
	}

	resp, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       waitSecs,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	msg := resp.Messages[0]
	attempt := 1
	if count, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(count); err == nil {
			attempt = n
		}
	}

	return &Message{
		ID:      aws.ToString(msg.MessageId),
		Receipt: aws.ToString(msg.ReceiptHandle),
		Body:    []byte(aws.ToString(msg.Body)),
		Attempt: attempt,
	}, nil
}

func (c *SQSChannel) Ack(ctx context.Context, receipt string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

func (c *SQSChannel) Extend(ctx context.Context, receipt string, d time.Duration) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs visibility change failed: %w", err)
	}
	return nil
}

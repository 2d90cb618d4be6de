package sqsmq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/zlnvch/pageboard/mq"
)

type SQSMessageQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, err
	}

	queueURL, err := getQueueURL(client, ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("given queue name '%s' not found in SQS: %w", queueName, err)
	}

	return &SQSMessageQueue{client: client, queueURL: queueURL}, nil
}

func (sqsmq *SQSMessageQueue) Send(ctx context.Context, body string) error {
	return sendMessage(sqsmq, ctx, body)
}

func (sqsmq *SQSMessageQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	return receiveMessage(sqsmq, ctx, visibilityTimeout)
}

func (sqsmq *SQSMessageQueue) Delete(ctx context.Context, msg *mq.Message) error {
	return deleteMessage(sqsmq, ctx, msg)
}

var _ mq.MessageQueue = (*SQSMessageQueue)(nil)

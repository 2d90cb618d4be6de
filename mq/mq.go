package mq

import (
	"context"
	"encoding/json"
	"fmt"
)

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	// Receive returns nil when no message arrived within the poll window.
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}

const TypePurgePage = "purgePage"

// PurgePageMessage asks a worker to delete the archived actions of Page with
// an id below Before.
type PurgePageMessage struct {
	Type   string `json:"type"`
	Page   int    `json:"page"`
	Before string `json:"before"`
}

func NewPurgePageMessage(page int, before string) (string, error) {
	data, err := json.Marshal(PurgePageMessage{Type: TypePurgePage, Page: page, Before: before})
	if err != nil {
		return "", fmt.Errorf("marshal purge message: %w", err)
	}
	return string(data), nil
}

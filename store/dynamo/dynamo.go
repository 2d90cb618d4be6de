package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/store"
)

// Pause between delete batches when purging a page.
const purgeThrottle = 50 * time.Millisecond

type DynamoActionStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoActionStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoActionStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoActionStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoActionStore) clearMark(ctx context.Context, page int) (string, error) {
	mark, err := getItem[dynamoClearMark](dynamoStore, ctx, pagePK(page), clearMarkSK, true)
	if errors.Is(err, store.ErrItemNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return mark.Before, nil
}

func (dynamoStore *DynamoActionStore) GetActionRecords(ctx context.Context, page int, limit int) ([]models.Action, error) {
	before, err := dynamoStore.clearMark(ctx, page)
	if err != nil {
		return []models.Action{}, err
	}

	// Newest first, then reversed to oldest first.
	dynamoActions, err := queryAllByPK[dynamoAction](dynamoStore, ctx, actionPK(page), before, false, int32(limit))
	if err != nil {
		return []models.Action{}, err
	}

	actions := make([]models.Action, 0, len(dynamoActions))
	for i := len(dynamoActions) - 1; i >= 0; i-- {
		actions = append(actions, actionFromDynamo(dynamoActions[i]))
	}

	return actions, nil
}

func (dynamoStore *DynamoActionStore) WriteActionBatch(ctx context.Context, actions []models.Action) ([]models.Action, error) {
	var writeRequests []types.WriteRequest
	for _, action := range actions {
		avMap, err := attributevalue.MarshalMap(actionToDynamo(action))
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: avMap,
			},
		})
	}

	unprocessed, err := writeBatchRequests[dynamoAction](dynamoStore, ctx, writeRequests)

	unwritten := make([]models.Action, 0, len(unprocessed))
	for _, u := range unprocessed {
		unwritten = append(unwritten, actionFromDynamo(u))
	}

	return unwritten, err
}

func (dynamoStore *DynamoActionStore) SetClearMark(ctx context.Context, page int, before string) error {
	mark := dynamoClearMark{PK: pagePK(page), SK: clearMarkSK, Before: before}
	err := putItemIfNewer(dynamoStore, ctx, mark, "Before", before)
	if errors.Is(err, store.ErrConditionFailed) {
		// A later clear already moved the mark.
		return nil
	}
	return err
}

func (dynamoStore *DynamoActionStore) DeletePageActions(ctx context.Context, page int, before string) error {
	return batchDeleteByPKThrottled(dynamoStore, ctx, actionPK(page), before, purgeThrottle)
}

var _ store.ActionStore = (*DynamoActionStore)(nil)

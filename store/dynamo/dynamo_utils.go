package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/pageboard/store"
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	var cfg aws.Config
	var err error

	if devMode {
		// Load config with dummy credentials and region for local/dev
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		// Override endpoint for DynamoDB locally
		return dynamodb.New(dynamodb.Options{
			Credentials:      cfg.Credentials,
			Region:           cfg.Region,
			EndpointResolver: dynamodb.EndpointResolverFromURL(dynamodbEndpoint),
		}), nil
	}

	// Production/Fargate: default config (uses Task Role and AWS endpoints)
	cfg, err = config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	output, err := client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	return output.TableNames, nil
}

// getItem retrieves an item of type T from DynamoDB by PK and SK
func getItem[T any](dynamoStore *DynamoActionStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	// Build the key
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}

	// Get the item
	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            key,
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	// Unmarshal into T
	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

// queryAllByPK returns items of type T with the given PK and an SK above
// skAfter, ordered by SK, with a limit. An empty skAfter matches every SK.
func queryAllByPK[T any](dynamoStore *DynamoActionStore, ctx context.Context, pk string, skAfter string, scanIndexForward bool, limit int32) ([]T, error) {
	var results []T

	keyCond := "PK = :pk"
	exprAttrValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skAfter != "" {
		keyCond += " AND SK > :sk"
		exprAttrValues[":sk"] = &types.AttributeValueMemberS{Value: skAfter}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(dynamoStore.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: exprAttrValues,
		ScanIndexForward:          aws.Bool(scanIndexForward),
	}

	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// dynamodb applies limit per page, so the limit is also enforced globally
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)

	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}

		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}

	return results, nil
}

// putItemIfNewer writes item unless the stored item already has field at or
// above value. Returns store.ErrConditionFailed when the write was skipped.
func putItemIfNewer[T any](dynamoStore *DynamoActionStore, ctx context.Context, item T, field string, value string) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #f < :v"),
		ExpressionAttributeNames: map[string]string{
			"#f": field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// writeBatchRequests handles batch writes (Put or Delete) with retries
// Returns any unprocessed items as []T
func writeBatchRequests[T any](dynamoStore *DynamoActionStore, ctx context.Context, requests []types.WriteRequest) ([]T, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	backoff := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return unmarshalUnprocessed[T](requests), ctx.Err()
		default:
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return unmarshalUnprocessed[T](requests), fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil, nil // all items processed successfully
		}

		// Prepare next retry set
		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmarshalUnprocessed[T](requests), ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// helper to convert WriteRequests back to []T
func unmarshalUnprocessed[T any](reqs []types.WriteRequest) []T {
	failed := make([]T, 0, len(reqs))
	for _, wr := range reqs {
		if wr.PutRequest != nil {
			var item T
			if err := attributevalue.UnmarshalMap(wr.PutRequest.Item, &item); err == nil {
				failed = append(failed, item)
			}
		} else if wr.DeleteRequest != nil {
			// For deletes, just populate a minimal struct with PK/SK
			var item T
			if err := attributevalue.UnmarshalMap(wr.DeleteRequest.Key, &item); err == nil {
				failed = append(failed, item)
			}
		}
	}
	return failed
}

// batchDeleteByPKThrottled deletes every item under pk with an SK below
// skBefore. Query pages are larger for efficiency, but deletion is done in
// 25-item batches with throttling.
func batchDeleteByPKThrottled(
	dynamoStore *DynamoActionStore,
	ctx context.Context,
	pk, skBefore string,
	throttle time.Duration,
) error {
	var lastEvaluatedKey map[string]types.AttributeValue

	const queryPageSize int32 = 200

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(dynamoStore.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND SK < :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
				":sk": &types.AttributeValueMemberS{Value: skBefore},
			},
			ProjectionExpression: aws.String("PK, SK"),
			Limit:                aws.Int32(queryPageSize),
			ExclusiveStartKey:    lastEvaluatedKey,
		}

		resp, err := dynamoStore.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if len(resp.Items) == 0 {
			return nil
		}

		delRequests := make([]types.WriteRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			pkAttr, okPK := item["PK"]
			skAttr, okSK := item["SK"]
			if !okPK || !okSK {
				continue
			}
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"PK": pkAttr,
						"SK": skAttr,
					},
				},
			})
		}

		if len(delRequests) == 0 {
			return fmt.Errorf("query returned items without PK/SK")
		}

		for i := 0; i < len(delRequests); i += 25 {
			end := min(i+25, len(delRequests))

			startTime := time.Now()

			_, err := writeBatchRequests[map[string]types.AttributeValue](
				dynamoStore,
				ctx,
				delRequests[i:end],
			)
			if err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
			}

			elapsed := time.Since(startTime)
			if elapsed < throttle {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(throttle - elapsed):
				}
			}
		}

		lastEvaluatedKey = resp.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			break
		}
	}

	return nil
}

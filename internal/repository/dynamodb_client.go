package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"neonhub/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps sessions in a single DynamoDB table. Each session is one
// partition holding a META# item and MSG#<generation># items; a reset bumps
// the generation and earlier messages expire through TTL.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamo creates a DynamoDB backed store.
func NewDynamo(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgPrefix returns the sort key prefix of one generation.
func msgPrefix(generation int) string {
	return fmt.Sprintf("%s%06d#", skPrefixMsg, generation)
}

// msgSK orders messages by timestamp, then by position within the turn.
func msgSK(generation int, ts time.Time, order int) string {
	return fmt.Sprintf("%s%s#%d", msgPrefix(generation), ts.UTC().Format(time.RFC3339Nano), order)
}

func (c *DynamoStore) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// CreateSession writes the META# item and the greeting in one transaction.
func (c *DynamoStore) CreateSession(ctx context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	ttl := c.ttlValue()
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                metaItem(session, ttl),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	for i, m := range session.Messages {
		items = append(items, types.TransactWriteItem{Put: c.messagePut(session.ID, session.Generation, m, i, ttl)})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// GetSession reads the META# item and the messages of the current generation
// in chronological order.
func (c *DynamoStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: msgPrefix(session.Generation)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: GetSession query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return domain.Session{}, fmt.Errorf("repository: GetSession unmarshal: %w", err)
			}
			session.Messages = append(session.Messages, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return session, nil
}

// SaveTurn writes both messages and updates META# in one transaction. The
// update is conditioned on the generation read beforehand so a concurrent
// reset makes the write fail instead of leaking into the new generation.
func (c *DynamoStore) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	session, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	ttl := c.ttlValue()
	gen := strconv.Itoa(session.Generation)

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: c.messagePut(sessionID, session.Generation, turn.User, 0, ttl)},
			{Put: c.messagePut(sessionID, session.Generation, turn.Reply, 1, ttl)},
			{
				Update: &types.Update{
					TableName:                aws.String(c.tableName),
					Key:                      metaKey(sessionID),
					UpdateExpression:         aws.String("SET #title = :title, #updated = :updated, #ttl = :ttl ADD #turns :one"),
					ConditionExpression:      aws.String("#gen = :gen"),
					ExpressionAttributeNames: metaAttributeNames(),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":title":   &types.AttributeValueMemberS{Value: turn.Title},
						":updated": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339Nano)},
						":ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
						":one":     &types.AttributeValueMemberN{Value: "1"},
						":gen":     &types.AttributeValueMemberN{Value: gen},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// ResetSession moves the session to the next generation with a greeting.
func (c *DynamoStore) ResetSession(ctx context.Context, sessionID string, greeting domain.Message) (domain.Session, error) {
	session, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: ResetSession: %w", err)
	}
	next := session.Generation + 1
	ttl := c.ttlValue()
	now := c.now().UTC()

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                aws.String(c.tableName),
					Key:                      metaKey(sessionID),
					UpdateExpression:         aws.String("SET #gen = :next, #title = :empty, #turns = :zero, #updated = :updated, #ttl = :ttl"),
					ConditionExpression:      aws.String("#gen = :gen"),
					ExpressionAttributeNames: metaAttributeNames(),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":next":    &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
						":gen":     &types.AttributeValueMemberN{Value: strconv.Itoa(session.Generation)},
						":empty":   &types.AttributeValueMemberS{Value: ""},
						":zero":    &types.AttributeValueMemberN{Value: "0"},
						":updated": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
						":ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
					},
				},
			},
			{Put: c.messagePut(sessionID, next, greeting, 0, ttl)},
		},
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: ResetSession: %w", err)
	}

	session.Generation = next
	session.Title = ""
	session.Turns = 0
	session.UpdatedAt = now
	session.Messages = []domain.Message{greeting}
	return session, nil
}

func (c *DynamoStore) getMeta(ctx context.Context, sessionID string) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            metaKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session, err := itemToMeta(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("decode meta: %w", err)
	}
	session.ID = sessionID
	return session, nil
}

func (c *DynamoStore) messagePut(sessionID string, generation int, msg domain.Message, order int, ttl int64) *types.Put {
	return &types.Put{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(sessionID, msgSK(generation, msg.Timestamp, order), msg, ttl),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	}
}

func metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// metaAttributeNames aliases every META# attribute touched by updates; ttl
// is a DynamoDB reserved word.
func metaAttributeNames() map[string]string {
	return map[string]string{
		"#gen":     "generation",
		"#title":   "title",
		"#turns":   "turns",
		"#updated": "updatedAt",
		"#ttl":     "ttl",
	}
}

func metaItem(s domain.Session, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":         &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":  &types.AttributeValueMemberS{Value: s.ID},
		"title":      &types.AttributeValueMemberS{Value: s.Title},
		"generation": &types.AttributeValueMemberN{Value: strconv.Itoa(s.Generation)},
		"turns":      &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"createdAt":  &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updatedAt":  &types.AttributeValueMemberS{Value: s.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func messageItem(sessionID, sk string, msg domain.Message, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"role":      &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"status":    &types.AttributeValueMemberS{Value: string(msg.Status)},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToMeta(item map[string]types.AttributeValue) (domain.Session, error) {
	generation, err := intAttr(item, "generation")
	if err != nil {
		return domain.Session{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Session{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	created, _ := timeAttr(item, "createdAt")
	updated, _ := timeAttr(item, "updatedAt")
	return domain.Session{
		Title:      title,
		Generation: generation,
		Turns:      turns,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	status, _ := strAttr(item, "status")
	if status == "" {
		status = string(domain.StatusComplete)
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		ID:        id,
		Role:      domain.Role(role),
		Content:   content,
		Status:    domain.MessageStatus(status),
		Timestamp: ts,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

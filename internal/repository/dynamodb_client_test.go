package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"neonhub/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	queryInputs  []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	// copy so pagination tests can inspect each request
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	c, err := NewDynamo(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func makeMeta(id string, generation, turns int, title string) map[string]types.AttributeValue {
	return metaItem(domain.Session{
		ID:         id,
		Title:      title,
		Generation: generation,
		Turns:      turns,
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	}, fixedNow.Unix())
}

func makeMsg(id string, generation int, role domain.Role, content string, order int) map[string]types.AttributeValue {
	msg := domain.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Status:    domain.StatusComplete,
		Timestamp: fixedNow,
	}
	return messageItem("abc", msgSK(generation, msg.Timestamp, order), msg, fixedNow.Unix())
}

func sAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, err := strAttr(item, key)
	require.NoError(t, err)
	return v
}

func TestNewDynamo_NilAPI(t *testing.T) {
	_, err := NewDynamo(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNewDynamo_EmptyTableName(t *testing.T) {
	_, err := NewDynamo(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestCreateSession_WritesMetaAndGreeting(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	session := domain.Session{
		ID:        "abc",
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
		Messages: []domain.Message{
			{ID: "welcome", Role: domain.RoleModel, Content: "Olá!", Status: domain.StatusComplete, Timestamp: fixedNow},
		},
	}

	require.NoError(t, c.CreateSession(context.Background(), session))
	require.NotNil(t, db.lastTxInput)
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)

	meta := items[0].Put
	require.Equal(t, "attribute_not_exists(PK)", *meta.ConditionExpression)
	require.Equal(t, "SESSION#abc", sAttr(t, meta.Item, "PK"))
	require.Equal(t, skMeta, sAttr(t, meta.Item, "SK"))

	greeting := items[1].Put
	require.Equal(t, "welcome", sAttr(t, greeting.Item, "id"))
	require.Contains(t, sAttr(t, greeting.Item, "SK"), "MSG#000000#")
	ttl := greeting.Item["ttl"].(*types.AttributeValueMemberN).Value
	require.Equal(t, strconv.FormatInt(fixedNow.Add(ttlDuration).Unix(), 10), ttl)
}

func TestCreateSession_MissingID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	err := c.CreateSession(context.Background(), domain.Session{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
	require.Nil(t, db.lastTxInput)
}

func TestCreateSession_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("ConditionalCheckFailed")}
	c := mustNewDynamo(t, db)
	err := c.CreateSession(context.Background(), domain.Session{ID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateSession")
}

func TestGetSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 2, 1, "pcall")},
		queryOuts: []*dynamodb.QueryOutput{{
			Items: []map[string]types.AttributeValue{
				makeMsg("m1", 2, domain.RoleUser, "what is pcall?", 0),
				makeMsg("m2", 2, domain.RoleModel, "a protected call", 1),
			},
		}},
	}
	c := mustNewDynamo(t, db)

	s, err := c.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", s.ID)
	require.Equal(t, "pcall", s.Title)
	require.Equal(t, 2, s.Generation)
	require.Equal(t, 1, s.Turns)
	require.Len(t, s.Messages, 2)
	require.Equal(t, domain.RoleUser, s.Messages[0].Role)
	require.Equal(t, "a protected call", s.Messages[1].Content)

	require.True(t, *db.lastGetInput.ConsistentRead)
	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.True(t, *in.ScanIndexForward)
	require.Equal(t, "MSG#000002#", in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
}

func TestGetSession_Paginates(t *testing.T) {
	lastKey := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#000000#x#0"},
	}
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 0, 0, "")},
		queryOuts: []*dynamodb.QueryOutput{
			{Items: []map[string]types.AttributeValue{makeMsg("m1", 0, domain.RoleModel, "first", 0)}, LastEvaluatedKey: lastKey},
			{Items: []map[string]types.AttributeValue{makeMsg("m2", 0, domain.RoleUser, "second", 0)}},
		},
	}
	c := mustNewDynamo(t, db)

	s, err := c.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, s.Messages, 2)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
}

func TestGetSession_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewDynamo(t, db)
	_, err := c.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Empty(t, db.queryInputs)
}

func TestGetSession_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewDynamo(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetSession")
	require.NotErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_MalformedMeta(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":         &types.AttributeValueMemberS{Value: skMeta},
		"generation": &types.AttributeValueMemberS{Value: "bad"},
	}}}
	c := mustNewDynamo(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode meta")
}

func TestGetSession_QueryError(t *testing.T) {
	db := &fakeDynamo{
		getOut:   &dynamodb.GetItemOutput{Item: makeMeta("abc", 0, 0, "")},
		queryErr: errors.New("ResourceNotFoundException"),
	}
	c := mustNewDynamo(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetSession query")
}

func TestGetSession_MalformedMessage(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 0, 0, "")},
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{{
			"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
			"SK": &types.AttributeValueMemberS{Value: "MSG#000000#ts#0"},
		}}}},
	}
	c := mustNewDynamo(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestSaveTurn_WritesPairAndConditionalMetaUpdate(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 3, 4, "old")}}
	c := mustNewDynamo(t, db)
	turn := domain.Turn{
		User:  domain.Message{ID: "u1", Role: domain.RoleUser, Content: "hi", Status: domain.StatusComplete, Timestamp: fixedNow},
		Reply: domain.Message{ID: "r1", Role: domain.RoleModel, Content: "hello", Status: domain.StatusComplete, Timestamp: fixedNow},
		Title: "hi",
	}

	require.NoError(t, c.SaveTurn(context.Background(), "abc", turn))
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)

	userSK := sAttr(t, items[0].Put.Item, "SK")
	replySK := sAttr(t, items[1].Put.Item, "SK")
	require.Contains(t, userSK, "MSG#000003#")
	require.Less(t, userSK, replySK, "user message must sort before the reply")
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *items[0].Put.ConditionExpression)

	upd := items[2].Update
	require.Equal(t, "#gen = :gen", *upd.ConditionExpression)
	require.Equal(t, "3", upd.ExpressionAttributeValues[":gen"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "hi", upd.ExpressionAttributeValues[":title"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ttl", upd.ExpressionAttributeNames["#ttl"])
}

func TestSaveTurn_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewDynamo(t, db)
	err := c.SaveTurn(context.Background(), "abc", domain.Turn{})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Nil(t, db.lastTxInput)
}

func TestSaveTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 0, 0, "")},
		txErr:  errors.New("transaction canceled"),
	}
	c := mustNewDynamo(t, db)
	err := c.SaveTurn(context.Background(), "abc", domain.Turn{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestResetSession_BumpsGeneration(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 1, 5, "old title")}}
	c := mustNewDynamo(t, db)
	greeting := domain.Message{ID: "g", Role: domain.RoleModel, Content: "Nova análise!", Status: domain.StatusComplete, Timestamp: fixedNow}

	s, err := c.ResetSession(context.Background(), "abc", greeting)
	require.NoError(t, err)
	require.Equal(t, 2, s.Generation)
	require.Equal(t, 0, s.Turns)
	require.Empty(t, s.Title)
	require.Equal(t, []domain.Message{greeting}, s.Messages)

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)
	upd := items[0].Update
	require.Equal(t, "2", upd.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "1", upd.ExpressionAttributeValues[":gen"].(*types.AttributeValueMemberN).Value)
	require.Contains(t, sAttr(t, items[1].Put.Item, "SK"), "MSG#000002#")
}

func TestResetSession_DynamoError(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: makeMeta("abc", 0, 0, "")},
		txErr:  errors.New("transaction canceled"),
	}
	c := mustNewDynamo(t, db)
	_, err := c.ResetSession(context.Background(), "abc", domain.Message{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ResetSession")
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#my-session", sessionPK("my-session"))
}

func TestMsgSK(t *testing.T) {
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "MSG#000007#2026-02-25T10:00:00Z#1", msgSK(7, ts, 1))
}

func TestItemToMessage_DefaultsStatus(t *testing.T) {
	item := makeMsg("m1", 0, domain.RoleUser, "x", 0)
	delete(item, "status")
	msg, err := itemToMessage(item)
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, msg.Status)
}

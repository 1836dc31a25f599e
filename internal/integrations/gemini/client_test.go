package gemini

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"neonhub/internal/domain"
)

type fakeGetter struct {
	val    string
	err    error
	calls  int
	ctxErr error
}

func (f *fakeGetter) GetParameter(ctx context.Context, _ string) (string, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.val, f.err
}

func chunk(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

type recordedCall struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func fakeStream(rec *recordedCall, texts []string, tail error) streamFunc {
	return func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		rec.model, rec.contents, rec.cfg = model, contents, cfg
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, t := range texts {
				if !yield(chunk(t), nil) {
					return
				}
			}
			if tail != nil {
				yield(nil, tail)
			}
		}
	}
}

func newTestClient(t *testing.T, stream streamFunc) *Client {
	t.Helper()
	c, err := NewClient(nil, "", WithAPIKey("test-key"))
	require.NoError(t, err)
	c.stream = stream
	return c
}

func testRequest() domain.ChatRequest {
	return domain.ChatRequest{
		Model:        "gemini-test",
		SystemPrompt: "You are a Luau expert.",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleModel, Content: "hello"},
			{Role: domain.RoleUser, Content: "explain task.spawn"},
		},
		Temperature:     0.7,
		MaxOutputTokens: 8192,
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/neonhub")
	require.Error(t, err)

	_, err = NewClient(&fakeGetter{}, "")
	require.Error(t, err)

	_, err = NewClient(nil, "", WithAPIKey("k"), WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
}

func TestStreamChat_HappyPath(t *testing.T) {
	var rec recordedCall
	c := newTestClient(t, fakeStream(&rec, []string{"task.spawn ", "", "runs a thread"}, nil))

	var got []string
	err := c.StreamChat(context.Background(), testRequest(), func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"task.spawn ", "runs a thread"}, got)

	require.Equal(t, "gemini-test", rec.model)
	require.Len(t, rec.contents, 3)
	require.Equal(t, "user", string(rec.contents[0].Role))
	require.Equal(t, "model", string(rec.contents[1].Role))
	require.Equal(t, "explain task.spawn", rec.contents[2].Parts[0].Text)
	require.Equal(t, "You are a Luau expert.", rec.cfg.SystemInstruction.Parts[0].Text)
	require.Equal(t, float32(0.7), *rec.cfg.Temperature)
	require.Equal(t, int32(8192), rec.cfg.MaxOutputTokens)
}

func TestStreamChat_CallbackErrorStopsIteration(t *testing.T) {
	var rec recordedCall
	c := newTestClient(t, fakeStream(&rec, []string{"a", "b", "c"}, nil))

	stop := errors.New("stop")
	calls := 0
	err := c.StreamChat(context.Background(), testRequest(), func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestStreamChat_APIErrorExposesStatus(t *testing.T) {
	var rec recordedCall
	tail := genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	c := newTestClient(t, fakeStream(&rec, []string{"partial"}, tail))

	err := c.StreamChat(context.Background(), testRequest(), func(string) error { return nil })
	require.Error(t, err)

	var coder interface{ HTTPStatusCode() int }
	require.ErrorAs(t, err, &coder)
	require.Equal(t, http.StatusTooManyRequests, coder.HTTPStatusCode())
}

func TestStreamChat_PlainError(t *testing.T) {
	var rec recordedCall
	c := newTestClient(t, fakeStream(&rec, nil, errors.New("dial tcp: refused")))
	err := c.StreamChat(context.Background(), testRequest(), func(string) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "refused")
}

func TestStreamChat_EmptyModel(t *testing.T) {
	c := newTestClient(t, fakeStream(&recordedCall{}, nil, nil))
	err := c.StreamChat(context.Background(), domain.ChatRequest{}, func(string) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestFetchAPIKey(t *testing.T) {
	key, err := fetchAPIKey(context.Background(), &fakeGetter{val: `{"token":"g-key"}`}, "/neonhub/api-token")
	require.NoError(t, err)
	require.Equal(t, "g-key", key)

	_, err = fetchAPIKey(context.Background(), &fakeGetter{val: `{}`}, "/neonhub/api-token")
	require.ErrorContains(t, err, "empty")

	_, err = fetchAPIKey(context.Background(), &fakeGetter{err: errors.New("ssm down")}, "/neonhub/api-token")
	require.ErrorContains(t, err, "ssm down")
}

func TestResolveStream_KeyErrorIsRetried(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm down")}
	c, err := NewClient(g, "/neonhub")
	require.NoError(t, err)

	err = c.StreamChat(context.Background(), testRequest(), func(string) error { return nil })
	require.ErrorContains(t, err, "ssm down")

	g.err = nil
	g.val = `{"token":"AIza-test"}`
	stream, err := c.resolveStream(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Equal(t, 2, g.calls)

	_, err = c.resolveStream(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, g.calls)
}

func TestResolveStream_FetchIgnoresCallerCancel(t *testing.T) {
	g := &fakeGetter{val: `{"token":"AIza-test"}`}
	c, err := NewClient(g, "/neonhub")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream, err := c.resolveStream(ctx)
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.NoError(t, g.ctxErr)
}

package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

func TestAssistantRoundTrip(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	created, err := s.CreateAssistant(ctx, types.Assistant{Model: "openai/gpt-4o", Name: "A"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetAssistant(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, got)

	name := "B"
	updated, err := s.UpdateAssistant(ctx, created.ID, store.AssistantPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "B", updated.Name)

	require.NoError(t, s.DeleteAssistant(ctx, created.ID))
	_, err = s.GetAssistant(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessagePagination(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	th, err := s.CreateThread(ctx, types.Thread{})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 25; i++ {
		m, err := s.AppendMessage(ctx, th.ID, types.Message{
			Role:    types.RoleUser,
			Content: []types.ContentPart{{Type: types.ContentText, Text: "hi"}},
		})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page1, err := s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 10, Order: store.OrderAsc})
	require.NoError(t, err)
	require.Len(t, page1.Items, 10)
	require.True(t, page1.HasMore)
	require.Equal(t, ids[9], page1.Items[9].ID)

	page2, err := s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 10, Order: store.OrderAsc, After: ids[9]})
	require.NoError(t, err)
	require.Len(t, page2.Items, 10)
	require.True(t, page2.HasMore)

	page3, err := s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 10, Order: store.OrderAsc, After: ids[19]})
	require.NoError(t, err)
	require.Len(t, page3.Items, 5)
	require.False(t, page3.HasMore)

	// A cursor pointing at a non-existent ID is ignored; full collection
	// returned in the requested order.
	ignored, err := s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 30, Order: store.OrderAsc, After: "msg_does_not_exist"})
	require.NoError(t, err)
	require.Len(t, ignored.Items, 25)
}

func TestListMessagesZeroLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	th, err := s.CreateThread(ctx, types.Thread{})
	require.NoError(t, err)

	page, err := s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 0, Order: store.OrderAsc})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.False(t, page.HasMore)

	_, err = s.AppendMessage(ctx, th.ID, types.Message{Role: types.RoleUser, Content: []types.ContentPart{{Type: types.ContentText, Text: "x"}}})
	require.NoError(t, err)

	page, err = s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 0, Order: store.OrderAsc})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.True(t, page.HasMore)
}

func TestFileContentStoredNatively(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	f, err := s.CreateFile(ctx, types.File{Filename: "a.txt", Content: []byte("hello"), Purpose: "assistants"})
	require.NoError(t, err)

	got, err := s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Content)
}

func TestDeleteThreadCascadesMessages(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	th, err := s.CreateThread(ctx, types.Thread{})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, th.ID, types.Message{Role: types.RoleUser, Content: []types.ContentPart{{Type: types.ContentText, Text: "x"}}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteThread(ctx, th.ID))

	_, err = s.ListMessages(ctx, th.ID, store.ListMessagesParams{Limit: 10, Order: store.OrderAsc})
	require.ErrorIs(t, err, store.ErrNotFound)
}

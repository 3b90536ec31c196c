// ABOUTME: Concurrency tests for claim races and first contact
// ABOUTME: Asserts a single notice per status change and one open conversation per customer

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/store"
)

func TestConcurrentClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.send(t, customer, "", "help").Conversation

	const agents = 8
	var wg sync.WaitGroup
	errs := make([]error, agents)
	for i := range agents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ClaimConversation(ctx, ClaimCommand{
				ConversationID: conv.ID,
				Agent:          Principal{ID: fmt.Sprintf("agent-%d", i), Elevated: true},
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := f.svc.GetConversation(ctx, agent, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Conversation.Status)
	assert.Regexp(t, `^agent-\d$`, got.Conversation.AgentID)
	assert.Equal(t, []string{noticeAssigned}, f.systemBodies(t, conv.ID))
}

func TestConcurrentFirstContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const senders = 8
	var wg sync.WaitGroup
	results := make([]*AppendResult, senders)
	errs := make([]error, senders)
	for i := range senders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.SendMessage(ctx, AppendCommand{
				Author: customer,
				Body:   fmt.Sprintf("message %d", i),
			})
		}(i)
	}
	wg.Wait()

	convID := ""
	for i, err := range errs {
		require.NoError(t, err)
		if convID == "" {
			convID = results[i].Conversation.ID
		}
		assert.Equal(t, convID, results[i].Conversation.ID)
	}

	n, err := f.store.CountConversations(ctx, store.ConversationFilter{CustomerID: customer.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.allMessages(t, convID), senders)
}

func TestConcurrentAppendsKeepOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.send(t, customer, "", "start").Conversation
	_, err := f.svc.ClaimConversation(ctx, ClaimCommand{ConversationID: conv.ID, Agent: agent})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := customer
			if i%2 == 0 {
				author = agent
			}
			_, err := f.svc.SendMessage(ctx, AppendCommand{ConversationID: conv.ID, Author: author, Body: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := f.allMessages(t, conv.ID)
	require.Len(t, msgs, 12)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

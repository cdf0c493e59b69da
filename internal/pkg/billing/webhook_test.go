package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscriptionEvent(t *testing.T, eventID, eventType, subID, custID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":       subID,
		"customer": custID,
		"status":   "active",
	})
	require.NoError(t, err)
	return &stripe.Event{
		ID:   eventID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestProcessWebhookEventSyncsSubscription(t *testing.T) {
	org := testOrg("acme_co")
	org.PlanID = "stale"
	price := testPrice("price_team00", 2900, map[string]string{"plan_id": "team"})

	repo := &fakeRepo{org: org}
	proc := &stubProcessor{sub: testSubscription("sub_acme_co", "cus_acme_co", price)}
	pusher := &stubPusher{result: limitsync.PushResult{Success: true}}
	svc := newTestService(repo, proc, &stubLimiter{allow: true}, pusher)

	ev := subscriptionEvent(t, "evt_1", "customer.subscription.updated", "sub_acme_co", "cus_acme_co")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))

	assert.Equal(t, "team", org.PlanID)
	assert.Equal(t, 1, repo.updateCalls)
	require.Len(t, pusher.payloads, 1)
	require.Len(t, repo.processedIDs, 1)
}

// Stripe redelivers webhooks; a replayed event id must not re-apply side
// effects.
func TestProcessWebhookEventDeduplicates(t *testing.T) {
	org := testOrg("acme_co")
	price := testPrice("price_team00", 2900, nil)

	repo := &fakeRepo{org: org}
	proc := &stubProcessor{sub: testSubscription("sub_acme_co", "cus_acme_co", price)}
	svc := newTestService(repo, proc, &stubLimiter{allow: true}, &stubPusher{result: limitsync.PushResult{Success: true}})

	ev := subscriptionEvent(t, "evt_dup", "customer.subscription.updated", "sub_acme_co", "cus_acme_co")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))

	assert.Equal(t, 1, repo.updateCalls)
	assert.Len(t, repo.processedIDs, 1)
}

func TestProcessWebhookEventSubscriptionDeleted(t *testing.T) {
	org := testOrg("acme_co")
	repo := &fakeRepo{org: org}
	pusher := &stubPusher{result: limitsync.PushResult{Success: true}}
	svc := newTestService(repo, &stubProcessor{}, &stubLimiter{allow: true}, pusher)

	ev := subscriptionEvent(t, "evt_del", "customer.subscription.deleted", "sub_acme_co", "cus_acme_co")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))

	assert.Equal(t, "", org.StripeSubscriptionID)
	assert.Equal(t, "free", org.PlanID)
	require.Len(t, pusher.payloads, 1)
}

// Events for customers this installation has never seen are acknowledged
// without side effects. Failing them would make Stripe retry forever.
func TestProcessWebhookEventUnknownCustomerIgnored(t *testing.T) {
	repo := &fakeRepo{org: testOrg("acme_co")}
	svc := newTestService(repo, &stubProcessor{}, &stubLimiter{allow: true}, &stubPusher{})

	ev := subscriptionEvent(t, "evt_x", "customer.subscription.updated", "sub_other", "cus_someone_else")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))
	assert.Equal(t, 0, repo.updateCalls)
}

func TestProcessWebhookEventUnhandledTypeRecorded(t *testing.T) {
	repo := &fakeRepo{org: testOrg("acme_co")}
	svc := newTestService(repo, &stubProcessor{}, &stubLimiter{allow: true}, &stubPusher{})

	ev := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventType("customer.created"),
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), ev))
	assert.Contains(t, repo.webhookRows, "evt_other")
	assert.Equal(t, 0, repo.updateCalls)
}

package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatlink/internal/campaign"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"github.com/tphakala/threatlink/internal/pipeline"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type message struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	fail     error
	closed   bool
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) Close() { f.closed = true }

type alert struct{ title, message string }

type fakeSender struct {
	mu     sync.Mutex
	alerts []alert
	fail   error
}

func (f *fakeSender) Send(_ context.Context, title, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.alerts = append(f.alerts, alert{title, msg})
	return nil
}

func campaignResult(outcome campaign.Outcome, level entities.PriorityLevel) *pipeline.AnalysisResult {
	return &pipeline.AnalysisResult{
		DocumentID:    "D3",
		RunID:         "run-3",
		Relationships: []*entities.Relationship{{}, {}},
		Campaign: &campaign.Detection{
			Outcome: outcome,
			Campaign: &entities.Campaign{
				CampaignKey:         "c-key",
				Name:                "APT-X Campaign",
				ArticleCount:        3,
				Status:              entities.CampaignActive,
				DetectionConfidence: 0.85,
			},
			Added: []string{"D3", "D1", "D2"},
		},
		Priority: &entities.PriorityScore{Overall: 84.5, PriorityLevel: level},
	}
}

func TestEventsFor(t *testing.T) {
	tests := []struct {
		name   string
		result *pipeline.AnalysisResult
		want   []EventType
	}{
		{"plain run", &pipeline.AnalysisResult{DocumentID: "D1"}, []EventType{EventDocumentAnalyzed}},
		{"created campaign, critical", campaignResult(campaign.OutcomeCreated, entities.PriorityCritical),
			[]EventType{EventDocumentAnalyzed, EventCampaign, EventCriticalPriority}},
		{"joined campaign, high", campaignResult(campaign.OutcomeJoined, entities.PriorityHigh),
			[]EventType{EventDocumentAnalyzed, EventCampaign}},
		{"existing campaign is not news", campaignResult(campaign.OutcomeExisting, entities.PriorityLow),
			[]EventType{EventDocumentAnalyzed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []EventType
			for _, ev := range EventsFor(tt.result, fixedNow) {
				got = append(got, ev.Type)
				assert.Equal(t, fixedNow, ev.OccurredAt)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotifierPublishesAndAlerts(t *testing.T) {
	pub := &fakePublisher{}
	sender := &fakeSender{}
	rec := metrics.NewTestRecorder()
	n := New(WithPublisher(pub, "intel/"), WithSender(sender), WithRecorder(rec),
		WithClock(func() time.Time { return fixedNow }))

	require.NoError(t, n.Notify(context.Background(), campaignResult(campaign.OutcomeCreated, entities.PriorityCritical)))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, "intel/document/analyzed", pub.messages[0].topic)
	assert.Equal(t, "intel/campaign", pub.messages[1].topic)
	assert.Equal(t, "intel/priority/critical", pub.messages[2].topic)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.messages[1].payload, &ev))
	assert.Equal(t, "c-key", ev.Campaign.Key)
	assert.Equal(t, 3, ev.Campaign.Articles)
	assert.Equal(t, 2, ev.Relationships)

	require.Len(t, sender.alerts, 2)
	assert.Equal(t, "New campaign: APT-X Campaign", sender.alerts[0].title)
	assert.Contains(t, sender.alerts[1].message, "84.5")

	assert.Equal(t, 3, rec.GetOperationCount(metrics.OpNotify, ChannelMQTT))
	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpNotify, ChannelPush))

	n.Close()
	assert.True(t, pub.closed)
}

func TestNotifierSuppressesDuplicateAlerts(t *testing.T) {
	sender := &fakeSender{}
	n := New(WithSender(sender), WithDedupWindow(time.Minute))
	result := campaignResult(campaign.OutcomeCreated, entities.PriorityCritical)

	require.NoError(t, n.Notify(context.Background(), result))
	require.NoError(t, n.Notify(context.Background(), result))
	assert.Len(t, sender.alerts, 2)

	result.Campaign.Campaign.ArticleCount = 4
	result.Campaign.Outcome = campaign.OutcomeJoined
	require.NoError(t, n.Notify(context.Background(), result))
	require.Len(t, sender.alerts, 3, "a grown campaign is a new alert")
	assert.Equal(t, "Campaign grew: APT-X Campaign", sender.alerts[2].title)
}

func TestNotifierAttemptsEveryChannel(t *testing.T) {
	pub := &fakePublisher{fail: errors.NewStd("broker gone")}
	sender := &fakeSender{}
	rec := metrics.NewTestRecorder()
	n := New(WithPublisher(pub, ""), WithSender(sender), WithRecorder(rec))

	err := n.Notify(context.Background(), campaignResult(campaign.OutcomeCreated, entities.PriorityHigh))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Len(t, sender.alerts, 1)
	assert.Equal(t, 2, rec.GetErrorCount(metrics.OpNotify, ChannelMQTT))
}

func TestNotifierFailedAlertIsRetriedNextTime(t *testing.T) {
	sender := &fakeSender{fail: errors.NewStd("smtp down")}
	n := New(WithSender(sender))
	result := campaignResult(campaign.OutcomeCreated, entities.PriorityLow)

	require.Error(t, n.Notify(context.Background(), result))

	sender.fail = nil
	require.NoError(t, n.Notify(context.Background(), result))
	assert.Len(t, sender.alerts, 1)
}

type scriptedRouter struct {
	params *types.Params
	errs   []error
}

func (r *scriptedRouter) Send(_ string, params *types.Params) []error {
	r.params = params
	return r.errs
}

func TestPushSenderScrubsServiceURLs(t *testing.T) {
	router := &scriptedRouter{errs: []error{nil, errors.NewStd("failed posting to telegram://token@telegram?chats=1")}}
	s := &PushSender{router: router, urls: 2}

	err := s.Send(context.Background(), "title", "body")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	assert.NotContains(t, err.Error(), "token@")
	assert.Contains(t, err.Error(), "[service-url]")

	title, ok := (*router.params)["title"]
	require.True(t, ok)
	assert.Equal(t, "title", title)

	router.errs = nil
	assert.NoError(t, s.Send(context.Background(), "t", "b"))
}

func TestNewPushSenderValidates(t *testing.T) {
	_, err := NewPushSender(conf.NotificationSettings{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = NewPushSender(conf.NotificationSettings{URLs: []string{"nosuchservice://secret@host"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret@")

	s, err := NewPushSender(conf.NotificationSettings{URLs: []string{"logger://"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), "hello", "world"))
}

func TestNewMQTTPublisher(t *testing.T) {
	_, err := NewMQTTPublisher(conf.MQTTSettings{Broker: "not a url"})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	p, err := NewMQTTPublisher(conf.MQTTSettings{Broker: "tcp://localhost:1883", TopicPrefix: "/threatlink/"})
	require.NoError(t, err)
	assert.Equal(t, "threatlink/campaign", p.Topic(EventCampaign))

	err = p.Publish(context.Background(), "x", []byte("{}"))
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork), "publish before connect")
	p.Close()
}

func TestFromSettingsDisabled(t *testing.T) {
	n, err := FromSettings(context.Background(), &conf.Settings{}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"github.com/tphakala/threatlink/internal/pipeline"
)

// Channel labels used in metrics.
const (
	ChannelMQTT = "mqtt"
	ChannelPush = "push"
)

// defaultDedupWindow suppresses repeated push alerts about the same thing.
const defaultDedupWindow = time.Hour

// Notifier fans analysis results out to MQTT and push services. Either
// channel may be absent.
type Notifier struct {
	publisher   Publisher
	topicPrefix string
	sender      Sender
	sent        *cache.Cache
	recorder    metrics.Recorder
	now         func() time.Time
}

var _ pipeline.Notifier = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher sets the MQTT channel.
func WithPublisher(p Publisher, topicPrefix string) Option {
	return func(n *Notifier) {
		n.publisher = p
		n.topicPrefix = topicPrefix
	}
}

// WithSender sets the push channel.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// WithDedupWindow overrides how long an alert key is remembered.
func WithDedupWindow(d time.Duration) Option {
	return func(n *Notifier) { n.sent = cache.New(d, 2*d) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(n *Notifier) { n.recorder = metrics.OrNop(r) }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New creates a Notifier from explicit channels.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		sent:     cache.New(defaultDedupWindow, 2*defaultDedupWindow),
		recorder: metrics.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FromSettings connects the channels enabled in settings. It returns nil
// when neither is enabled. A broker that cannot be reached is logged and
// the MQTT channel is left out rather than failing startup.
func FromSettings(ctx context.Context, settings *conf.Settings, recorder metrics.Recorder) (*Notifier, error) {
	var opts []Option
	if settings.MQTT.Enabled {
		pub, err := NewMQTTPublisher(settings.MQTT)
		if err != nil {
			return nil, err
		}
		if err := pub.Connect(ctx); err != nil {
			GetLogger().Warn("mqtt disabled, broker unreachable", logger.Error(err))
		} else {
			opts = append(opts, WithPublisher(pub, settings.MQTT.TopicPrefix))
		}
	}
	if settings.Notification.Enabled {
		sender, err := NewPushSender(settings.Notification)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSender(sender))
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return New(append(opts, WithRecorder(recorder))...), nil
}

// Notify publishes every event of result and pushes the alertable ones.
// All channels are attempted; the joined failures are returned.
func (n *Notifier) Notify(ctx context.Context, result *pipeline.AnalysisResult) error {
	var errs []error
	for _, ev := range EventsFor(result, n.now()) {
		if n.publisher != nil {
			if err := n.publish(ctx, &ev); err != nil {
				errs = append(errs, err)
			}
		}
		if n.sender != nil && ev.alertable() {
			if err := n.push(ctx, &ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(ctx, topic(n.topicPrefix, ev.Type), payload); err != nil {
		n.recorder.RecordError(metrics.OpNotify, ChannelMQTT)
		return err
	}
	n.recorder.RecordOperation(metrics.OpNotify, ChannelMQTT)
	return nil
}

func (n *Notifier) push(ctx context.Context, ev *Event) error {
	key := ev.dedupKey()
	if _, seen := n.sent.Get(key); seen {
		GetLogger().Debug("duplicate alert suppressed", logger.String("key", key))
		return nil
	}
	if err := n.sender.Send(ctx, ev.title(), ev.message()); err != nil {
		n.recorder.RecordError(metrics.OpNotify, ChannelPush)
		return err
	}
	n.sent.SetDefault(key, struct{}{})
	n.recorder.RecordOperation(metrics.OpNotify, ChannelPush)
	GetLogger().Info("alert sent",
		logger.String("type", string(ev.Type)),
		logger.String("document_id", ev.DocumentID))
	return nil
}

// Close releases the MQTT connection.
func (n *Notifier) Close() {
	if n.publisher != nil {
		n.publisher.Close()
	}
}

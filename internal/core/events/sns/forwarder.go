package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/frahmantamala/payment-gateway/internal/core/events"
)

// Publisher is the part of the SNS client the forwarder uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type message struct {
	ID         string      `json:"id"`
	EventType  string      `json:"event_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Forwarder copies bus events to an SNS topic for consumers outside the service.
type Forwarder struct {
	client   Publisher
	topicARN string
	logger   *slog.Logger
}

func NewForwarder(client Publisher, topicARN string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{client: client, topicARN: topicARN, logger: logger}
}

// NewClient builds an SNS client from the default AWS credential chain. endpoint
// points the client at a local emulator when set.
func NewClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(message{
		ID:         event.EventID(),
		EventType:  event.EventType(),
		OccurredAt: event.OccurredAt(),
		Data:       event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	out, err := f.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(f.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventType()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to SNS: %w", event.EventType(), err)
	}

	f.logger.Debug("event forwarded to SNS",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"message_id", aws.ToString(out.MessageId))
	return nil
}

// Register subscribes the forwarder to every event on bus.
func (f *Forwarder) Register(bus *events.EventBus) {
	bus.SubscribeAll(f.Handle)
	f.logger.Info("SNS event forwarding enabled", "topic_arn", f.topicARN)
}

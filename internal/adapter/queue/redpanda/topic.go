package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// errTopicAlreadyExists is the Kafka protocol code TOPIC_ALREADY_EXISTS.
const errTopicAlreadyExists = 36

// requester is the admin surface of *kgo.Client.
type requester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// createTopicIfNotExists creates topic through the CreateTopics admin API.
// An existing topic is not an error.
func createTopicIfNotExists(ctx context.Context, client requester, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createTopicsResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, topicResp := range createTopicsResp.Topics {
		if topicResp.ErrorCode == 0 {
			slog.Info("topic created", slog.String("topic", topicResp.Topic), slog.Int("partitions", int(partitions)))
			continue
		}
		if topicResp.ErrorCode == errTopicAlreadyExists {
			slog.Debug("topic already exists", slog.String("topic", topicResp.Topic))
			continue
		}
		msg := ""
		if topicResp.ErrorMessage != nil {
			msg = *topicResp.ErrorMessage
		}
		return fmt.Errorf("create topic error: %s (code %d)", msg, topicResp.ErrorCode)
	}
	return nil
}

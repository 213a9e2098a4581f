// Package remote implements Remote Fan-out (C12): durable, at-least-once
// delivery of verdict reports to a Cloud Pub/Sub topic, and delayed
// cleanup-verification tasks via Cloud Tasks — grounded on the teacher's
// PubSubEventBus (internal/events/pubsub_bus.go) and CloudDispatcher
// (internal/webhooks/cloud_dispatcher.go), both of which wrap a GCP client
// with topic/queue auto-provisioning and non-blocking publish.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/qguardian/qguardian/internal/verdict"
)

// VerdictPublisher publishes completed reports to a Pub/Sub topic for
// downstream consumers (SIEM ingestion, dashboards, alerting).
type VerdictPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewVerdictPublisher connects to projectID and creates topicID if it does
// not already exist.
func NewVerdictPublisher(ctx context.Context, projectID, topicID string) (*VerdictPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("remote: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("remote: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("remote: CreateTopic: %w", err)
		}
		slog.Info("created pubsub topic", "topic", topicID)
	}

	return &VerdictPublisher{client: client, topic: topic}, nil
}

// publishedReport is the wire shape of one message: the framed text plus
// the structured high-risk subset, so consumers don't need to re-parse the
// report block.
type publishedReport struct {
	Target    string           `json:"target"`
	Text      string           `json:"text"`
	HighRisk  []highRiskEntry  `json:"high_risk"`
	Published time.Time        `json:"published_at"`
}

type highRiskEntry struct {
	Analyzer string  `json:"analyzer"`
	Level    float64 `json:"level"`
	PID      int64   `json:"pid"`
}

// Publish sends one report, non-blocking: the publish result is awaited in
// a background goroutine so it never delays the session's hot path.
func (p *VerdictPublisher) Publish(target string, rep verdict.Report) {
	entries := make([]highRiskEntry, 0, len(rep.HighRisk))
	for _, hr := range rep.HighRisk {
		entries = append(entries, highRiskEntry{Analyzer: hr.Analyzer, Level: hr.Level, PID: hr.PID})
	}

	payload, err := json.Marshal(publishedReport{
		Target:    target,
		Text:      rep.Text,
		HighRisk:  entries,
		Published: time.Now(),
	})
	if err != nil {
		slog.Error("remote: marshal report failed", "error", err)
		return
	}

	result := p.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"target": target,
		},
	})

	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Error("remote: pubsub publish failed", "target", target, "error", err)
		}
	}()
}

// Close stops the topic and closes the client.
func (p *VerdictPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

/*
Copyright 2016 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pubsub passes reconstructed executions through Cloud Pub/Sub to
// be persisted in a BigQuery table.
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
	bqgen "google.golang.org/api/bigquery/v2"
)

const (
	TopicName   = "tracecolliertopic"
	SubName     = "tracecolliersub"
	DatasetName = "tracecollier"
	TableName   = "executions"
)

// Payload is one execution or narrative of a mined trace.
type Payload struct {
	RunID       string
	DB          string // Instance name from the trace header
	Trace       string
	Kind        string // "exec" or a narrative kind
	Line        int    // EXEC line, or the narrative's line
	ParseLine   int
	BindsLine   int
	SQLLine     int
	Depth       int
	CursorID    string
	Text        string // Reconstructed SQL or narrative text
	EnqueueTime time.Time
}

// Publisher sends payloads to the tracecollier topic.
type Publisher struct {
	topic *pubsub.Topic
	log   *zap.Logger
}

// NewPublisher checks the existence of the topic and creates it if it
// doesn't exist.
func NewPublisher(ctx context.Context, client *pubsub.Client, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	topic, err := ensureTopic(ctx, client)
	if err != nil {
		return nil, err
	}
	return &Publisher{topic: topic, log: log}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client) (*pubsub.Topic, error) {
	topic := client.Topic(TopicName)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pubsub: topic.Exists")
	}
	if ok {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, TopicName)
	if err != nil {
		return nil, errors.Wrapf(err, "pubsub: can't create topic %q", TopicName)
	}
	return topic, nil
}

// Publish sends msg and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, msg *Payload) error {
	if msg.EnqueueTime.IsZero() {
		msg.EnqueueTime = time.Now()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "pubsub.Publish")
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: b}).Get(ctx)
	if err != nil {
		return errors.Wrap(err, "pubsub.Publish")
	}
	p.log.Debug("published a message", zap.String("id", id), zap.String("trace", msg.Trace), zap.Int("line", msg.Line))
	return nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	p.topic.Stop()
}

// Inserter persists one dequeued payload.
type Inserter interface {
	Insert(ctx context.Context, p *Payload) error
}

// Dequeue receives messages from the subscription, creating it when it
// doesn't exist, and hands them to ins until ctx is done.
func Dequeue(ctx context.Context, client *pubsub.Client, ins Inserter, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	topic, err := ensureTopic(ctx, client)
	if err != nil {
		return err
	}
	sub := client.Subscription(SubName)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return errors.Wrap(err, "pubsub.Dequeue: sub.Exists")
	}
	if !ok {
		sub, err = client.CreateSubscription(ctx, SubName, pubsub.SubscriptionConfig{Topic: topic, AckDeadline: 20 * time.Second})
		if err != nil {
			return errors.Wrapf(err, "pubsub.Dequeue: can't create subscription %q", SubName)
		}
		log.Info("subscription created", zap.String("subscription", SubName))
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handle(ctx, msg.Data, ins); err != nil {
			log.Error("can't persist message", zap.String("id", msg.ID), zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	return errors.Wrap(err, "pubsub.Dequeue")
}

// handle decodes one message and inserts it. Undecodable messages are
// dropped, since redelivering them can't help.
func handle(ctx context.Context, data []byte, ins Inserter) error {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return ins.Insert(ctx, &payload)
}

// BigQuery inserts payloads into the executions table.
type BigQuery struct {
	Service     *bqgen.Service
	ProjectName string
}

// Insert implements Inserter.
func (bq *BigQuery) Insert(ctx context.Context, p *Payload) error {
	request := &bqgen.TableDataInsertAllRequest{
		Rows: []*bqgen.TableDataInsertAllRequestRows{{
			InsertId: insertID(p),
			Json:     row(p, time.Now()),
		}},
	}
	resp, err := bqgen.NewTabledataService(bq.Service).InsertAll(bq.ProjectName, DatasetName, TableName, request).Context(ctx).Do()
	if err != nil {
		return errors.Wrap(err, "insertBQ: InsertAll")
	}
	if len(resp.InsertErrors) > 0 && len(resp.InsertErrors[0].Errors) > 0 {
		return errors.Errorf("insertBQ: row rejected: %s", resp.InsertErrors[0].Errors[0].Message)
	}
	return nil
}

// insertID lets BigQuery drop rows redelivered by Pub/Sub.
func insertID(p *Payload) string {
	return fmt.Sprintf("%s/%s/%d/%s", p.RunID, p.Trace, p.Line, p.Kind)
}

func row(p *Payload, dequeued time.Time) map[string]bqgen.JsonValue {
	return map[string]bqgen.JsonValue{
		"run_id":      p.RunID,
		"database":    p.DB,
		"trace":       p.Trace,
		"kind":        p.Kind,
		"line":        p.Line,
		"parse_line":  p.ParseLine,
		"binds_line":  p.BindsLine,
		"sql_line":    p.SQLLine,
		"depth":       p.Depth,
		"cursor_id":   p.CursorID,
		"text":        p.Text,
		"enqueued_at": p.EnqueueTime,
		"dequeued_at": dequeued,
	}
}

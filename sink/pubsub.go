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

package sink

import (
	"context"

	rttpubsub "github.com/borisdali/tracecollier/pubsub"
	"github.com/pkg/errors"
)

// Publisher is satisfied by *rttpubsub.Publisher.
type Publisher interface {
	Publish(ctx context.Context, msg *rttpubsub.Payload) error
}

// PubSub provides a specific implementation of the Sink interface for Cloud Pub/Sub.
type PubSub struct {
	Pub   Publisher
	trace Trace
}

// Start implements Sink.
func (ps *PubSub) Start(ctx context.Context, tr Trace) error {
	ps.trace = tr
	return nil
}

// Exec implements Sink.
func (ps *PubSub) Exec(ctx context.Context, r *Row) error {
	msg := ps.payload("exec")
	msg.Line = r.ExecLine
	msg.ParseLine = r.ParseLine
	msg.BindsLine = r.BindsLine
	msg.SQLLine = r.SQLLine
	msg.Depth = r.Depth
	msg.CursorID = r.CursorID
	msg.Text = r.SQL
	return errors.Wrap(ps.Pub.Publish(ctx, msg), "sink.PubSub")
}

// Narrative implements Sink.
func (ps *PubSub) Narrative(ctx context.Context, n *Narrative) error {
	msg := ps.payload(string(n.Kind))
	msg.Line = n.Line
	msg.SQLLine = n.SQLLine
	msg.Depth = n.Depth
	msg.CursorID = n.CursorID
	msg.Text = n.Text
	return errors.Wrap(ps.Pub.Publish(ctx, msg), "sink.PubSub")
}

func (ps *PubSub) payload(kind string) *rttpubsub.Payload {
	return &rttpubsub.Payload{
		RunID: ps.trace.RunID,
		DB:    ps.trace.Instance,
		Trace: ps.trace.Name,
		Kind:  kind,
	}
}

// Close implements Sink. The publisher outlives a single trace and is
// stopped by its owner.
func (ps *PubSub) Close() error {
	return nil
}

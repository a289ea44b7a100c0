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

package pubsub

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/net/context"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.Dial(%q) failed: %v", srv.Addr, err)
	}
	client, err := pubsub.NewClient(context.Background(), "tracecollier-test", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub.NewClient() failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		conn.Close()
		srv.Close()
	})
	return client, srv
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	p, err := NewPublisher(ctx, client, nil)
	if err != nil {
		t.Fatalf("NewPublisher() failed: %v", err)
	}
	want := &Payload{
		RunID:       "run-1",
		DB:          "orcl",
		Trace:       "orcl_ora_4242.trc",
		Kind:        "exec",
		Line:        120,
		ParseLine:   110,
		SQLLine:     100,
		CursorID:    "#1",
		Text:        "SELECT 42 FROM dual",
		EnqueueTime: time.Date(2016, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	p.Stop()

	// A second publisher must reuse the existing topic.
	if _, err := NewPublisher(ctx, client, nil); err != nil {
		t.Fatalf("NewPublisher() on an existing topic failed: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("server got %d messages, want 1", len(msgs))
	}
	var got Payload
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if diff := pretty.Compare(got, *want); diff != "" {
		t.Errorf("published payload -> diff -got +want\n%s", diff)
	}
}

type testInserter struct {
	got []*Payload
}

func (ti *testInserter) Insert(ctx context.Context, p *Payload) error {
	ti.got = append(ti.got, p)
	return nil
}

func TestHandle(t *testing.T) {
	ins := &testInserter{}
	if err := handle(context.Background(), []byte(`{"Trace":"a.trc","Kind":"deadlock","Line":7}`), ins); err != nil {
		t.Fatalf("handle() failed: %v", err)
	}
	if err := handle(context.Background(), []byte(`not json`), ins); err != nil {
		t.Fatalf("handle() of a bad message = %v, want it dropped", err)
	}
	if len(ins.got) != 1 || ins.got[0].Kind != "deadlock" || ins.got[0].Line != 7 {
		t.Errorf("handle() inserted %v", ins.got)
	}
}

func TestRow(t *testing.T) {
	enq := time.Date(2016, 5, 1, 10, 0, 0, 0, time.UTC)
	deq := enq.Add(time.Minute)
	p := &Payload{RunID: "r", DB: "orcl", Trace: "t.trc", Kind: "exec", Line: 9, Depth: 1, Text: "SELECT 1 FROM dual", EnqueueTime: enq}
	got := row(p, deq)
	if got["line"] != 9 || got["text"] != "SELECT 1 FROM dual" || got["dequeued_at"] != deq || got["depth"] != 1 {
		t.Errorf("row() = %v", got)
	}
	if id := insertID(p); id != "r/t.trc/9/exec" {
		t.Errorf("insertID() = %q", id)
	}
}

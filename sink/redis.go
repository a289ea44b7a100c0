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
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisChannel is where every stored entry is also published.
const RedisChannel = "tracecollier:executions"

// Redis keeps each trace's executions in a sorted set scored by trace line,
// so a consumer can page through them with ZRANGEBYSCORE.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	key    string
	trace  Trace
}

// RedisEntry is the JSON member stored for each execution or narrative.
type RedisEntry struct {
	RunID     string `json:"run_id"`
	Trace     string `json:"trace"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
	ParseLine int    `json:"parse_line,omitempty"`
	BindsLine int    `json:"binds_line,omitempty"`
	SQLLine   int    `json:"sql_line,omitempty"`
	Depth     int    `json:"depth"`
	CursorID  string `json:"cursor_id,omitempty"`
	Text      string `json:"text"`
}

// NewRedis connects to the Redis server at url.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "sink.NewRedis: parse URL")
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "sink.NewRedis: ping")
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// RedisKey returns the sorted set holding a run's entries.
func RedisKey(runID string) string {
	return "tracecollier:run:" + runID
}

// Start implements Sink.
func (r *Redis) Start(ctx context.Context, tr Trace) error {
	r.key, r.trace = RedisKey(tr.RunID), tr
	err := r.client.HSet(ctx, r.key+":trace", "name", tr.Name, "path", tr.Path, "instance", tr.Instance).Err()
	return errors.Wrap(err, "sink.Redis: hset")
}

// Exec implements Sink.
func (r *Redis) Exec(ctx context.Context, row *Row) error {
	return r.add(ctx, RedisEntry{
		Kind:      "exec",
		Line:      row.ExecLine,
		ParseLine: row.ParseLine,
		BindsLine: row.BindsLine,
		SQLLine:   row.SQLLine,
		Depth:     row.Depth,
		CursorID:  row.CursorID,
		Text:      row.SQL,
	})
}

// Narrative implements Sink.
func (r *Redis) Narrative(ctx context.Context, n *Narrative) error {
	return r.add(ctx, RedisEntry{
		Kind:     string(n.Kind),
		Line:     n.Line,
		SQLLine:  n.SQLLine,
		Depth:    n.Depth,
		CursorID: n.CursorID,
		Text:     n.Text,
	})
}

func (r *Redis) add(ctx context.Context, e RedisEntry) error {
	e.RunID, e.Trace = r.trace.RunID, r.trace.Name
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "sink.Redis: marshal")
	}
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: float64(e.Line), Member: data}).Err(); err != nil {
		return errors.Wrap(err, "sink.Redis: zadd")
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, r.key, r.ttl).Err(); err != nil {
			return errors.Wrap(err, "sink.Redis: expire")
		}
	}
	return errors.Wrap(r.client.Publish(ctx, RedisChannel, data).Err(), "sink.Redis: publish")
}

// Close implements Sink. The client stays open for the next trace.
func (r *Redis) Close() error {
	return nil
}

// Release closes the client.
func (r *Redis) Release() error {
	return r.client.Close()
}

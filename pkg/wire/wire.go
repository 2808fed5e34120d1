// Package wire defines the shared-store contract between masters and workers.
//
// Key schema
//
// All keys of a queue share the queue name Q as prefix:
//
//	Q              list    pending task chunks (RPUSH by masters, BRPOP by workers)
//	Q.live         string  liveness sentinel, exists while the queue is registered
//	Q.count        string  advisory worker count, written by workers
//	Q.env.J        blob    job envelope for job J
//	Q.out.J        list    result chunks for job J
//	Q.start.J.tok  blob    start marker: chunk keys claimed by worker token tok
//	Q.alive.J.tok  string  worker heartbeat, owned by the worker's liveness mechanism
//
// Masters never create alive keys; they only observe their existence. Workers
// must refresh their alive key at an interval strictly less than the master's
// fault-tolerance interval, by a factor of two or more.
//
// Values
//
// All values are JSON blobs. A task chunk carries an ordered task list because
// under two-level reduction every task in a chunk shares one output slot key,
// which a map cannot express. A result is a single-entry object mapping the
// slot number to the task value. A start marker is the array of chunk keys the
// worker has claimed.
package wire

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// QueueKeys specifies the store keys shared by all masters on a queue.
type QueueKeys struct {
	Pending string // list of pending task chunks
	Live    string // registration sentinel
	Count   string // advisory worker count
}

// NewQueueKeys returns the QueueKeys for a queue name.
func NewQueueKeys(queue string) QueueKeys {
	return QueueKeys{
		Pending: queue,
		Live:    queue + ".live",
		Count:   queue + ".count",
	}
}

// JobKeys specifies the store keys owned by a single job.
type JobKeys struct {
	Env         string // job envelope blob
	Out         string // result list
	startPrefix string
	alivePrefix string
}

// NewJobKeys returns the JobKeys for a job ID on a queue.
func NewJobKeys(queue, job string) JobKeys {
	return JobKeys{
		Env:         queue + ".env." + job,
		Out:         queue + ".out." + job,
		startPrefix: queue + ".start." + job + ".",
		alivePrefix: queue + ".alive." + job + ".",
	}
}

// StartPattern returns the scan pattern matching all start markers of the job.
func (k JobKeys) StartPattern() string { return k.startPrefix + "*" }

// AlivePattern returns the scan pattern matching all alive keys of the job.
func (k JobKeys) AlivePattern() string { return k.alivePrefix + "*" }

// StartKey returns the start marker key for a worker token.
func (k JobKeys) StartKey(token string) string { return k.startPrefix + token }

// AliveKey returns the alive key for a worker token.
func (k JobKeys) AliveKey(token string) string { return k.alivePrefix + token }

// StartToken extracts the worker token from a start marker key.
// Returns false if the key does not belong to this job.
func (k JobKeys) StartToken(key string) (string, bool) { return trimPrefix(key, k.startPrefix) }

// AliveToken extracts the worker token from an alive key.
func (k JobKeys) AliveToken(key string) (string, bool) { return trimPrefix(key, k.alivePrefix) }

func trimPrefix(key, prefix string) (string, bool) {
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}

// Args is one task's argument tuple.
// The last element is the reserved per-task RNG seed blob.
type Args []interface{}

// Task is one entry of a chunk's task list.
// Key is the decimal task index under single-level reduction,
// or the decimal output slot number under two-level reduction.
type Task struct {
	Key  string `json:"key"`
	Args Args   `json:"args"`
}

// Chunk is the unit pushed onto the pending list.
type Chunk struct {
	ID    string `json:"id"`
	Tasks []Task `json:"tasks"`
}

// Keys returns the distinct task keys of the chunk, in task order.
func (c *Chunk) Keys() []string {
	keys := make([]string, 0, len(c.Tasks))
	seen := make(map[string]struct{}, len(c.Tasks))
	for _, t := range c.Tasks {
		if _, ok := seen[t.Key]; ok {
			continue
		}
		seen[t.Key] = struct{}{}
		keys = append(keys, t.Key)
	}
	return keys
}

// EncodeChunk serializes a chunk for the pending list.
func EncodeChunk(c *Chunk) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeChunk parses a pending list entry.
func DecodeChunk(buf []byte) (*Chunk, error) {
	c := new(Chunk)
	if err := json.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("invalid chunk: %w", err)
	}
	return c, nil
}

// EncodeResult serializes a single-slot result entry for the out list.
func EncodeResult(slot int, value interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		strconv.Itoa(slot): value,
	})
}

// DecodeResult parses an out list entry into its slot number and raw value.
func DecodeResult(buf []byte) (int, jsoniter.RawMessage, error) {
	var entry map[string]jsoniter.RawMessage
	if err := json.Unmarshal(buf, &entry); err != nil {
		return 0, nil, fmt.Errorf("invalid result: %w", err)
	}
	if len(entry) != 1 {
		return 0, nil, fmt.Errorf("invalid result: %d entries", len(entry))
	}
	for key, raw := range entry {
		slot, err := strconv.Atoi(key)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid result slot %q: %w", key, err)
		}
		return slot, raw, nil
	}
	panic("unreachable")
}

// Envelope is the per-job context workers load before executing tasks.
//
// Expr is the pre-serialized user expression, opaque to the master.
// Bindings hold the exported environment, each value serialized on its own.
// Combine names the reduce function under two-level reduction; workers
// resolve the name in their own runtime, so master-side state never
// crosses the wire.
type Envelope struct {
	Expr     []byte            `json:"expr"`
	Bindings map[string][]byte `json:"bindings,omitempty"`
	Packages []string          `json:"packages,omitempty"`
	Combine  string            `json:"combine,omitempty"`
}

// EncodeEnvelope serializes an envelope.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses an envelope blob.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	e := new(Envelope)
	if err := json.Unmarshal(buf, e); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return e, nil
}

// EncodeStartMarker serializes the chunk keys a worker claims.
func EncodeStartMarker(keys []string) ([]byte, error) {
	return json.Marshal(keys)
}

// DecodeStartMarker parses a start marker blob.
func DecodeStartMarker(buf []byte) ([]string, error) {
	var keys []string
	if err := json.Unmarshal(buf, &keys); err != nil {
		return nil, fmt.Errorf("invalid start marker: %w", err)
	}
	return keys, nil
}

// MarshalValue serializes a single binding or argument value.
func MarshalValue(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalValue parses a value blob.
func UnmarshalValue(buf []byte, v interface{}) error {
	return json.Unmarshal(buf, v)
}

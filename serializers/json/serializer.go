// Package json encodes jobs as the JSON messages stored by the redis
// gateway and published by the rabbitmq gateway.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Message is the wire form of a job
type Message struct {
	Key           string            `json:"key"`
	Type          string            `json:"type"`
	Retries       int               `json:"retries"`
	Worker        string            `json:"worker,omitempty"`
	Deadline      *time.Time        `json:"deadline,omitempty"`
	ActivatedAt   *time.Time        `json:"activated_at,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	Variables     json.RawMessage   `json:"variables,omitempty"`
}

// Serializer converts jobs to and from JSON messages
type Serializer struct{}

// NewSerializer creates a new JSON serializer
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Serialize converts a job to JSON bytes
func (s *Serializer) Serialize(j job.Job) ([]byte, error) {
	data, err := json.Marshal(ConstructMessage(j))
	if err != nil {
		return nil, errors.NewSerializationError(s.GetFormat(), err)
	}

	return data, nil
}

// Deserialize converts JSON bytes to a job
func (s *Serializer) Deserialize(data []byte) (job.Job, error) {
	var message Message

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&message); err != nil {
		return nil, errors.NewSerializationError(s.GetFormat(), err)
	}

	if message.Key == "" || message.Type == "" {
		return nil, errors.NewSerializationError(s.GetFormat(),
			fmt.Errorf("%w: key and type are required", errors.ErrInvalidPayload))
	}

	return job.FromParts(ConstructMetadata(message), job.Payload{Variables: message.Variables}), nil
}

// GetFormat returns the serialization format name
func (s *Serializer) GetFormat() string {
	return "json"
}

// ConstructMessage builds the wire message for a job
func ConstructMessage(j job.Job) Message {
	metadata := j.GetMetadata()

	message := Message{
		Key:           j.GetKey(),
		Type:          j.GetType(),
		Retries:       metadata.Retries,
		Worker:        metadata.Worker,
		CustomHeaders: metadata.CustomHeaders,
		Variables:     j.GetPayload().Variables,
	}
	if !metadata.Deadline.IsZero() {
		deadline := metadata.Deadline
		message.Deadline = &deadline
	}
	if !metadata.ActivatedAt.IsZero() {
		activatedAt := metadata.ActivatedAt
		message.ActivatedAt = &activatedAt
	}

	return message
}

// ConstructMetadata extracts job metadata from a wire message
func ConstructMetadata(message Message) job.Metadata {
	metadata := job.Metadata{
		Key:           message.Key,
		Type:          message.Type,
		Retries:       message.Retries,
		Worker:        message.Worker,
		CustomHeaders: message.CustomHeaders,
	}
	if message.Deadline != nil {
		metadata.Deadline = *message.Deadline
	}
	if message.ActivatedAt != nil {
		metadata.ActivatedAt = *message.ActivatedAt
	}

	return metadata
}

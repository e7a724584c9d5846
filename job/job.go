// Package job defines the jobs activated from a gateway and the outcome
// reported back for each of them.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/BranchIntl/jobworker/errors"
)

// Job is a unit of work activated from a gateway. Implementations are
// immutable once received.
type Job interface {
	GetKey() string
	GetType() string
	GetMetadata() Metadata
	GetPayload() Payload
}

// Metadata holds the activation details of a job
type Metadata struct {
	Key           string            `json:"key"`
	Type          string            `json:"type"`
	Worker        string            `json:"worker,omitempty"`
	Retries       int               `json:"retries"`
	Deadline      time.Time         `json:"deadline,omitempty"`
	ActivatedAt   time.Time         `json:"activated_at,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// Payload is the job body. Only handlers interpret the variables.
type Payload struct {
	Variables json.RawMessage `json:"variables,omitempty"`
}

// Standard is the default Job implementation
type Standard struct {
	metadata Metadata
	payload  Payload
}

// New creates a job of the given type with a fresh key. Variables are
// marshaled to JSON; nil variables produce an empty payload.
func New(jobType string, variables any) (*Standard, error) {
	raw, err := EncodeVariables(variables)
	if err != nil {
		return nil, err
	}

	return &Standard{
		metadata: Metadata{
			Key:     uuid.NewString(),
			Type:    jobType,
			Retries: 3,
		},
		payload: Payload{Variables: raw},
	}, nil
}

// FromParts assembles a job from decoded metadata and payload
func FromParts(metadata Metadata, payload Payload) *Standard {
	return &Standard{metadata: metadata, payload: payload}
}

// Activated returns a copy of the job stamped with activation details
func Activated(j Job, worker string, activatedAt time.Time, timeout time.Duration) *Standard {
	metadata := j.GetMetadata()
	metadata.Worker = worker
	metadata.ActivatedAt = activatedAt
	if timeout > 0 {
		metadata.Deadline = activatedAt.Add(timeout)
	}
	return &Standard{metadata: metadata, payload: j.GetPayload()}
}

func (j *Standard) GetKey() string {
	return j.metadata.Key
}

func (j *Standard) GetType() string {
	return j.metadata.Type
}

func (j *Standard) GetMetadata() Metadata {
	return j.metadata
}

func (j *Standard) GetPayload() Payload {
	return j.payload
}

// DecodeVariables unmarshals the job variables into v
func DecodeVariables(j Job, v any) error {
	raw := j.GetPayload().Variables
	if len(raw) == 0 {
		return errors.NewSerializationError("json", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewSerializationError("json", err)
	}
	return nil
}

// EncodeVariables marshals v to a JSON variables document. A nil v gives
// nil variables and a json.RawMessage is returned as is.
func EncodeVariables(v any) (json.RawMessage, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(raw) > 0 && !json.Valid(raw) {
			return nil, errors.NewSerializationError("json", errors.ErrInvalidPayload)
		}
		return raw, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewSerializationError("json", err)
	}
	return data, nil
}

// SelectVariables returns j with only the named top-level variables kept.
// Empty names, or variables that are not a JSON object, leave j unchanged.
func SelectVariables(j Job, names []string) Job {
	raw := j.GetPayload().Variables
	if len(names) == 0 || len(raw) == 0 {
		return j
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil || all == nil {
		return j
	}

	selected := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok {
			selected[name] = v
		}
	}

	data, err := json.Marshal(selected)
	if err != nil {
		return j
	}
	return &Standard{metadata: j.GetMetadata(), payload: Payload{Variables: data}}
}

// Package events decodes the trigger payloads that start pipeline steps.
//
// Object events come from the object store when an upload completes. Record
// events come from the metadata store's change feed. Each decoder accepts the
// shapes the supported hosts deliver and normalizes them into one struct.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrMalformedEvent is returned when a payload can't be decoded into an event.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrIgnoredEvent is returned for well-formed events of a kind the
	// pipeline doesn't act on, such as object deletions.
	ErrIgnoredEvent = errors.New("ignored event")
)

// FinalizeEventType is the Pub/Sub notification attribute for a completed upload.
const FinalizeEventType = "OBJECT_FINALIZE"

// ObjectEvent identifies an object that finished uploading.
type ObjectEvent struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Generation  string `json:"generation,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// DedupeKey identifies one version of the object. It is empty when the host
// didn't supply a generation.
func (e ObjectEvent) DedupeKey() string {
	if e.Generation == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s#%s", e.Bucket, e.Key, e.Generation)
}

// RecordEvent identifies a metadata record whose text changed.
type RecordEvent struct {
	FileID string `json:"file_id"`
	Op     string `json:"op,omitempty"`
}

// generation accepts both the string and numeric encodings hosts use.
type generation string

func (g *generation) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = generation(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*g = generation(n.String())
	return nil
}

// storageObject is the object resource carried by storage notifications.
type storageObject struct {
	Bucket      string     `json:"bucket"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	Generation  generation `json:"generation"`
	ContentType string     `json:"contentType"`
}

type objectEnvelope struct {
	// Pub/Sub push delivery
	Message *struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`

	// CloudEvents structured mode
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`

	// Object-store notification records
	Records []struct {
		EventName string `json:"eventName"`
		S3        *struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key       string `json:"key"`
				Sequencer string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`

	storageObject
}

// DecodeObjectEvent parses an upload-completed trigger payload.
func DecodeObjectEvent(body []byte) (ObjectEvent, error) {
	var env objectEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ObjectEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var obj storageObject
	switch {
	case env.Message != nil:
		if t := env.Message.Attributes["eventType"]; t != "" && t != FinalizeEventType {
			return ObjectEvent{}, fmt.Errorf("%w: event type %s", ErrIgnoredEvent, t)
		}
		if len(env.Message.Data) > 0 {
			if err := json.Unmarshal(env.Message.Data, &obj); err != nil {
				return ObjectEvent{}, fmt.Errorf("%w: message data: %v", ErrMalformedEvent, err)
			}
		}
		if obj.Bucket == "" {
			obj.Bucket = env.Message.Attributes["bucketId"]
		}
		if obj.Name == "" {
			obj.Name = env.Message.Attributes["objectId"]
		}
		if obj.Generation == "" {
			obj.Generation = generation(env.Message.Attributes["objectGeneration"])
		}

	case env.SpecVersion != "":
		if env.Type != "" && !strings.HasSuffix(env.Type, ".finalized") {
			return ObjectEvent{}, fmt.Errorf("%w: event type %s", ErrIgnoredEvent, env.Type)
		}
		if err := json.Unmarshal(env.Data, &obj); err != nil {
			return ObjectEvent{}, fmt.Errorf("%w: cloudevent data: %v", ErrMalformedEvent, err)
		}

	case len(env.Records) > 0:
		rec := env.Records[0]
		if rec.S3 == nil {
			return ObjectEvent{}, fmt.Errorf("%w: record has no s3 section", ErrMalformedEvent)
		}
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated") {
			return ObjectEvent{}, fmt.Errorf("%w: event name %s", ErrIgnoredEvent, rec.EventName)
		}
		key := rec.S3.Object.Key
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		obj = storageObject{
			Bucket:     rec.S3.Bucket.Name,
			Name:       key,
			Generation: generation(rec.S3.Object.Sequencer),
		}

	default:
		obj = env.storageObject
	}

	event := ObjectEvent{
		Bucket:      obj.Bucket,
		Key:         obj.Name,
		Generation:  string(obj.Generation),
		ContentType: obj.ContentType,
	}
	if event.Key == "" {
		event.Key = obj.Key
	}
	if event.Bucket == "" || event.Key == "" {
		return ObjectEvent{}, fmt.Errorf("%w: bucket and key are required", ErrMalformedEvent)
	}
	return event, nil
}

type recordEnvelope struct {
	FileID string `json:"file_id"`
	Op     string `json:"op"`

	Records []struct {
		EventName string `json:"eventName"`
		DynamoDB  *struct {
			Keys map[string]map[string]string `json:"Keys"`
		} `json:"dynamodb"`
	} `json:"Records"`
}

// DecodeRecordEvent parses a metadata change payload.
func DecodeRecordEvent(body []byte) (RecordEvent, error) {
	var env recordEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RecordEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	event := RecordEvent{FileID: env.FileID, Op: env.Op}
	if event.FileID == "" && len(env.Records) > 0 {
		rec := env.Records[0]
		if rec.DynamoDB != nil {
			event.FileID = rec.DynamoDB.Keys["file_id"]["S"]
		}
		event.Op = rec.EventName
	}

	if strings.TrimSpace(event.FileID) == "" {
		return RecordEvent{}, fmt.Errorf("%w: file_id is required", ErrMalformedEvent)
	}
	return event, nil
}

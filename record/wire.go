package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rogerchi/ddb-stream-router-sub001/attr"
	"github.com/tidwall/gjson"
)

// RawEvent is one entry of the hosted-NoSQL stream wire format (§6): a
// wrapper around a dynamodb sub-object plus eventName/userIdentity.
type RawEvent struct {
	EventID      string           `json:"eventID"`
	EventName    string           `json:"eventName"`
	UserIdentity *rawUserIdentity `json:"userIdentity,omitempty"`
	DynamoDB     rawDynamoDB      `json:"dynamodb"`
}

type rawUserIdentity struct {
	PrincipalID string `json:"principalId"`
	Type        string `json:"type"`
}

type rawDynamoDB struct {
	Keys                        map[string]interface{} `json:"Keys"`
	OldImage                    map[string]interface{} `json:"OldImage,omitempty"`
	NewImage                    map[string]interface{} `json:"NewImage,omitempty"`
	ApproximateCreationDateTime float64                 `json:"ApproximateCreationDateTime"`
	SequenceNumber              string                  `json:"SequenceNumber"`
}

// RawBatch is the top-level Lambda event source payload.
type RawBatch struct {
	Records []RawEvent `json:"Records"`
}

// DecodeError reports that one record in a batch could not be decoded.
// Per §7, a decode error skips all handlers for that record only; it
// never aborts the rest of the batch.
type DecodeError struct {
	Index   int
	EventID string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record[%d] (eventID=%s): %v", e.Index, e.EventID, e.Err)
}

// DecodeBatchJSON unmarshals and decodes a raw Lambda event payload.
func DecodeBatchJSON(data []byte) ([]*Record, []DecodeError) {
	var batch RawBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, []DecodeError{{Index: -1, Err: fmt.Errorf("decode batch envelope: %w", err)}}
	}
	return DecodeBatch(batch)
}

// DecodeBatch decodes every record of batch, tolerating missing optional
// fields per operation kind. Records that fail to decode are omitted from
// the returned slice and reported via the returned errors, in arrival
// order.
func DecodeBatch(batch RawBatch) ([]*Record, []DecodeError) {
	records := make([]*Record, 0, len(batch.Records))
	var errs []DecodeError

	for i, raw := range batch.Records {
		rec, err := decodeOne(raw)
		if err != nil {
			errs = append(errs, DecodeError{Index: i, EventID: raw.EventID, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func decodeOne(raw RawEvent) (*Record, error) {
	var identity *UserIdentity
	if raw.UserIdentity != nil {
		identity = &UserIdentity{
			PrincipalID: raw.UserIdentity.PrincipalID,
			Type:        raw.UserIdentity.Type,
		}
	}

	kind := classify(raw.EventName, identity)

	keysTree, err := attr.DecodeMap(raw.DynamoDB.Keys)
	if err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	keys := keysTree.Map

	var oldImage, newImage *attr.Tree
	if raw.DynamoDB.OldImage != nil {
		t, err := attr.DecodeMap(raw.DynamoDB.OldImage)
		if err != nil {
			return nil, fmt.Errorf("decode old image: %w", err)
		}
		oldImage = &t
	}
	if raw.DynamoDB.NewImage != nil {
		t, err := attr.DecodeMap(raw.DynamoDB.NewImage)
		if err != nil {
			return nil, fmt.Errorf("decode new image: %w", err)
		}
		newImage = &t
	}

	ts := time.Unix(int64(raw.DynamoDB.ApproximateCreationDateTime), 0).UTC()

	return &Record{
		OperationKind:        kind,
		Keys:                 keys,
		OldImage:             oldImage,
		NewImage:             newImage,
		EventID:              raw.EventID,
		ApproximateTimestamp: ts,
		SequenceNumber:       raw.DynamoDB.SequenceNumber,
		UserIdentity:         identity,
	}, nil
}

// DecodeBatchRawJSON decodes a batch directly from raw JSON bytes using
// gjson for the per-record image walk, avoiding a full map[string]any
// unmarshal of every image in a large batch. Semantically equivalent to
// DecodeBatchJSON.
func DecodeBatchRawJSON(data []byte) ([]*Record, []DecodeError) {
	root := gjson.ParseBytes(data)
	recordsResult := root.Get("Records")
	if !recordsResult.IsArray() {
		return nil, []DecodeError{{Index: -1, Err: fmt.Errorf("Records is not an array")}}
	}

	var records []*Record
	var errs []DecodeError
	i := 0
	recordsResult.ForEach(func(_, rec gjson.Result) bool {
		idx := i
		i++
		r, err := decodeOneRawJSON(rec)
		if err != nil {
			errs = append(errs, DecodeError{Index: idx, EventID: rec.Get("eventID").String(), Err: err})
			return true
		}
		records = append(records, r)
		return true
	})
	return records, errs
}

func decodeOneRawJSON(rec gjson.Result) (*Record, error) {
	eventName := rec.Get("eventName").String()

	var identity *UserIdentity
	if ui := rec.Get("userIdentity"); ui.Exists() {
		identity = &UserIdentity{
			PrincipalID: ui.Get("principalId").String(),
			Type:        ui.Get("type").String(),
		}
	}
	kind := classify(eventName, identity)

	ddb := rec.Get("dynamodb")
	keysTree, err := attr.DecodeImageRawJSON([]byte(ddb.Get("Keys").Raw))
	if err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}

	var oldImage, newImage *attr.Tree
	if old := ddb.Get("OldImage"); old.Exists() {
		t, err := attr.DecodeImageRawJSON([]byte(old.Raw))
		if err != nil {
			return nil, fmt.Errorf("decode old image: %w", err)
		}
		oldImage = &t
	}
	if newer := ddb.Get("NewImage"); newer.Exists() {
		t, err := attr.DecodeImageRawJSON([]byte(newer.Raw))
		if err != nil {
			return nil, fmt.Errorf("decode new image: %w", err)
		}
		newImage = &t
	}

	ts := time.Unix(ddb.Get("ApproximateCreationDateTime").Int(), 0).UTC()

	return &Record{
		OperationKind:        kind,
		Keys:                 keysTree.Map,
		OldImage:             oldImage,
		NewImage:             newImage,
		EventID:              rec.Get("eventID").String(),
		ApproximateTimestamp: ts,
		SequenceNumber:       ddb.Get("SequenceNumber").String(),
		UserIdentity:         identity,
	}, nil
}

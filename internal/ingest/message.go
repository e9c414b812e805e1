package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ErrMalformed marks a feed message that lacks a usable partition key or offset
var ErrMalformed = errors.New("malformed message")

const unknownMsgType = "unknown"

// Message is a decoded feed message ready for deduplication
type Message struct {
	PartitionKey string
	Offset       int64
	MsgType      string
	// Payload is the raw message as delivered by the transport
	Payload json.RawMessage

	// position in the delivered batch
	index int
}

// Decode extracts the partition key, offset and message type from a raw feed message.
// The partition key comes from matchId, falling back to id. The offset must be an integral JSON number.
func Decode(raw json.RawMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Message{}, errors.Wrap(ErrMalformed, "message is not a JSON object")
	}

	key := partitionKey(fields["matchId"])
	if key == "" {
		key = partitionKey(fields["id"])
	}
	if key == "" {
		return Message{}, errors.Wrap(ErrMalformed, "missing partition key")
	}

	rawOffset, ok := fields["offset"]
	if !ok || isNull(rawOffset) {
		return Message{}, errors.Wrap(ErrMalformed, "missing offset")
	}
	offset, err := parseOffset(rawOffset)
	if err != nil {
		return Message{}, err
	}

	msgType := unknownMsgType
	var t string
	if err := json.Unmarshal(fields["msgType"], &t); err == nil && t != "" {
		msgType = t
	}

	return Message{
		PartitionKey: key,
		Offset:       offset,
		MsgType:      msgType,
		Payload:      raw,
	}, nil
}

// partitionKey accepts a non-empty string or a number. Other values are treated as absent.
func partitionKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil && n.String() != "0" {
		return n.String()
	}

	return ""
}

func parseOffset(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, errors.Wrapf(ErrMalformed, "offset %s is not a number", string(raw))
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, errors.Wrapf(ErrMalformed, "offset %s is not a number", string(raw))
	}

	if offset, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return offset, nil
	}

	// 5.0 and 1e3 are integral values in non-integer notation
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, errors.Wrapf(ErrMalformed, "offset %s is not an integer", n.String())
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Wrapf(ErrMalformed, "offset %s is out of range", n.String())
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

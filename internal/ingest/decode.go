package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// WireVersion is the highest event schema version understood.
const WireVersion = 1

// Encoding names a detector event wire format.
type Encoding string

const (
	// EncodingAuto picks JSON or msgpack from the first payload byte.
	EncodingAuto    Encoding = "auto"
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means auto.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EncodingAuto, nil
	case EncodingAuto, EncodingJSON, EncodingMsgpack:
		return e, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

var (
	// ErrMalformed is returned for payloads that cannot be decoded.
	ErrMalformed = errors.New("ingest: malformed event")
	// ErrUnsupportedVersion is returned for schema versions newer than WireVersion.
	ErrUnsupportedVersion = errors.New("ingest: unsupported event version")
)

// wireEvent is the published schema. frame_number is the name used by the
// original event stream and is accepted as an alias of frame_seq.
type wireEvent struct {
	Version     int    `json:"v" msgpack:"v"`
	FrameSeq    *int64 `json:"frame_seq" msgpack:"frame_seq"`
	FrameNumber *int64 `json:"frame_number" msgpack:"frame_number"`
	Count       int64  `json:"count" msgpack:"count"`
	Over        *bool  `json:"over" msgpack:"over"`
}

// Decode parses one event payload. The returned event has no Source or
// Received time; the subscriber fills those in.
func Decode(enc Encoding, payload []byte) (Event, error) {
	if enc == EncodingAuto {
		enc = sniff(payload)
	}

	var w wireEvent
	var err error
	switch enc {
	case EncodingJSON:
		err = json.Unmarshal(payload, &w)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(payload, &w)
	default:
		return Event{}, fmt.Errorf("%w: unknown encoding %q", ErrMalformed, enc)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.Version > WireVersion {
		return Event{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}
	seq := w.FrameSeq
	if seq == nil {
		seq = w.FrameNumber
	}
	if seq == nil {
		return Event{}, fmt.Errorf("%w: missing frame_seq", ErrMalformed)
	}
	if w.Count < 0 {
		return Event{}, fmt.Errorf("%w: negative count %d", ErrMalformed, w.Count)
	}
	return Event{FrameSeq: *seq, Count: w.Count, Over: w.Over}, nil
}

// sniff treats payloads starting with '{' as JSON and anything else as msgpack.
func sniff(payload []byte) Encoding {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return EncodingJSON
	}
	return EncodingMsgpack
}

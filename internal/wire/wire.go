package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Message types understood by both ends. Receivers ignore anything else so
// that newer senders can add types without breaking older receivers.
const (
	TypePhoto  = "photo"
	TypePDF    = "pdf"
	TypePaired = "paired"
)

// DefaultMaxPayload bounds the decoded size of a single transfer. A whole
// report with embedded images stays well below this, and the payload has to
// fit in memory twice during base64 transcoding anyway.
const DefaultMaxPayload = 32 << 20

var ErrEncodingFailure = errors.New("payload exceeds transfer limits or is not decodable")

// Message is the single frame format on the pairing channel. One message per
// logical event, no chunking. The field set matches the original wire shape:
// photo frames carry Photo, pdf frames carry Data/Filename/PatientName.
type Message struct {
	Type        string `json:"type"`
	Photo       string `json:"photo,omitempty"`
	Data        string `json:"data,omitempty"`
	Filename    string `json:"filename,omitempty"`
	PatientName string `json:"patientName,omitempty"`
}

func NewPhoto(jpeg []byte, limit int) (Message, error) {
	enc, err := EncodePayload(jpeg, limit)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypePhoto, Photo: enc}, nil
}

func NewPDF(doc []byte, filename string, patientName string, limit int) (Message, error) {
	enc, err := EncodePayload(doc, limit)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:        TypePDF,
		Data:        enc,
		Filename:    filename,
		PatientName: patientName,
	}, nil
}

// PhotoBytes decodes the photo payload of a photo frame.
func (m Message) PhotoBytes(limit int) ([]byte, error) {
	if m.Type != TypePhoto {
		return nil, fmt.Errorf("not a photo frame: %q", m.Type)
	}
	return DecodePayload(m.Photo, limit)
}

// PDFBytes decodes the document payload of a pdf frame.
func (m Message) PDFBytes(limit int) ([]byte, error) {
	if m.Type != TypePDF {
		return nil, fmt.Errorf("not a pdf frame: %q", m.Type)
	}
	return DecodePayload(m.Data, limit)
}

func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Unmarshal(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	return m, nil
}

// EncodePayload turns a binary payload into its text-safe wire form.
func EncodePayload(raw []byte, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	if len(raw) > limit {
		return "", fmt.Errorf("%w: %d bytes over %d byte limit", ErrEncodingFailure, len(raw), limit)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload is the inverse of EncodePayload. The limit is checked against
// the encoded length first so a hostile frame cannot force a huge allocation.
func DecodePayload(enc string, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	if base64.StdEncoding.DecodedLen(len(enc)) > limit {
		return nil, fmt.Errorf("%w: encoded payload too large", ErrEncodingFailure)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	return raw, nil
}

package wire

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	// a synthetic report the size of a real one with embedded images
	raw := make([]byte, 2<<20)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	enc, err := EncodePayload(raw, 0)
	require.NoError(t, err)
	dec, err := DecodePayload(enc, 0)
	require.NoError(t, err)
	require.Equal(t, raw, dec)
}

func TestEncodePayloadLimit(t *testing.T) {
	raw := make([]byte, 1024)
	_, err := EncodePayload(raw, 512)
	require.ErrorIs(t, err, ErrEncodingFailure)
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name  string
		enc   string
		limit int
	}{
		{name: "not base64", enc: "!!! not base64 !!!", limit: 0},
		{name: "over limit", enc: strings.Repeat("A", 4096), limit: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.enc, tt.limit)
			assert.ErrorIs(t, err, ErrEncodingFailure)
		})
	}
}

func TestPhotoMessage(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	msg, err := NewPhoto(jpeg, 0)
	require.NoError(t, err)
	assert.Equal(t, TypePhoto, msg.Type)

	got, err := msg.PhotoBytes(0)
	require.NoError(t, err)
	assert.Equal(t, jpeg, got)

	_, err = msg.PDFBytes(0)
	assert.Error(t, err)
}

func TestPDFMessage(t *testing.T) {
	doc := []byte("%PDF-1.4 pretend report")
	msg, err := NewPDF(doc, "CR_Doe.pdf", "Jean Doe", 0)
	require.NoError(t, err)
	assert.Equal(t, TypePDF, msg.Type)
	assert.Equal(t, "CR_Doe.pdf", msg.Filename)
	assert.Equal(t, "Jean Doe", msg.PatientName)

	got, err := msg.PDFBytes(0)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestMarshalMatchesWireShape(t *testing.T) {
	msg, err := NewPhoto([]byte{0x01}, 0)
	require.NoError(t, err)
	raw, err := Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"photo","photo":"AQ=="}`, string(raw))
}

func TestUnmarshalUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Unmarshal([]byte(`{"type":"telemetry","payload":"whatever"}`))
	require.NoError(t, err)
	assert.Equal(t, "telemetry", msg.Type)
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":`))
	assert.Error(t, err)
}

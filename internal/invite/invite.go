// Package invite builds and parses the QR-encoded invitation URL. The URL is
// the one bit-exact contract with the outside world: any camera app that
// opens it must land the phone in the right responder mode with the right
// session id.
package invite

import (
	"errors"
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

// Mode selects what the phone does after connecting.
type Mode string

const (
	// ModePhoto: the phone acts as a remote camera and streams photos back.
	ModePhoto Mode = "photo"
	// ModePDF: the phone receives the finished report for onward sharing.
	ModePDF Mode = "pdf"
)

var ErrNotAnInvite = errors.New("url does not carry a pairing invitation")

type Invite struct {
	Mode      Mode
	SessionID string
}

// BuildURL renders the invitation as <origin>/?photo=1&peer=<id> or
// <origin>/?pdf=1&peer=<id>.
func BuildURL(origin string, mode Mode, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("missing session id")
	}
	if mode != ModePhoto && mode != ModePDF {
		return "", fmt.Errorf("unknown invite mode %q", mode)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("bad origin %q: %w", origin, err)
	}
	q := u.Query()
	q.Set(string(mode), "1")
	q.Set("peer", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseURL recovers mode and session id from a scanned URL. Photo mode wins
// if both flags are somehow present, matching how the app routes at load.
func ParseURL(raw string) (*Invite, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable invite url: %w", err)
	}
	q := u.Query()
	peer := q.Get("peer")
	if peer == "" {
		return nil, ErrNotAnInvite
	}
	switch {
	case q.Get("photo") == "1":
		return &Invite{Mode: ModePhoto, SessionID: peer}, nil
	case q.Get("pdf") == "1":
		return &Invite{Mode: ModePDF, SessionID: peer}, nil
	}
	return nil, ErrNotAnInvite
}

// WritePNG renders the invitation QR to a png file for display surfaces that
// cannot draw it themselves.
func WritePNG(inviteURL string, size int, path string) error {
	if size <= 0 {
		size = 256
	}
	return qrcode.WriteFile(inviteURL, qrcode.Medium, size, path)
}

// Terminal renders the QR as half-block text for scanning straight off the
// terminal the desktop session runs in.
func Terminal(inviteURL string) (string, error) {
	q, err := qrcode.New(inviteURL, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}

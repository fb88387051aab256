package desktop_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crsend/internal/broker"
	"crsend/internal/desktop"
	"crsend/internal/invite"
	"crsend/internal/mobile"
	"crsend/internal/rendezvous"
)

// recorderHooks captures every UI event for assertions. Channels are buffered
// generously so the orchestrator never blocks on the test.
type recorderHooks struct {
	connected    chan struct{}
	photos       chan *desktop.Photo
	disconnected chan struct{}
	failures     chan error

	mu     sync.Mutex
	states []desktop.SendState
}

func newRecorderHooks() *recorderHooks {
	return &recorderHooks{
		connected:    make(chan struct{}, 1),
		photos:       make(chan *desktop.Photo, 16),
		disconnected: make(chan struct{}, 1),
		failures:     make(chan error, 1),
	}
}

func (r *recorderHooks) PeerConnected()                 { r.connected <- struct{}{} }
func (r *recorderHooks) PhotoReceived(p *desktop.Photo) { r.photos <- p }
func (r *recorderHooks) PeerDisconnected()              { r.disconnected <- struct{}{} }
func (r *recorderHooks) SessionFailed(err error)        { r.failures <- err }

func (r *recorderHooks) SendStateChanged(s desktop.SendState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorderHooks) sendStates() []desktop.SendState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]desktop.SendState, len(r.states))
	copy(out, r.states)
	return out
}

func startBroker(t *testing.T) *rendezvous.Client {
	t.Helper()
	hub := broker.NewHub(0)
	done := make(chan struct{})
	go hub.Run(done)
	ts := httptest.NewServer(hub.Router())
	t.Cleanup(func() {
		close(done)
		ts.Close()
	})
	return rendezvous.NewClient(ts.URL, 2*time.Second)
}

func waitOn[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestPhotoSessionEndToEnd(t *testing.T) {
	client := startBroker(t)
	ctx := context.Background()

	hooks := newRecorderHooks()
	orch := desktop.NewPhotoReceiver(client, hooks, 0)
	t.Cleanup(func() { orch.Close() })

	sessionID, err := orch.Open(ctx)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^cr-[a-z0-9]{8}$`), sessionID)

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	// three pre-taken shots standing in for shutter presses
	captures := [][]byte{
		bytes.Repeat([]byte{0xca}, 2048),
		bytes.Repeat([]byte{0xfe}, 1024),
		bytes.Repeat([]byte{0x42}, 4096),
	}
	dir := t.TempDir()
	var paths []string
	for i, raw := range captures {
		p := filepath.Join(dir, "shot"+string(rune('a'+i))+".jpg")
		require.NoError(t, os.WriteFile(p, raw, 0o644))
		paths = append(paths, p)
	}

	inviteURL, err := invite.BuildURL("https://cr.example.com", invite.ModePhoto, sessionID)
	require.NoError(t, err)
	inv, err := invite.ParseURL(inviteURL)
	require.NoError(t, err)
	require.Equal(t, sessionID, inv.SessionID)

	phone := mobile.New(client, inv, mobile.NewFileCamera(paths...), nil, 0)
	require.NoError(t, phone.Connect(ctx))
	require.Equal(t, mobile.StatusConnected, phone.Status())
	waitOn(t, hooks.connected, "peer connected event")

	for range captures {
		_, err := phone.CapturePhoto(ctx)
		require.NoError(t, err)
	}
	_, err = phone.CapturePhoto(ctx)
	require.ErrorIs(t, err, mobile.ErrNoMoreCaptures)
	assert.Len(t, phone.Assets(), 3)

	for i, want := range captures {
		got := waitOn(t, hooks.photos, "photo event")
		assert.Equal(t, want, got.JPEG, "photo %d", i)
		assert.True(t, got.FromMobile)
	}

	require.NoError(t, phone.Close())
	waitOn(t, hooks.disconnected, "peer disconnected event")
	require.NoError(t, waitOn(t, runErr, "run to return"))

	photos := orch.Photos()
	require.Len(t, photos, 3)
	for i, want := range captures {
		assert.Equal(t, want, photos[i].JPEG)
	}
}

func TestReportSessionEndToEnd(t *testing.T) {
	client := startBroker(t)
	ctx := context.Background()

	reportBytes := bytes.Repeat([]byte("%PDF-1.4 fake body "), 512)
	report := &desktop.Report{
		Data:         reportBytes,
		Filename:     "CR_Doe.pdf",
		PatientLabel: "Jean Doe",
	}

	hooks := newRecorderHooks()
	orch := desktop.NewReportSender(client, report, hooks, 0)
	t.Cleanup(func() { orch.Close() })

	sessionID, err := orch.Open(ctx)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	inviteURL, err := invite.BuildURL("https://cr.example.com", invite.ModePDF, sessionID)
	require.NoError(t, err)
	inv, err := invite.ParseURL(inviteURL)
	require.NoError(t, err)
	require.Equal(t, invite.ModePDF, inv.Mode)

	downloads := t.TempDir()
	phone := mobile.New(client, inv, nil, &mobile.FolderSink{Dir: downloads}, 0)
	require.NoError(t, phone.Connect(ctx))
	waitOn(t, hooks.connected, "peer connected event")

	doc, err := phone.AwaitDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CR_Doe.pdf", doc.Filename)
	assert.Equal(t, "Jean Doe", doc.PatientLabel)
	assert.Equal(t, len(reportBytes), len(doc.Data))
	assert.Equal(t, reportBytes, doc.Data)
	assert.Equal(t, mobile.StatusReceived, phone.Status())

	saved, err := os.ReadFile(filepath.Join(downloads, "CR_Doe.pdf"))
	require.NoError(t, err)
	assert.Equal(t, reportBytes, saved)

	require.Eventually(t, func() bool { return orch.SendState() == desktop.Sent }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []desktop.SendState{desktop.Sending, desktop.Sent}, hooks.sendStates())

	require.NoError(t, phone.Close())
	require.NoError(t, waitOn(t, runErr, "run to return"))
}

func TestSendWithoutReport(t *testing.T) {
	client := startBroker(t)
	orch := desktop.NewPhotoReceiver(client, newRecorderHooks(), 0)
	err := orch.Send()
	require.Error(t, err)
}

func TestRunBeforeOpen(t *testing.T) {
	client := startBroker(t)
	orch := desktop.NewPhotoReceiver(client, newRecorderHooks(), 0)
	require.Error(t, orch.Run(context.Background()))
}

func TestStaleInviteFailsClosed(t *testing.T) {
	client := startBroker(t)
	inv := &invite.Invite{Mode: invite.ModePhoto, SessionID: "cr-expired0"}
	phone := mobile.New(client, inv, nil, nil, 0)

	err := phone.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rendezvous.ErrPeerNotFound)
	assert.Equal(t, mobile.StatusFailed, phone.Status())
}

func TestCloseIsIdempotent(t *testing.T) {
	client := startBroker(t)
	orch := desktop.NewPhotoReceiver(client, newRecorderHooks(), 0)
	_, err := orch.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, orch.Close())
	require.NoError(t, orch.Close())
}

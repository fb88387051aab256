package mobile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCameraCapturesInOrder(t *testing.T) {
	dir := t.TempDir()
	want := [][]byte{[]byte("first"), []byte("second")}
	var paths []string
	for i, raw := range want {
		p := filepath.Join(dir, []string{"a.jpg", "b.jpg"}[i])
		require.NoError(t, os.WriteFile(p, raw, 0o644))
		paths = append(paths, p)
	}

	cam := NewFileCamera(paths...)
	for _, expected := range want {
		got, err := cam.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	}
	_, err := cam.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoMoreCaptures)
}

func TestFileCameraClose(t *testing.T) {
	cam := NewFileCamera(filepath.Join(t.TempDir(), "never-read.jpg"))
	require.NoError(t, cam.Close())
	_, err := cam.Capture(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMoreCaptures)
}

func TestFileCameraHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cam := NewFileCamera()
	_, err := cam.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFolderSinkWritesDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	sink := &FolderSink{Dir: dir}

	doc := &ReceivedDocument{Filename: "CR_Doe.pdf", PatientLabel: "Jean Doe", Data: []byte("pdf payload")}
	require.NoError(t, sink.Share(doc))

	raw, err := os.ReadFile(filepath.Join(dir, "CR_Doe.pdf"))
	require.NoError(t, err)
	assert.Equal(t, doc.Data, raw)
}

func TestFolderSinkStripsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	sink := &FolderSink{Dir: dir}

	doc := &ReceivedDocument{Filename: "../../etc/evil.pdf", Data: []byte("x")}
	require.NoError(t, sink.Share(doc))

	_, err := os.Stat(filepath.Join(dir, "evil.pdf"))
	assert.NoError(t, err)
}

func TestFolderSinkFallsBackToDefaultName(t *testing.T) {
	dir := t.TempDir()
	sink := &FolderSink{Dir: dir}

	doc := &ReceivedDocument{Filename: ".", Data: []byte("x")}
	require.NoError(t, sink.Share(doc))

	_, err := os.Stat(filepath.Join(dir, DefaultFilename))
	assert.NoError(t, err)
}

func TestCapturePhotoWithoutChannel(t *testing.T) {
	dir := t.TempDir()
	shot := filepath.Join(dir, "shot.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))

	o := New(nil, nil, NewFileCamera(shot), nil, 0)
	_, err := o.CapturePhoto(context.Background())
	assert.Error(t, err)
}

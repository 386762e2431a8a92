package treesync

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntriesFromZip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entry, err := writer.Create("metadata.json")
	require.NoError(t, err)
	_, err = entry.Write([]byte(`{"title":"Sorting 101"}`))
	require.NoError(t, err)
	entry, err = writer.Create("statements/s1/intro.md")
	require.NoError(t, err)
	_, err = entry.Write([]byte("# Intro"))
	require.NoError(t, err)
	// Directory entries must not show up as importable entries.
	_, err = writer.Create("statements/")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	entries := EntriesFromZip(reader)
	require.Len(t, entries, 2)

	content, err := entries["metadata.json"].Bytes()
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"Sorting 101"}`, string(content))

	content, err = entries["statements/s1/intro.md"].Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("# Intro"), content)
}

func TestZipSinkRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewZipSink(&buf)
	require.NoError(t, sink.Put("metadata.json", []byte(`{}`)))
	require.NoError(t, sink.Put("statements/s1/intro.md", []byte("# Intro")))
	require.NoError(t, sink.Close())

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, reader.File, 2)

	entries := EntriesFromZip(reader)
	content, err := entries["statements/s1/intro.md"].Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("# Intro"), content)
}

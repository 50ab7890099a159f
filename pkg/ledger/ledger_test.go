package ledger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/fake"
)

func TestAppendIdempotent(t *testing.T) {
	l := New()
	record := Record{
		Hash:   "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		Name:   "20230115.0400.00.sas.a.rawacf.bz2",
		Reason: "Failed BZ2 integrity test",
	}

	assert.True(t, l.Append(record))
	assert.False(t, l.Append(record))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Added())

	// Same name with different contents is a distinct defect.
	record.Hash = "356a192b7913b04c54574d18c28d46e6395428ab"
	assert.True(t, l.Append(record))
	assert.Equal(t, 2, l.Len())
}

func TestParsePreservesHistory(t *testing.T) {
	history := "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d  20230115.0400.00.sas.a.rawacf.bz2 | Failed BZ2 integrity test\n" +
		"some old entry in a legacy format\n"

	l, err := Parse(strings.NewReader(history))
	assert.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 0, l.Added())

	assert.True(t, l.Contains(
		"aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", "20230115.0400.00.sas.a.rawacf.bz2"))

	// Re-encoding reproduces the history byte for byte.
	var buf bytes.Buffer
	assert.NoError(t, l.Encode(&buf))
	assert.Equal(t, history, buf.String())
}

func TestRecordLine(t *testing.T) {
	record := Record{Hash: "abc", Name: "x.rawacf.bz2", Reason: "File contains no records (empty)"}
	assert.Equal(t, "abc  x.rawacf.bz2 | File contains no records (empty)", record.Line())
}

func TestStoreRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()
	layout := mirror.Layout{Root: "/mirror"}
	store := NewStore(fake.New(fs), layout, "/working")

	// First fetch: nothing on the mirror yet.
	l, err := store.Fetch()
	assert.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	// Nothing added, so publish must not create the remote file.
	assert.NoError(t, store.Publish(l))
	exists, err := afero.Exists(fs, layout.LedgerPath())
	assert.NoError(t, err)
	assert.False(t, exists)

	l.Append(Record{Hash: "abc", Name: "x.rawacf.bz2", Reason: "Failed BZ2 integrity test"})
	assert.NoError(t, store.Publish(l))

	fetched, err := store.Fetch()
	assert.NoError(t, err)
	assert.Equal(t, 1, fetched.Len())
	assert.True(t, fetched.Contains("abc", "x.rawacf.bz2"))
}

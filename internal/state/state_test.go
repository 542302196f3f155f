package state

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "ipwatch/pkg/logx"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)

	rec, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.LastValue)
	assert.Empty(t, rec.Subscribers)
	assert.Empty(t, rec.Targets)
}

func TestFileStoreSaveReplacesWholeDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, Record{LastValue: "1.1.1.1", Subscribers: []string{"b", "a", "a"}, Targets: []string{"r1", "r1"}}))
	require.NoError(t, st.Save(ctx, Record{LastValue: "2.2.2.2"}))

	rec, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2", rec.LastValue)
	assert.Empty(t, rec.Subscribers)

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreCorruptData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	_, err = st.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStoreSaveFailureIsPersistenceError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	err = st.Save(context.Background(), Record{LastValue: "1.2.3.4"})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "file", pe.Driver)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.LastValue)

	require.NoError(t, st.Save(ctx, Record{LastValue: "1.2.3.4", Subscribers: []string{"42"}, Targets: []string{"rec-a", "rec-b"}}))
	require.NoError(t, st.Save(ctx, Record{LastValue: "5.6.7.8", Subscribers: []string{"42", "7"}, Targets: []string{"rec-a", "rec-b"}}))

	rec, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5.6.7.8", rec.LastValue)
	assert.Equal(t, []string{"42", "7"}, rec.Subscribers)
	assert.Equal(t, []string{"rec-a", "rec-b"}, rec.Targets)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
}

type fakeObjects struct {
	body   []byte
	putErr error
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.body == nil {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objs := &fakeObjects{}
	st := newS3Store(objs, "bucket", "", logx.Nop())
	assert.Equal(t, defaultS3Key, st.key)

	rec, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.LastValue)

	require.NoError(t, st.Save(ctx, Record{LastValue: "9.9.9.9", Subscribers: []string{"1"}}))
	rec, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", rec.LastValue)

	objs.putErr = errors.New("access denied")
	var pe *PersistenceError
	require.ErrorAs(t, st.Save(ctx, Record{}), &pe)
	assert.Equal(t, "s3", pe.Driver)

	objs.body = []byte("<xml/>")
	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestApplyPragmasWarnsOnFailure(t *testing.T) {
	t.Parallel()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pragma.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var out bytes.Buffer
	applyPragmas(context.Background(), db, logx.NewWriter(&out, "debug"),
		"PRAGMA synchronous = FULL",
		"PRAGMA synchronous = (",
	)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[0], "sqlite pragma failed")
	assert.Contains(t, lines[0], "PRAGMA synchronous = (")
}

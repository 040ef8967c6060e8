package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/storage/storagetest"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failOn  func(key string) bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if f.failOn != nil && f.failOn(key) {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) (*blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return &blob.Object{Body: io.NopCloser(bytes.NewReader(data)), ContentType: f.types[key], Size: int64(len(data))}, nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []domain.Message
	failAt   int // 1-based publish call that fails, 0 never
	calls    int
}

func (f *fakeQueue) Publish(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		return errors.New("broker unreachable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

type failingStore struct {
	*storage.Storage
	err error
}

func (f *failingStore) CreateJob(ctx context.Context, job *domain.Job) error {
	return f.err
}

type fixture struct {
	store   *storage.Storage
	blobs   *fakeBlobs
	queue   *fakeQueue
	service *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	f := &fixture{
		store: storagetest.New(t),
		blobs: newFakeBlobs(),
		queue: &fakeQueue{},
	}
	f.service = NewService(f.store, f.blobs, f.queue, pool, storagetest.Logger(), opts)
	return f
}

func testAccount() domain.Account {
	return domain.Account{Username: "alice", AccountID: "17841400000000001", AccessToken: "page-token"}
}

func testMedia(name string) Media {
	return MediaFromBytes(name, "video/mp4", []byte("video:"+name))
}

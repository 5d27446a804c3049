package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/db"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
	"github.com/glimmerapp/glimmer/internal/task"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite gives each connection its own database
	database.SetMaxOpenConns(1)

	err = db.RunMigrations(database.DB, "sqlite")
	require.NoError(t, err)

	t.Cleanup(func() { _ = database.Close() })
	return database
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:               "glimmer",
		AppEnv:                "test",
		AppURL:                "http://localhost:8090",
		SignupCredits:         3,
		RefundOnFailure:       true,
		MaxUploadBytes:        5 << 20,
		S3PresignExpiryShared: 24 * time.Hour,
		S3PresignExpiryOwner:  time.Hour,
	}
}

// fakeStorage is an in-memory blob store.
type fakeStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: map[string][]byte{}}
}

func (s *fakeStorage) Save(_ context.Context, key, _ string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = b
	return nil
}

func (s *fakeStorage) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *fakeStorage) SignedURL(key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?sig=test", nil
}

func (s *fakeStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// fakeTransformer returns scripted outcomes in order, then repeats the last
// one.
type fakeTransformer struct {
	mu       sync.Mutex
	outcomes []func() ([]byte, error)
	calls    int
}

func (f *fakeTransformer) Transform(_ context.Context, _ []byte, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.outcomes) == 0 {
		return pngBytes(2, 2), nil
	}
	outcome := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return outcome()
}

func succeedWith(data []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return data, nil }
}

func failWith(msg string) func() ([]byte, error) {
	return func() ([]byte, error) { return nil, fmt.Errorf("%s", msg) }
}

// queueScheduler records tasks; tests drain it explicitly to control when
// deferred work runs.
type queueScheduler struct {
	mu    sync.Mutex
	tasks []task.Task
}

func (q *queueScheduler) Enqueue(t task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *queueScheduler) pop() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return task.Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *queueScheduler) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *queueScheduler) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

type env struct {
	cfg       *config.Config
	db        *sqlx.DB
	users     repository.UserRepository
	images    repository.ImageRepository
	checkouts repository.CheckoutRepository
	store     *fakeStorage
	tf        *fakeTransformer
	sched     *queueScheduler

	userSvc    *UserService
	imageSvc   *ImageService
	gen        *GenerationService
	billingSvc *BillingService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := testConfig()
	database := newTestDB(t)

	users := repository.NewUserRepository(database)
	images := repository.NewImageRepository(database)
	checkouts := repository.NewCheckoutRepository(database)

	store := newFakeStorage()
	tf := &fakeTransformer{}
	sched := &queueScheduler{}

	access := NewAccess(images)
	gen := NewGenerationService(cfg, database, images, users, store, tf, access)
	gen.SetScheduler(sched)

	email := NewEmailService("", "test@glimmer.test", cfg.AppURL, cfg.AppName, true)

	return &env{
		cfg:        cfg,
		db:         database,
		users:      users,
		images:     images,
		checkouts:  checkouts,
		store:      store,
		tf:         tf,
		sched:      sched,
		userSvc:    NewUserService(users, cfg.SignupCredits),
		imageSvc:   NewImageService(cfg, images, store, access),
		gen:        gen,
		billingSvc: NewBillingService(database, checkouts, users, email),
	}
}

// drain processes queued tasks, including tasks enqueued by retries, until
// the queue is empty.
func (e *env) drain(t *testing.T) {
	t.Helper()
	for {
		tk, ok := e.sched.pop()
		if !ok {
			return
		}
		e.gen.Process(context.Background(), tk)
	}
}

func (e *env) newUser(t *testing.T, id string) *model.User {
	t.Helper()
	user, err := e.userSvc.Resolve(context.Background(), id, id+"@example.com", "User "+id, false)
	require.NoError(t, err)
	return user
}

func (e *env) newAdmin(t *testing.T, id string) *model.User {
	t.Helper()
	user, err := e.userSvc.Resolve(context.Background(), id, id+"@example.com", "Admin "+id, true)
	require.NoError(t, err)
	return user
}

func (e *env) setCredits(t *testing.T, userID string, credits int) {
	t.Helper()
	_, err := e.db.Exec(`UPDATE users SET credits = $2 WHERE id = $1`, userID, credits)
	require.NoError(t, err)
}

func (e *env) credits(t *testing.T, userID string) int {
	t.Helper()
	user, err := e.users.ByID(context.Background(), userID)
	require.NoError(t, err)
	return user.Credits
}

// putBlob stores test image bytes and returns the key.
func (e *env) putBlob(t *testing.T, key string, data []byte) string {
	t.Helper()
	err := e.store.Save(context.Background(), key, "image/png", bytes.NewReader(data))
	require.NoError(t, err)
	return key
}

// submit uploads a valid blob and submits it for generation.
func (e *env) submit(t *testing.T, user *model.User) *model.Image {
	t.Helper()
	key := e.putBlob(t, "uploads/"+user.ID+"-"+fmt.Sprint(time.Now().UnixNano())+".png", pngBytes(4, 4))
	img, err := e.gen.Submit(context.Background(), user, key, nil)
	require.NoError(t, err)
	return img
}

func taskFor(img *model.Image) task.Task {
	return task.Task{ImageID: img.ID, BlobKey: img.BlobKey, ContentType: img.ContentType}
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 50), G: uint8(y * 50), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

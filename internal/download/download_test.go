package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipdrop/internal/extract"
	"clipdrop/internal/httputil"
	"clipdrop/internal/media"
	"clipdrop/internal/store"
)

const testBase = "https://abc123.ngrok.app"

// fakeExtractor serves a fixed video. Fields control failure modes.
type fakeExtractor struct {
	title      string
	streams    []media.Stream
	payload    string
	resolveErr error
	openErr    error
	readErr    error
	block      chan struct{} // if set, Resolve waits on it or ctx

	resolves atomic.Int32
	opens    atomic.Int32
}

func (f *fakeExtractor) Resolve(ctx context.Context, rawURL string) (*media.Video, error) {
	f.resolves.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &media.Video{ID: "abc", Title: f.title, Source: rawURL, Streams: f.streams}, nil
}

func (f *fakeExtractor) Open(_ context.Context, _ *media.Video, s *media.Stream) (io.ReadCloser, int64, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, 0, f.openErr
	}
	var r io.Reader = strings.NewReader(f.payload + ":" + s.ID)
	if f.readErr != nil {
		r = io.MultiReader(strings.NewReader("partial"), &failingReader{err: f.readErr})
	}
	return io.NopCloser(r), -1, nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func newFake(title string) *fakeExtractor {
	return &fakeExtractor{
		title:   title,
		payload: "bytes",
		streams: []media.Stream{
			{ID: "v360", Kind: media.VideoHighestResolution, Height: 360},
			{ID: "v720", Kind: media.VideoHighestResolution, Height: 720},
			{ID: "a128", Kind: media.AudioOnly, Bitrate: 128000},
		},
	}
}

func newTestService(t *testing.T, ex *fakeExtractor, opts Options) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if opts.PublicURL == "" {
		opts.PublicURL = testBase
	}
	return NewService(ex, st, opts), st
}

func storeFiles(t *testing.T, st *store.Store) []string {
	t.Helper()
	entries, err := os.ReadDir(st.Root())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownloadVideo(t *testing.T) {
	ex := newFake("My Clip")
	svc, st := newTestService(t, ex, Options{})

	res, err := svc.Download(context.Background(), media.DownloadRequest{
		URL:    "https://video.example/watch?id=abc",
		Format: "mp4",
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}

	if res.Title != "My Clip" {
		t.Errorf("Title = %q, want 'My Clip'", res.Title)
	}
	if res.Filename != "My_Clip.mp4" {
		t.Errorf("Filename = %q, want My_Clip.mp4", res.Filename)
	}
	if res.DownloadURL != testBase+"/download_file/My_Clip.mp4" {
		t.Errorf("DownloadURL = %q", res.DownloadURL)
	}

	data, err := os.ReadFile(filepath.Join(st.Root(), "My_Clip.mp4"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != "bytes:v720" {
		t.Errorf("stored content = %q, want highest resolution stream", data)
	}
	if res.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", res.Size, len(data))
	}
}

func TestDownloadFormatBranch(t *testing.T) {
	tests := []struct {
		format     string
		wantExt    string
		wantStream string
	}{
		{"", ".mp4", "v720"},
		{"mp4", ".mp4", "v720"},
		{"mp3", ".mp3", "a128"},
		{"webm", ".mp3", "a128"},
		{"MP4", ".mp4", "v720"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			svc, st := newTestService(t, newFake("Clip"), Options{})

			res, err := svc.Download(context.Background(), media.DownloadRequest{
				URL:    "https://video.example/watch?id=abc",
				Format: tt.format,
			})
			if err != nil {
				t.Fatalf("Download() error: %v", err)
			}
			if !strings.HasSuffix(res.Filename, tt.wantExt) {
				t.Errorf("Filename = %q, want suffix %s", res.Filename, tt.wantExt)
			}
			data, _ := os.ReadFile(filepath.Join(st.Root(), res.Filename))
			if string(data) != "bytes:"+tt.wantStream {
				t.Errorf("content = %q, want stream %s", data, tt.wantStream)
			}
		})
	}
}

func TestDownloadStrictFormat(t *testing.T) {
	ex := newFake("Clip")
	svc, st := newTestService(t, ex, Options{StrictFormat: true})

	_, err := svc.Download(context.Background(), media.DownloadRequest{
		URL:    "https://video.example/watch?id=abc",
		Format: "webm",
	})
	if media.KindOf(err) != media.BadRequest {
		t.Fatalf("error = %v, want bad_request", err)
	}
	if ex.resolves.Load() != 0 {
		t.Error("extractor should not be called for a rejected format")
	}
	if files := storeFiles(t, st); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

func TestDownloadBadRequest(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"missing", ""},
		{"blank", "   "},
		{"no scheme", "video.example/watch"},
		{"unsupported scheme", "ftp://video.example/clip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newFake("Clip")
			svc, st := newTestService(t, ex, Options{})

			_, err := svc.Download(context.Background(), media.DownloadRequest{URL: tt.url})
			if media.KindOf(err) != media.BadRequest {
				t.Fatalf("error = %v, want bad_request", err)
			}
			if ex.resolves.Load() != 0 || ex.opens.Load() != 0 {
				t.Error("no extraction should happen for a bad request")
			}
			if files := storeFiles(t, st); len(files) != 0 {
				t.Errorf("store should be empty, got %v", files)
			}
		})
	}
}

func TestDownloadExtractionFailed(t *testing.T) {
	t.Run("resolve error", func(t *testing.T) {
		ex := newFake("Clip")
		ex.resolveErr = errors.New("video unavailable")
		svc, st := newTestService(t, ex, Options{})

		_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=gone"})
		if media.KindOf(err) != media.ExtractionFailed {
			t.Fatalf("error = %v, want extraction_failed", err)
		}
		if !strings.Contains(err.Error(), "video unavailable") {
			t.Errorf("error should carry the cause: %v", err)
		}
		if files := storeFiles(t, st); len(files) != 0 {
			t.Errorf("store should be empty, got %v", files)
		}
	})

	t.Run("no matching stream", func(t *testing.T) {
		ex := newFake("Clip")
		ex.streams = []media.Stream{{ID: "a128", Kind: media.AudioOnly}}
		svc, st := newTestService(t, ex, Options{})

		_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=abc"})
		if media.KindOf(err) != media.ExtractionFailed {
			t.Fatalf("error = %v, want extraction_failed", err)
		}
		if !errors.Is(err, media.ErrNoStream) {
			t.Errorf("error should wrap ErrNoStream: %v", err)
		}
		if ex.opens.Load() != 0 {
			t.Error("no stream should be opened")
		}
		if files := storeFiles(t, st); len(files) != 0 {
			t.Errorf("store should be empty, got %v", files)
		}
	})
}

func TestDownloadFailedLeavesNoFile(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		ex := newFake("Clip")
		ex.openErr = errors.New("403 forbidden")
		svc, st := newTestService(t, ex, Options{})

		_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=abc"})
		if media.KindOf(err) != media.DownloadFailed {
			t.Fatalf("error = %v, want download_failed", err)
		}
		if files := storeFiles(t, st); len(files) != 0 {
			t.Errorf("store should be empty, got %v", files)
		}
	})

	t.Run("read error mid transfer", func(t *testing.T) {
		ex := newFake("Clip")
		ex.readErr = errors.New("connection reset")
		svc, st := newTestService(t, ex, Options{})

		_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=abc"})
		if media.KindOf(err) != media.DownloadFailed {
			t.Fatalf("error = %v, want download_failed", err)
		}
		if files := storeFiles(t, st); len(files) != 0 {
			t.Errorf("partial or temp file left behind: %v", files)
		}
	})
}

func TestDownloadOverwritesSameTitle(t *testing.T) {
	ex := newFake("Same Title")
	svc, st := newTestService(t, ex, Options{})
	ctx := context.Background()

	if _, err := svc.Download(ctx, media.DownloadRequest{URL: "https://video.example/watch?id=1"}); err != nil {
		t.Fatal(err)
	}
	ex.payload = "newer"
	if _, err := svc.Download(ctx, media.DownloadRequest{URL: "https://video.example/watch?id=2"}); err != nil {
		t.Fatal(err)
	}

	files := storeFiles(t, st)
	if len(files) != 1 || files[0] != "Same_Title.mp4" {
		t.Fatalf("files = %v, want one Same_Title.mp4", files)
	}
	data, _ := os.ReadFile(filepath.Join(st.Root(), "Same_Title.mp4"))
	if string(data) != "newer:v720" {
		t.Errorf("content = %q, want the later download", data)
	}
}

func TestDownloadRefusesInternalHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head><title>internal admin</title></head><body><video src="/secret.mp4"></video></body></html>`)
	}))
	defer srv.Close()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(extract.New(httputil.NewClient()), st, Options{PublicURL: testBase})

	_, err = svc.Download(context.Background(), media.DownloadRequest{URL: srv.URL + "/admin"})
	if media.KindOf(err) != media.ExtractionFailed {
		t.Fatalf("error = %v, want extraction_failed", err)
	}
	if !errors.Is(err, httputil.ErrNonPublicAddress) {
		t.Errorf("error should wrap ErrNonPublicAddress: %v", err)
	}
	if files := storeFiles(t, st); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

func TestDownloadTimeout(t *testing.T) {
	ex := newFake("Slow")
	ex.block = make(chan struct{})
	svc, st := newTestService(t, ex, Options{Timeout: 50 * time.Millisecond})

	_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=slow"})
	if media.KindOf(err) != media.ExtractionFailed {
		t.Fatalf("error = %v, want extraction_failed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap DeadlineExceeded: %v", err)
	}
	if files := storeFiles(t, st); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

func TestDownloadCoalescesIdenticalRequests(t *testing.T) {
	ex := newFake("Shared")
	ex.block = make(chan struct{})
	svc, _ := newTestService(t, ex, Options{})

	req := media.DownloadRequest{URL: "https://video.example/watch?id=same", Format: "mp3"}

	var wg sync.WaitGroup
	results := make([]*media.DownloadResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Download(context.Background(), req)
		}(i)
	}

	// Give both callers time to join the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(ex.block)
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("Download() #%d error: %v", i, errs[i])
		}
		if results[i].Filename != "Shared.mp3" {
			t.Errorf("result #%d filename = %q", i, results[i].Filename)
		}
	}
	if n := ex.resolves.Load(); n != 1 {
		t.Errorf("Resolve called %d times, want 1", n)
	}
	if results[0] == results[1] {
		t.Error("callers should get independent result values")
	}
}

// waitForWaiters blocks until n callers are registered on key.
func waitForWaiters(t *testing.T, svc *Service, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		f := svc.flights[key]
		got := 0
		if f != nil {
			got = f.waiters
		}
		svc.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callers on %q", n, key)
}

func TestDownloadCancelledCallerDoesNotFailOthers(t *testing.T) {
	ex := newFake("Shared")
	ex.block = make(chan struct{})
	svc, st := newTestService(t, ex, Options{})

	req := media.DownloadRequest{URL: "https://video.example/watch?id=same", Format: "mp4"}
	key := "mp4 " + req.URL

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctxA, req)
		errA <- err
	}()
	waitForWaiters(t, svc, key, 1)

	type outcome struct {
		res *media.DownloadResult
		err error
	}
	outB := make(chan outcome, 1)
	go func() {
		res, err := svc.Download(context.Background(), req)
		outB <- outcome{res, err}
	}()
	waitForWaiters(t, svc, key, 2)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(ex.block)
	b := <-outB
	if b.err != nil {
		t.Fatalf("remaining caller error: %v", b.err)
	}
	if b.res.Filename != "Shared.mp4" {
		t.Errorf("filename = %q, want Shared.mp4", b.res.Filename)
	}
	if files := storeFiles(t, st); len(files) != 1 || files[0] != "Shared.mp4" {
		t.Errorf("files = %v, want [Shared.mp4]", files)
	}
	if n := ex.resolves.Load(); n != 1 {
		t.Errorf("Resolve called %d times, want 1", n)
	}
}

func TestDownloadLastCallerLeavingCancelsFetch(t *testing.T) {
	ex := newFake("Abandoned")
	ex.block = make(chan struct{})
	svc, st := newTestService(t, ex, Options{})

	req := media.DownloadRequest{URL: "https://video.example/watch?id=gone"}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctx, req)
		errc <- err
	}()
	waitForWaiters(t, svc, "mp4 "+req.URL, 1)

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	svc.mu.Lock()
	left := len(svc.flights)
	svc.mu.Unlock()
	if left != 0 {
		t.Errorf("%d flights still registered", left)
	}

	// The abandoned fetch was cancelled, so a new request starts over.
	close(ex.block)
	if _, err := svc.Download(context.Background(), req); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if n := ex.resolves.Load(); n != 2 {
		t.Errorf("Resolve called %d times, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(st.Root(), "Abandoned.mp4")); err != nil {
		t.Errorf("retried download missing: %v", err)
	}
}

type fakeTranscoder struct {
	paths []string
	err   error
}

func (f *fakeTranscoder) ToMP3(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, []byte("ID3 transcoded"), 0600)
}

func TestDownloadTranscodesAudioOnly(t *testing.T) {
	tc := &fakeTranscoder{}
	svc, st := newTestService(t, newFake("Song"), Options{Transcoder: tc})
	ctx := context.Background()

	if _, err := svc.Download(ctx, media.DownloadRequest{URL: "https://video.example/watch?id=1", Format: "mp4"}); err != nil {
		t.Fatal(err)
	}
	if len(tc.paths) != 0 {
		t.Errorf("video download should not be transcoded, got %v", tc.paths)
	}

	res, err := svc.Download(ctx, media.DownloadRequest{URL: "https://video.example/watch?id=1", Format: "mp3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tc.paths) != 1 {
		t.Fatalf("expected one transcode, got %v", tc.paths)
	}
	data, _ := os.ReadFile(filepath.Join(st.Root(), res.Filename))
	if string(data) != "ID3 transcoded" {
		t.Errorf("content = %q, want transcoded output", data)
	}
}

func TestDownloadTranscodeFailure(t *testing.T) {
	tc := &fakeTranscoder{err: errors.New("ffmpeg exploded")}
	svc, st := newTestService(t, newFake("Song"), Options{Transcoder: tc})

	_, err := svc.Download(context.Background(), media.DownloadRequest{URL: "https://video.example/watch?id=1", Format: "mp3"})
	if media.KindOf(err) != media.DownloadFailed {
		t.Fatalf("error = %v, want download_failed", err)
	}
	if files := storeFiles(t, st); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

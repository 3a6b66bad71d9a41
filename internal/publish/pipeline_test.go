package publish

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/skypost/internal/bluesky"
	"github.com/hitoshi/skypost/internal/media"
	"github.com/hitoshi/skypost/internal/metrics"
	"github.com/hitoshi/skypost/internal/model"
	"github.com/hitoshi/skypost/internal/session"
)

// --- モック定義 ---

type mockHandle struct {
	did            string
	uploadBlobFn   func(ctx context.Context, data []byte, mimeType string) (*bluesky.Blob, error)
	createRecordFn func(ctx context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error)
}

func (m *mockHandle) DID() string { return m.did }

func (m *mockHandle) GetProfile(_ context.Context, _ string) (*bluesky.Profile, error) {
	return nil, nil
}

func (m *mockHandle) UploadBlob(ctx context.Context, data []byte, mimeType string) (*bluesky.Blob, error) {
	if m.uploadBlobFn != nil {
		return m.uploadBlobFn(ctx, data, mimeType)
	}
	return &bluesky.Blob{Type: "blob", MimeType: mimeType, Size: int64(len(data))}, nil
}

func (m *mockHandle) CreateRecord(ctx context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error) {
	if m.createRecordFn != nil {
		return m.createRecordFn(ctx, record)
	}
	return &bluesky.PostRef{
		URI: "at://did:plc:abc/app.bsky.feed.post/xyz",
		CID: "bafyreia...",
	}, nil
}

// --- ヘルパー ---

func newTestPipeline(handle session.Handle) *Pipeline {
	sessions := session.NewStore()
	if handle != nil {
		sessions.Put("alice.bsky.social", handle)
	}
	return NewPipeline(sessions, media.NewNormalizer(media.NormalizerConfig{}), metrics.NopRecorder{})
}

// writeTempPNG はテスト用のPNGファイルを一時ディレクトリに書き出す。
func writeTempPNG(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test PNG: %v", err)
	}
	path := filepath.Join(t.TempDir(), "upload.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func assertFileRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temporary file should be removed, stat returned: %v", err)
	}
}

// --- テスト ---

func TestPublish_TextOnly_Success(t *testing.T) {
	var sent *bluesky.PostRecord
	handle := &mockHandle{
		did: "did:plc:abc",
		createRecordFn: func(_ context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error) {
			sent = record
			return &bluesky.PostRef{URI: "at://did:plc:abc/app.bsky.feed.post/xyz", CID: "bafy"}, nil
		},
	}
	p := newTestPipeline(handle)

	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "  hello bluesky  ", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if outcome.Status != model.PostStatusPublished {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusPublished)
	}
	if outcome.URI != "at://did:plc:abc/app.bsky.feed.post/xyz" {
		t.Errorf("URI = %q, want at-uri", outcome.URI)
	}
	if outcome.CID != "bafy" {
		t.Errorf("CID = %q, want %q", outcome.CID, "bafy")
	}
	if outcome.HasImage {
		t.Error("HasImage should be false for text-only post")
	}
	if outcome.PublishedAt.IsZero() {
		t.Error("PublishedAt should be set")
	}

	if sent == nil {
		t.Fatal("expected record to be sent")
	}
	// 本文は前後の空白をトリムして送信する
	if sent.Text != "hello bluesky" {
		t.Errorf("sent text = %q, want trimmed %q", sent.Text, "hello bluesky")
	}
	if sent.Type != "app.bsky.feed.post" {
		t.Errorf("record type = %q, want %q", sent.Type, "app.bsky.feed.post")
	}
	if sent.Embed != nil {
		t.Error("text-only post should not carry an embed")
	}
}

func TestPublish_EmptyText_ReturnsErrInvalidPost(t *testing.T) {
	p := newTestPipeline(&mockHandle{did: "did:plc:abc"})

	_, err := p.Publish(context.Background(), "alice.bsky.social", "   \n\t  ", nil)
	if !errors.Is(err, ErrInvalidPost) {
		t.Errorf("expected ErrInvalidPost, got %v", err)
	}
}

func TestPublish_TextTooLong_ReturnsErrInvalidPost(t *testing.T) {
	p := newTestPipeline(&mockHandle{did: "did:plc:abc"})

	// 301文字（Unicodeスカラ値単位で判定されることをマルチバイト文字で確認）
	text := strings.Repeat("あ", 301)
	_, err := p.Publish(context.Background(), "alice.bsky.social", text, nil)
	if !errors.Is(err, ErrInvalidPost) {
		t.Errorf("expected ErrInvalidPost for 301 runes, got %v", err)
	}
}

func TestPublish_TextAtLimit_Succeeds(t *testing.T) {
	p := newTestPipeline(&mockHandle{did: "did:plc:abc"})

	text := strings.Repeat("あ", 300)
	outcome, err := p.Publish(context.Background(), "alice.bsky.social", text, nil)
	if err != nil {
		t.Fatalf("300 runes should be accepted: %v", err)
	}
	if outcome.Status != model.PostStatusPublished {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusPublished)
	}
}

func TestPublish_NoSession_ReturnsErrSessionNotFound(t *testing.T) {
	called := false
	handle := &mockHandle{
		did: "did:plc:abc",
		createRecordFn: func(_ context.Context, _ *bluesky.PostRecord) (*bluesky.PostRef, error) {
			called = true
			return nil, nil
		},
	}
	sessions := session.NewStore()
	sessions.Put("bob.bsky.social", handle)
	p := NewPipeline(sessions, media.NewNormalizer(media.NormalizerConfig{}), metrics.NopRecorder{})

	_, err := p.Publish(context.Background(), "alice.bsky.social", "hello", nil)
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if called {
		t.Error("no platform call should be made without a session")
	}
}

func TestPublish_WithImage_Success_AttachesEmbedAndDeletesFile(t *testing.T) {
	var sent *bluesky.PostRecord
	handle := &mockHandle{
		did: "did:plc:abc",
		uploadBlobFn: func(_ context.Context, data []byte, mimeType string) (*bluesky.Blob, error) {
			if mimeType != "image/png" {
				t.Errorf("mimeType = %q, want %q (in-bounds image is not re-encoded)", mimeType, "image/png")
			}
			return &bluesky.Blob{Type: "blob", Ref: bluesky.BlobRef{Link: "bafkreib"}, MimeType: mimeType, Size: int64(len(data))}, nil
		},
		createRecordFn: func(_ context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error) {
			sent = record
			return &bluesky.PostRef{URI: "at://x", CID: "bafy"}, nil
		},
	}
	p := newTestPipeline(handle)

	path := writeTempPNG(t, 100, 100)
	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "look at this", &MediaAsset{Path: path})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if outcome.Status != model.PostStatusPublished {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusPublished)
	}
	if !outcome.HasImage {
		t.Error("HasImage should be true")
	}

	if sent == nil || sent.Embed == nil {
		t.Fatal("expected record with embed")
	}
	if sent.Embed.Type != "app.bsky.embed.images" {
		t.Errorf("embed type = %q, want %q", sent.Embed.Type, "app.bsky.embed.images")
	}
	if len(sent.Embed.Images) != 1 {
		t.Fatalf("embed images = %d, want 1", len(sent.Embed.Images))
	}
	if sent.Embed.Images[0].Alt != "look at this" {
		t.Errorf("alt = %q, want post text", sent.Embed.Images[0].Alt)
	}

	assertFileRemoved(t, path)
}

func TestPublish_UndecodableImage_ReturnsErrUndecodableAndDeletesFile(t *testing.T) {
	uploadCalled := false
	handle := &mockHandle{
		did: "did:plc:abc",
		uploadBlobFn: func(_ context.Context, _ []byte, _ string) (*bluesky.Blob, error) {
			uploadCalled = true
			return nil, nil
		},
	}
	p := newTestPipeline(handle)

	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := p.Publish(context.Background(), "alice.bsky.social", "hello", &MediaAsset{Path: path})
	if !errors.Is(err, media.ErrUndecodable) {
		t.Errorf("expected ErrUndecodable, got %v", err)
	}
	if uploadCalled {
		t.Error("upload must not be attempted for undecodable data")
	}
	assertFileRemoved(t, path)
}

func TestPublish_UploadFails_ReturnsFailedOutcomeAndDeletesFile(t *testing.T) {
	handle := &mockHandle{
		did: "did:plc:abc",
		uploadBlobFn: func(_ context.Context, _ []byte, _ string) (*bluesky.Blob, error) {
			return nil, errors.New("upstream rejected blob")
		},
		createRecordFn: func(_ context.Context, _ *bluesky.PostRecord) (*bluesky.PostRef, error) {
			t.Error("submission must not be attempted after upload failure")
			return nil, nil
		},
	}
	p := newTestPipeline(handle)

	path := writeTempPNG(t, 100, 100)
	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "hello", &MediaAsset{Path: path})
	// プラットフォーム拒否は業務結果でありエラーではない
	if err != nil {
		t.Fatalf("upload failure should be an outcome, not an error: %v", err)
	}

	if outcome.Status != model.PostStatusFailed {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusFailed)
	}
	if outcome.Stage != StageUpload {
		t.Errorf("Stage = %q, want %q", outcome.Stage, StageUpload)
	}
	if outcome.Reason == "" {
		t.Error("failed outcome should carry a reason")
	}
	if !outcome.HasImage {
		t.Error("HasImage should be true")
	}
	if outcome.AuthExpired {
		t.Error("generic upload failure should not flag auth expiry")
	}

	assertFileRemoved(t, path)
}

func TestPublish_SubmitFails_ReturnsFailedOutcome(t *testing.T) {
	handle := &mockHandle{
		did: "did:plc:abc",
		createRecordFn: func(_ context.Context, _ *bluesky.PostRecord) (*bluesky.PostRef, error) {
			return nil, errors.New("rate limited")
		},
	}
	p := newTestPipeline(handle)

	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "hello", nil)
	if err != nil {
		t.Fatalf("submission failure should be an outcome, not an error: %v", err)
	}

	if outcome.Status != model.PostStatusFailed {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusFailed)
	}
	if outcome.Stage != StageSubmit {
		t.Errorf("Stage = %q, want %q", outcome.Stage, StageSubmit)
	}
	if !strings.Contains(outcome.Reason, "rate limited") {
		t.Errorf("Reason = %q, should carry the cause", outcome.Reason)
	}
}

func TestPublish_AuthExpired_FlagsOutcome(t *testing.T) {
	handle := &mockHandle{
		did: "did:plc:abc",
		createRecordFn: func(_ context.Context, _ *bluesky.PostRecord) (*bluesky.PostRef, error) {
			return nil, bluesky.ErrAuthExpired
		},
	}
	p := newTestPipeline(handle)

	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "hello", nil)
	if err != nil {
		t.Fatalf("expected outcome, got error: %v", err)
	}

	if outcome.Status != model.PostStatusFailed {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusFailed)
	}
	if !outcome.AuthExpired {
		t.Error("AuthExpired should be true when the platform rejected the cached handle")
	}
}

func TestPublish_AuthExpiredDuringUpload_FlagsOutcome(t *testing.T) {
	handle := &mockHandle{
		did: "did:plc:abc",
		uploadBlobFn: func(_ context.Context, _ []byte, _ string) (*bluesky.Blob, error) {
			return nil, bluesky.ErrAuthExpired
		},
	}
	p := newTestPipeline(handle)

	path := writeTempPNG(t, 100, 100)
	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "hello", &MediaAsset{Path: path})
	if err != nil {
		t.Fatalf("expected outcome, got error: %v", err)
	}

	if !outcome.AuthExpired {
		t.Error("AuthExpired should be true for expiry detected during upload")
	}
	if outcome.Stage != StageUpload {
		t.Errorf("Stage = %q, want %q", outcome.Stage, StageUpload)
	}
	assertFileRemoved(t, path)
}

func TestPublish_AltText_TruncatedTo1000Runes(t *testing.T) {
	var sent *bluesky.PostRecord
	handle := &mockHandle{
		did: "did:plc:abc",
		createRecordFn: func(_ context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error) {
			sent = record
			return &bluesky.PostRef{URI: "at://x", CID: "bafy"}, nil
		},
	}
	p := newTestPipeline(handle)

	// 本文は300文字以内なので、altの切り詰め検証はaltText単体で行う
	long := strings.Repeat("い", 1500)
	if got := altText(long); len([]rune(got)) != 1000 {
		t.Errorf("altText length = %d runes, want 1000", len([]rune(got)))
	}
	if altText("") != "Image" {
		t.Errorf("altText(\"\") = %q, want %q", altText(""), "Image")
	}

	path := writeTempPNG(t, 100, 100)
	if _, err := p.Publish(context.Background(), "alice.bsky.social", "short", &MediaAsset{Path: path}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sent.Embed.Images[0].Alt != "short" {
		t.Errorf("alt = %q, want %q", sent.Embed.Images[0].Alt, "short")
	}
}

func TestPublish_MissingMediaFile_ReturnsFailedOutcome(t *testing.T) {
	p := newTestPipeline(&mockHandle{did: "did:plc:abc"})

	outcome, err := p.Publish(context.Background(), "alice.bsky.social", "hello",
		&MediaAsset{Path: filepath.Join(t.TempDir(), "missing.png")})
	if err != nil {
		t.Fatalf("missing file should surface as a failed outcome: %v", err)
	}
	if outcome.Status != model.PostStatusFailed {
		t.Errorf("Status = %q, want %q", outcome.Status, model.PostStatusFailed)
	}
	if outcome.Stage != StageUpload {
		t.Errorf("Stage = %q, want %q", outcome.Stage, StageUpload)
	}
}

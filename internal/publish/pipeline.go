// Package publish は投稿パイプラインを提供する。
// セッション解決 → （画像があれば）正規化とアップロード → ペイロード構築 → 送信
// の順に進み、結果を成否いずれかの終端Outcomeとして返す。
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/skypost/internal/bluesky"
	"github.com/hitoshi/skypost/internal/media"
	"github.com/hitoshi/skypost/internal/metrics"
	"github.com/hitoshi/skypost/internal/model"
	"github.com/hitoshi/skypost/internal/session"
)

const (
	// maxTextLength は投稿本文の最大文字数（Unicodeスカラ値単位）。
	maxTextLength = 300
	// maxAltTextLength は画像代替テキストの最大文字数。
	maxAltTextLength = 1000
	// defaultAltText は本文が空の場合の代替テキスト。
	defaultAltText = "Image"
)

// ErrInvalidPost は投稿本文が前提条件（空でない・300文字以内）を
// 満たしていないことを示す。上流で検証済みのはずの値に対する防御的チェック。
var ErrInvalidPost = errors.New("invalid post text")

// MediaAsset は投稿に添付する一時保存済み画像を表す。
// パイプラインがこれを消費し、成功・失敗を問わず一時ファイルを削除する。
// 1回の投稿試行より長く生存することはない。
type MediaAsset struct {
	// Path は一時保存された画像ファイルのパス。
	Path string
}

// 失敗が発生した段階を表す定数。
const (
	// StageUpload は画像アップロード中の失敗を示す。
	StageUpload = "upload"
	// StageSubmit は投稿送信中の失敗を示す。
	StageSubmit = "submit"
)

// Outcome は1回の投稿試行の終端結果を表す。
// Publishedの場合はURI/CID/PublishedAtが、Failedの場合はReasonとStageが設定される。
type Outcome struct {
	Status      model.PostStatus
	URI         string
	CID         string
	PublishedAt time.Time
	Reason      string
	Stage       string
	HasImage    bool
	// AuthExpired はキャッシュ済みハンドルがプラットフォーム側で拒否された
	// ことによる失敗かを示す。呼び出し元はセッションを破棄し再ログインを促す。
	AuthExpired bool
}

// Pipeline は投稿処理のオーケストレータ。
type Pipeline struct {
	sessions   *session.Store
	normalizer *media.Normalizer
	metrics    metrics.Recorder
	now        func() time.Time // テストで差し替え可能なクロック
}

// NewPipeline はPipelineを生成する。
func NewPipeline(sessions *session.Store, normalizer *media.Normalizer, recorder metrics.Recorder) *Pipeline {
	return &Pipeline{
		sessions:   sessions,
		normalizer: normalizer,
		metrics:    recorder,
		now:        time.Now,
	}
}

// Publish は投稿を実行し、終端Outcomeを返す。
//
// エラーの扱いは段階で異なる:
//   - 前提条件違反（ErrInvalidPost）、セッション未検出（session.ErrSessionNotFound）、
//     画像デコード不能（media.ErrUndecodable）はエラーとして返す。
//     プラットフォームへの呼び出しは行われない（デコード不能は呼び出し前に検出）。
//   - アップロード失敗・送信失敗はエラーではなくStatus=failedのOutcomeとして返す。
//     失敗した投稿試行は記録すべき通常の業務結果であり、システム障害ではない。
//
// assetが指定された場合、一時ファイルはすべての経路（成功・送信失敗・
// アップロード失敗・エラー）で削除される。
func (p *Pipeline) Publish(ctx context.Context, identifier, text string, asset *MediaAsset) (*Outcome, error) {
	if asset != nil {
		defer p.cleanupAsset(asset)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidPost)
	}
	if utf8.RuneCountInString(trimmed) > maxTextLength {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidPost, maxTextLength)
	}

	handle, err := p.sessions.Get(identifier)
	if err != nil {
		// ErrSessionNotFoundをそのまま伝播する（呼び出し元が再ログイン要求にマップする）
		return nil, err
	}

	var embed *bluesky.ImagesEmbed
	if asset != nil {
		embed, err = p.uploadMedia(ctx, handle, trimmed, asset)
		if err != nil {
			if errors.Is(err, media.ErrUndecodable) {
				return nil, err
			}
			// アップロード失敗は記録対象の業務結果として返す
			return p.failed(fmt.Sprintf("image upload failed: %v", err), StageUpload, asset, err), nil
		}
	}

	record := &bluesky.PostRecord{
		Type:      "app.bsky.feed.post",
		Text:      trimmed,
		CreatedAt: p.now().UTC().Format(time.RFC3339),
		Embed:     embed,
	}

	ref, err := handle.CreateRecord(ctx, record)
	if err != nil {
		return p.failed(fmt.Sprintf("post submission failed: %v", err), StageSubmit, asset, err), nil
	}

	outcome := &Outcome{
		Status:      model.PostStatusPublished,
		URI:         ref.URI,
		CID:         ref.CID,
		PublishedAt: p.now(),
		HasImage:    asset != nil,
	}
	p.metrics.RecordPublish(string(model.PostStatusPublished))

	return outcome, nil
}

// uploadMedia は画像を正規化してアップロードし、投稿に埋め込むembedを構築する。
func (p *Pipeline) uploadMedia(ctx context.Context, handle session.Handle, trimmedText string, asset *MediaAsset) (*bluesky.ImagesEmbed, error) {
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}

	normalized, mimeType, err := p.normalizer.Normalize(data)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(normalized, data) {
		p.metrics.RecordImageResize()
	}

	start := p.now()
	blob, err := handle.UploadBlob(ctx, normalized, mimeType)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordUploadLatency(p.now().Sub(start))

	return &bluesky.ImagesEmbed{
		Type: "app.bsky.embed.images",
		Images: []bluesky.EmbeddedImage{
			{
				Image: blob,
				Alt:   altText(trimmedText),
			},
		},
	}, nil
}

// failed は失敗Outcomeを構築し、メトリクスに記録する。
func (p *Pipeline) failed(reason, stage string, asset *MediaAsset, cause error) *Outcome {
	p.metrics.RecordPublish(string(model.PostStatusFailed))
	return &Outcome{
		Status:      model.PostStatusFailed,
		Reason:      reason,
		Stage:       stage,
		HasImage:    asset != nil,
		AuthExpired: errors.Is(cause, bluesky.ErrAuthExpired),
	}
}

// cleanupAsset は一時保存された画像ファイルを削除する。
// 削除失敗は投稿結果に影響させず、ログのみに記録する。
func (p *Pipeline) cleanupAsset(asset *MediaAsset) {
	if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove temporary media file",
			slog.String("path", asset.Path),
			slog.String("error", err.Error()),
		)
	}
}

// altText は画像の代替テキストを構築する。
// 投稿本文を1000文字に切り詰めたものを使用し、本文が空の場合は"Image"とする。
func altText(trimmedText string) string {
	if trimmedText == "" {
		return defaultAltText
	}
	runes := []rune(trimmedText)
	if len(runes) > maxAltTextLength {
		return string(runes[:maxAltTextLength])
	}
	return trimmedText
}

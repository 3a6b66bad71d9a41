// Package media は投稿画像の正規化（サイズ制限と再エンコード）を提供する。
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// 標準のJPEG/PNG/GIFに加え、x/imageのデコーダを登録する
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// defaultMaxDimension は長辺の最大ピクセル数（Bluesky推奨の2000x2000）。
	defaultMaxDimension = 2000
	// defaultJPEGQuality は再エンコード時のJPEG品質。
	defaultJPEGQuality = 85
)

// ErrUndecodable は入力バイト列が画像としてデコードできないことを示す。
// ユーザー向けエラーとして扱い、リトライしない。
var ErrUndecodable = errors.New("image data could not be decoded")

// formatMimeTypes はimage.Decodeが報告するフォーマット名からMIMEタイプへの対応表。
var formatMimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// Normalizer は画像の寸法制限を強制し、アップロードに適したバイト列を生成する。
// 純粋なCPU処理であり、I/O副作用やロックを持たない。
type Normalizer struct {
	maxDimension int
	jpegQuality  int
}

// NormalizerConfig はNormalizerの設定。
type NormalizerConfig struct {
	// MaxDimension は幅・高さそれぞれの最大ピクセル数。ゼロの場合はデフォルト値。
	MaxDimension int
	// JPEGQuality はリサイズ時の再エンコード品質（1〜100）。ゼロの場合はデフォルト値。
	JPEGQuality int
}

// NewNormalizer は指定設定のNormalizerを生成する。
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	maxDim := cfg.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	quality := cfg.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	return &Normalizer{
		maxDimension: maxDim,
		jpegQuality:  quality,
	}
}

// Normalize は画像バイト列を検証し、寸法が上限以内ならそのまま返す。
// 上限を超える場合はアスペクト比を保って上限内に収まるよう縮小し
// （拡大はしない）、JPEGで再エンコードする。
// 戻り値はバイト列とそのMIMEタイプ。
// 寸法内の画像は元のバイト列を無加工で返す（再エンコードはリサイズ時のみ）。
// デコード不能な入力にはErrUndecodableを返す。
func (n *Normalizer) Normalize(data []byte) ([]byte, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	mimeType, ok := formatMimeTypes[format]
	if !ok {
		mimeType = "application/octet-stream"
	}

	// 両辺が上限以内なら元のバイト列をそのまま返す
	if cfg.Width <= n.maxDimension && cfg.Height <= n.maxDimension {
		return data, mimeType, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	width, height := fitWithin(cfg.Width, cfg.Height, n.maxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), "image/jpeg", nil
}

// fitWithin はアスペクト比を保ったまま両辺がmax以内に収まる寸法を計算する。
// 長辺をちょうどmaxに合わせ、短辺を比例縮小する（contain、cropしない）。
func fitWithin(width, height, max int) (int, int) {
	if width >= height {
		h := height * max / width
		if h < 1 {
			h = 1
		}
		return max, h
	}
	w := width * max / height
	if w < 1 {
		w = 1
	}
	return w, max
}

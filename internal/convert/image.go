package convert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	_ "image/gif"

	"github.com/HugoSmits86/nativewebp"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// imageConverter は画像同士、および画像→PDFの変換を行います。
type imageConverter struct {
	opts Options
}

func (c *imageConverter) Convert(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	img, cleanup, err := c.decode(ctx, req)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	switch req.Target {
	case "jpg", "jpeg":
		return encodeTo(req.OutputPath, func(f *os.File) error {
			return jpeg.Encode(f, flatten(img), &jpeg.Options{Quality: jpegQuality})
		})
	case "png":
		return encodeTo(req.OutputPath, func(f *os.File) error {
			return png.Encode(f, img)
		})
	case "bmp":
		return encodeTo(req.OutputPath, func(f *os.File) error {
			return bmp.Encode(f, img)
		})
	case "tiff":
		return encodeTo(req.OutputPath, func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
		})
	case "webp":
		return encodeTo(req.OutputPath, func(f *os.File) error {
			return nativewebp.Encode(f, img, nil)
		})
	case "pdf":
		return imageToPDF(flatten(img), req.OutputPath)
	default:
		return newError(CodeUnsupported, fmt.Sprintf("画像を %s に変換することはできません。", req.Target), nil)
	}
}

func (c *imageConverter) decode(ctx context.Context, req Request) (image.Image, func(), error) {
	path := req.InputPath
	var cleanup func()
	if req.SourceExt == ".heic" {
		pngPath, done, err := convertHEIC(ctx, c.opts, path)
		cleanup = done
		if err != nil {
			return nil, cleanup, err
		}
		path = pngPath
	}

	img, err := decodeImageFile(path)
	if err != nil {
		return nil, cleanup, err
	}
	return img, cleanup, nil
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, newError(CodeFailed, "画像を読み込めませんでした。ファイルが破損していないか確認してください。", err)
	}
	return img, nil
}

// flatten は透過を白背景に合成します（JPEG/PDF は透過を扱えないため）。
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func encodeTo(outputPath string, encode func(f *os.File) error) error {
	tmp := outputPath + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := encode(f); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return newError(CodeFailed, "画像の書き出しに失敗しました。", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// imageToPDF は画像1枚から1ページのPDFを作成します。
func imageToPDF(img image.Image, outputPath string) error {
	dir := filepath.Dir(outputPath)
	tmpImg, err := os.CreateTemp(dir, "img-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp image: %w", err)
	}
	tmpImgPath := tmpImg.Name()
	defer os.Remove(tmpImgPath)

	if err := png.Encode(tmpImg, img); err != nil {
		tmpImg.Close()
		return newError(CodeFailed, "PDF用の画像生成に失敗しました。", err)
	}
	if err := tmpImg.Close(); err != nil {
		return fmt.Errorf("failed to close temp image: %w", err)
	}

	// ImportImagesFile は既存ファイルに追記するため、必ず新規に作成する
	tmpPDF := outputPath + ".part.pdf"
	_ = os.Remove(tmpPDF)
	if err := pdfapi.ImportImagesFile([]string{tmpImgPath}, tmpPDF, pdfcpu.DefaultImportConfig(), nil); err != nil {
		_ = os.Remove(tmpPDF)
		return newError(CodeFailed, "画像からPDFを作成できませんでした。", err)
	}
	if err := os.Rename(tmpPDF, outputPath); err != nil {
		_ = os.Remove(tmpPDF)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// convertHEIC は外部コマンドで HEIC を PNG に変換し、一時ファイルのパスを返します。
func convertHEIC(ctx context.Context, opts Options, in string) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "anyconvert-heic-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "image.png")

	var args []string
	switch opts.HeicConverter {
	case "heif-convert":
		args = []string{in, out}
	case "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return "", cleanup, newError(CodeUnsupported, "HEIC の変換コマンドが設定されていません (heif-convert | magick | sips)。", nil)
	}

	if _, errb, err := opts.Runner.Run(ctx, opts.HeicConverter, args...); err != nil {
		return "", cleanup, newError(CodeUnsupported, fmt.Sprintf("HEIC の読み込みに失敗しました: %s", truncate(string(errb), 512)), err)
	}
	return out, cleanup, nil
}

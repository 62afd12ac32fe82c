package convert

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ghostscript は Ghostscript を使った PDF の変換をまとめます。
type ghostscript struct {
	opts Options
}

// renderFirstPage は PDF の1ページ目を画像として書き出します。
func (g *ghostscript) renderFirstPage(ctx context.Context, req Request) error {
	device := "png16m"
	extra := []string{}
	if req.Target == "jpg" || req.Target == "jpeg" {
		device = "jpeg"
		extra = append(extra, fmt.Sprintf("-dJPEGQ=%d", jpegQuality))
	}

	tmp := req.OutputPath + ".part"
	args := renderArgs(device, tmp, req.InputPath, extra...)
	if err := g.run(ctx, args, "PDFの画像化に失敗しました"); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// pdfToText は PDF のテキストを抽出して txt として書き出します。
func (g *ghostscript) pdfToText(ctx context.Context, req Request) error {
	text, err := g.extractText(ctx, req.InputPath)
	if err != nil {
		return err
	}
	return writeFileAtomic(req.OutputPath, []byte(textHeader+nonEmpty(text, noTextDetected)))
}

// pdfToDocx は PDF のテキストを段落に分けて DOCX として書き出します。
func (g *ghostscript) pdfToDocx(ctx context.Context, req Request) error {
	text, err := g.extractText(ctx, req.InputPath)
	if err != nil {
		return err
	}
	paragraphs := textParagraphs(text)
	if len(paragraphs) == 0 {
		paragraphs = []docxParagraph{{Text: noTextExtracted}}
	}
	return writeDocxFile(req.OutputPath, paragraphs)
}

func (g *ghostscript) extractText(ctx context.Context, inputPath string) (string, error) {
	args := []string{
		"-sDEVICE=txtwrite",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=-",
		inputPath,
	}
	out, errb, err := g.opts.Runner.Run(ctx, g.opts.GhostscriptPath, args...)
	if err != nil {
		return "", newError(CodeFailed, fmt.Sprintf("PDFのテキスト抽出に失敗しました: %s", truncate(string(errb), 512)), err)
	}
	// ページ区切りは段落区切りとして扱う
	return strings.ReplaceAll(string(out), "\f", "\n\n"), nil
}

func (g *ghostscript) run(ctx context.Context, args []string, failMsg string) error {
	_, errb, err := g.opts.Runner.Run(ctx, g.opts.GhostscriptPath, args...)
	if err != nil {
		return newError(CodeFailed, fmt.Sprintf("%s: %s", failMsg, truncate(string(errb), 512)), err)
	}
	return nil
}

// renderArgs は1ページ目を100dpiで描画する引数を返します。入力ファイルは必ず最後に置きます。
func renderArgs(device, outputPath, inputPath string, extra ...string) []string {
	args := []string{
		fmt.Sprintf("-sDEVICE=%s", device),
		"-r100",
		"-dFirstPage=1",
		"-dLastPage=1",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-sOutputFile=%s", outputPath),
	}
	args = append(args, extra...)
	return append(args, inputPath)
}

// Package convert は (入力拡張子, 出力形式) から変換処理を選ぶレジストリと、組み込みの変換処理を提供します。
package convert

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AnyExt はどの入力拡張子にも一致するワイルドカードです。
const AnyExt = "*"

// Request は1回の変換の入出力です。
type Request struct {
	InputPath  string // 保存済み入力ファイル
	OutputPath string // 書き込み先
	SourceExt  string // "." を含む小文字の拡張子（空の場合あり）
	Target     string // 出力形式（"." なし、小文字）
}

// Converter は変換処理の契約です。
// 成功時は OutputPath に完全なファイルが書かれていなければなりません。
// 失敗時はエラーを返します（途中まで書かれたファイルが残っても構いません）。
// タイムアウトは ctx で外側から与えます。
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// ConverterFunc は関数を Converter として扱うためのアダプタです。
type ConverterFunc func(ctx context.Context, req Request) error

// Convert は f(ctx, req) を呼び出します。
func (f ConverterFunc) Convert(ctx context.Context, req Request) error {
	return f(ctx, req)
}

type routeKey struct {
	ext    string
	target string
}

// Registry は (拡張子, 出力形式) から Converter を引く表です。
// 一致する組み合わせが無い場合はワイルドカード、最後に既定の変換を返します。
type Registry struct {
	mu       sync.RWMutex
	routes   map[routeKey]Converter
	fallback Converter
}

// NewRegistry は fallback を既定の変換とする空のレジストリを作成します。
func NewRegistry(fallback Converter) *Registry {
	if fallback == nil {
		fallback = PlaceholderConverter()
	}
	return &Registry{
		routes:   make(map[routeKey]Converter),
		fallback: fallback,
	}
}

// Register は ext→target の変換を登録します。ext に AnyExt を指定すると全拡張子に一致します。
func (r *Registry) Register(ext, target string, c Converter) {
	if c == nil {
		panic("convert: Register converter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey{ext: NormalizeExt(ext), target: NormalizeTarget(target)}] = c
}

// RegisterMany は複数の拡張子・出力形式の全組み合わせに同じ変換を登録します。
func (r *Registry) RegisterMany(exts, targets []string, c Converter) {
	for _, ext := range exts {
		for _, target := range targets {
			r.Register(ext, target, c)
		}
	}
}

// Lookup は変換を返します。matched は明示的な登録（ワイルドカード含む）に一致したかを表します。
func (r *Registry) Lookup(ext, target string) (c Converter, matched bool) {
	ext = NormalizeExt(ext)
	target = NormalizeTarget(target)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.routes[routeKey{ext: ext, target: target}]; ok {
		return c, true
	}
	if c, ok := r.routes[routeKey{ext: AnyExt, target: target}]; ok {
		return c, true
	}
	return r.fallback, false
}

// Convert は req に対応する変換を選んで実行します。
func (r *Registry) Convert(ctx context.Context, req Request) error {
	c, _ := r.Lookup(req.SourceExt, req.Target)
	return c.Convert(ctx, req)
}

// NormalizeExt は拡張子を "." 付きの小文字にそろえます。
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == AnyExt {
		return ext
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NormalizeTarget は出力形式を "." なしの小文字にそろえます。
func NormalizeTarget(target string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(target)), ".")
}

// Options は組み込み変換で使用する外部ツールの設定です。
type Options struct {
	Runner          Runner
	GhostscriptPath string
	TesseractPath   string
	TesseractLang   string
	LibreOfficePath string
	HeicConverter   string
	Logger          *logrus.Logger
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Runner == nil {
		o.Runner = NewExecRunner(o.Logger)
	}
	if o.GhostscriptPath == "" {
		o.GhostscriptPath = "gs"
	}
	if o.TesseractPath == "" {
		o.TesseractPath = "tesseract"
	}
	if o.TesseractLang == "" {
		o.TesseractLang = "eng"
	}
	if o.HeicConverter == "" {
		o.HeicConverter = "heif-convert"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// 入力拡張子の分類
var (
	imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".heic", ".tif", ".tiff"}
	ocrExts   = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff"}
)

// NewDefaultRegistry は組み込みの変換を登録したレジストリを返します。
func NewDefaultRegistry(opts Options) *Registry {
	opts.withDefaults()

	images := &imageConverter{opts: opts}
	gs := &ghostscript{opts: opts}
	ocr := &ocrDocument{opts: opts}
	sheets := &sheetConverter{}

	reg := NewRegistry(PlaceholderConverter())

	reg.Register(".pdf", "docx", ConverterFunc(gs.pdfToDocx))
	reg.RegisterMany(imageExts, []string{"jpg", "jpeg", "png", "webp", "bmp", "tiff", "pdf"}, images)
	reg.RegisterMany([]string{".pdf"}, []string{"jpg", "jpeg", "png"}, ConverterFunc(gs.renderFirstPage))
	reg.Register(".docx", "pdf", &officeConverter{opts: opts})

	reg.RegisterMany(ocrExts, []string{"docx"}, ConverterFunc(ocr.toDocx))
	reg.Register(".txt", "docx", ConverterFunc(ocr.toDocx))
	reg.Register(AnyExt, "txt", ConverterFunc(ocr.toText))
	reg.Register(".pdf", "txt", ConverterFunc(gs.pdfToText))
	reg.Register(".xlsx", "txt", ConverterFunc(ocr.toText))

	reg.Register(".xlsx", "csv", ConverterFunc(sheets.xlsxToCSV))
	reg.Register(".csv", "xlsx", ConverterFunc(sheets.csvToXLSX))

	return reg
}

// Package ingest читает сырые файлы CO2-светофоров из дерева каталогов
// и объединяет их в одну неструктурированную таблицу
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	"sensorprep/internal/logging"
	"sensorprep/internal/metrics"
	"sensorprep/internal/models"
)

const (
	// Separator разделитель полей в файлах
	Separator = ';'
	// DefaultConcurrency сколько файлов читается одновременно
	DefaultConcurrency = 8
)

// archiveSuffixes архивы распаковываются отдельной утилитой и здесь пропускаются
var archiveSuffixes = []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.bz2"}

// FileFailure файл, который не удалось разобрать
type FileFailure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result результат чтения каталога
type Result struct {
	Table        *models.RawTable
	FilesRead    int
	SkippedLines int
	Failures     []FileFailure
	// Cause объясняет пустой результат
	Cause string
}

// Empty сообщает, что не прочитано ни одной строки
func (r *Result) Empty() bool {
	return r.Table.Len() == 0
}

// Ingestor читает файлы с показаниями
type Ingestor struct {
	log         *zap.Logger
	concurrency int
}

// NewIngestor создает читателя файлов
func NewIngestor(log *zap.Logger, concurrency int) *Ingestor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Ingestor{log: logging.OrNop(log), concurrency: concurrency}
}

type fileResult struct {
	columns []string
	rows    []models.RawRow
	skipped int
	err     error
}

// Ingest рекурсивно читает все файлы под root. Ошибки отдельных файлов
// не прерывают чтение; пустой результат возвращается с причиной, а не ошибкой.
// Ошибка возвращается только при отмене контекста.
func (in *Ingestor) Ingest(ctx context.Context, root string) (*Result, error) {
	res := &Result{Table: &models.RawTable{}}

	paths, err := listFiles(root)
	if err != nil {
		res.Cause = fmt.Sprintf("cannot walk %s: %v", root, err)
		in.log.Warn("ingestion root is not readable", zap.String("root", root), zap.Error(err))
		return res, nil
	}

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cols, rows, skipped, err := ReadFile(p)
			results[i] = fileResult{columns: cols, rows: rows, skipped: skipped, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Склеиваем в порядке отсортированных путей, чтобы результат был воспроизводим
	for i, r := range results {
		if r.err != nil {
			in.log.Warn("failed to read file", zap.String("path", paths[i]), zap.Error(r.err))
			metrics.FilesFailed.Inc()
			res.Failures = append(res.Failures, FileFailure{Path: paths[i], Err: r.err.Error()})
			continue
		}
		res.FilesRead++
		res.SkippedLines += r.skipped
		res.Table.Append(r.columns, r.rows)
		metrics.FilesRead.Inc()
	}

	if res.Empty() {
		res.Cause = fmt.Sprintf("no parsable files found under %s", root)
		in.log.Warn("ingestion produced no rows", zap.String("root", root), zap.Int("failed_files", len(res.Failures)))
		return res, nil
	}

	in.log.Info("read data",
		zap.Int("files", res.FilesRead),
		zap.Int("rows", res.Table.Len()),
		zap.Int("columns", len(res.Table.Columns)),
		zap.Int("skipped_lines", res.SkippedLines),
	)
	return res, nil
}

func listFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isArchive(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func isArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// ReadFile разбирает один файл: первая строка пропускается, вторая является
// заголовком, строки с неверным числом полей отбрасываются
func ReadFile(path string) ([]string, []models.RawRow, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает содержимое файла
func Parse(data []byte) ([]string, []models.RawRow, int, error) {
	text, err := decode(data)
	if err != nil {
		return nil, nil, 0, err
	}

	// Первая строка файла служебная, заголовок во второй
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		return nil, nil, 0, errors.New("file has no header line")
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = Separator
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}
	if len(columns) < 2 {
		return nil, nil, 0, fmt.Errorf("header has %d columns, expected delimited data", len(columns))
	}

	var rows []models.RawRow
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			skipped++
			continue
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read record: %w", err)
		}
		if len(rec) != len(columns) {
			skipped++
			continue
		}
		row := make(models.RawRow, len(columns))
		for i, c := range columns {
			row[c] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, nil, skipped, errors.New("file contains no valid rows")
	}
	return columns, rows, skipped, nil
}

// decode возвращает текст файла; невалидный UTF-8 декодируется как ISO-8859-1
func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if bytes.IndexByte(data, 0) >= 0 {
		return "", errors.New("binary content")
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode file: %w", err)
	}
	return string(out), nil
}

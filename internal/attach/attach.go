// Package attach inspects local files before they are offered for upload,
// so the user sees what will be attached (and obvious problems) before any
// network traffic happens.
package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxUploadBytes mirrors the ticket system's attachment ceiling.
const MaxUploadBytes = 100 << 20

// FileInfo describes one candidate attachment.
type FileInfo struct {
	Path     string
	Name     string
	Size     int64
	Pages    int  // PDF page count; 0 when unknown or not a PDF
	TooLarge bool // exceeds MaxUploadBytes, upload would be refused
}

// Inspect stats every path in input order. A missing or unreadable file is
// an error; an oversized file is flagged, not rejected, so the caller can
// decide how to present it.
func Inspect(paths []string) ([]FileInfo, error) {
	var infos []FileInfo
	for _, p := range paths {
		stat, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("file not found: %s", p)
		}
		if stat.IsDir() {
			return nil, fmt.Errorf("%s is a directory, not a file", p)
		}

		info := FileInfo{
			Path:     p,
			Name:     filepath.Base(p),
			Size:     stat.Size(),
			TooLarge: stat.Size() > MaxUploadBytes,
		}
		if strings.EqualFold(filepath.Ext(p), ".pdf") {
			info.Pages = pdfPageCount(p)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// pdfPageCount returns the page count of a PDF, or 0 when the file cannot
// be parsed. A corrupt PDF is still uploadable; the count is informational.
func pdfPageCount(path string) int {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return r.NumPage()
}

// FormatSize renders a byte count the way the CLI displays it.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

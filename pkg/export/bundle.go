package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackName = "song"

// maxNameBytes leaves room under NAME_MAX (255) for suffixes such as
// "_duet.txt.tmp".
const maxNameBytes = 100

// BundleFile is one file to place in a download archive.
type BundleFile struct {
	// Name inside the archive; defaults to the base name of Path.
	Name string
	Path string
}

// BundleName returns the archive file name for a song title.
func BundleName(title string) string {
	s := slug.Make(title)
	if s == "" {
		s = fallbackName
	}
	return s + "_all_files.zip"
}

// WriteBundle writes a deflate-compressed zip of files to w. Files that do
// not exist are reported as errors rather than skipped.
func WriteBundle(w io.Writer, files []BundleFile) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := addToZip(zw, f); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func addToZip(zw *zip.Writer, f BundleFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.Path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", f.Path, err)
	}
	hdr.Name = f.Name
	if hdr.Name == "" {
		hdr.Name = filepath.Base(f.Path)
	}
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("zip copy %s: %w", hdr.Name, err)
	}
	return nil
}

// SafeFileName folds accents, keeps letters (Latin or not), digits and
// dashes, and replaces everything else with an underscore. The result is at
// most maxNameBytes long, cut on a rune boundary.
func SafeFileName(name string) string {
	// transform.Chain is stateful, build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.TrimRight(truncateBytes(out, maxNameBytes), "_-")
	if out == "" {
		return fallbackName
	}
	return out
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

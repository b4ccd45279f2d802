package corecache

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractBinary pulls the named executable out of the downloaded asset and
// writes it to destPath. Release assets come as .tar.gz, .zip, single-file
// .gz, or a bare binary.
func extractBinary(archivePath, assetName, exeName, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	lower := strings.ToLower(assetName)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(archivePath, exeName, destPath)
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, exeName, destPath)
	case strings.HasSuffix(lower, ".gz"):
		return extractGz(archivePath, destPath)
	default:
		// Bare binary.
		return copyFile(archivePath, destPath)
	}
}

func extractTarGz(archivePath, exeName, destPath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !matchesExecutable(hdr.Name, exeName) {
			continue
		}
		return writeLimited(destPath, tr)
	}
	return fmt.Errorf("executable %q not found in archive", exeName)
}

func extractZip(archivePath, exeName, destPath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !matchesExecutable(zf.Name, exeName) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeLimited(destPath, rc)
		rc.Close()
		return err
	}
	return fmt.Errorf("executable %q not found in archive", exeName)
}

func extractGz(archivePath, destPath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	return writeLimited(destPath, gz)
}

// matchesExecutable accepts both "mihomo" and versioned names like
// "mihomo-linux-amd64-v1.19.0" at any depth inside the archive.
func matchesExecutable(entryName, exeName string) bool {
	base := filepath.Base(filepath.FromSlash(entryName))
	base = strings.TrimSuffix(base, ".exe")
	return base == exeName || strings.HasPrefix(base, exeName+"-")
}

// Decompressed size cap. Keeps a malicious archive from filling the disk.
const maxBinaryBytes = 512 * 1024 * 1024

func writeLimited(destPath string, r io.Reader) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(r, maxBinaryBytes+1))
	if err != nil {
		return err
	}
	if n > maxBinaryBytes {
		return fmt.Errorf("decompressed binary exceeds %d bytes", int64(maxBinaryBytes))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeLimited(dst, in)
}

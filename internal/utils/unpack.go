package utils

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"os/exec"
)

func UnpackTarGz(tarGzFile string, dstFolder string) error {
	cmd := exec.Command("tar", "-xzf", tarGzFile, "-C", dstFolder)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w", err)
	}
	return nil
}

// IsTarGz reports whether file is a gzip stream wrapping a tar archive.
func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	gz, err := gzip.NewReader(fileHandle)
	if err != nil {
		return false
	}
	defer gz.Close()

	// an empty archive is still a valid one
	_, err = tar.NewReader(gz).Next()
	return err == nil || err == io.EOF
}

func CompressTarGz(srcFolder, tarGzFile string) error {
	cmd := exec.Command("tar", "-czf", tarGzFile, "-C", srcFolder, ".")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create tar.gz file: %w", err)
	}
	return nil
}

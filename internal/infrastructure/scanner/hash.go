package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HashSkipped is recorded instead of a digest when hashing was not requested.
const HashSkipped = "skipped_in_fast_mode"

const hashChunkSize = 4096

// HashFile returns the hex SHA-256 of a file, read in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashFiles fills FileHash for every valid entry using at most workers
// goroutines. Each goroutine writes only its own slice element. A file that
// cannot be read is marked invalid; only cancellation stops the group.
func hashFiles(ctx context.Context, files []FileInfo, workers int, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range files {
		if !files[i].Valid {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, err := HashFile(files[i].Path)
			if err != nil {
				logger.Warn("Failed to hash file", zap.String("path", files[i].Path), zap.Error(err))
				files[i].Valid = false
				files[i].Reason = ReasonUnreadable
				files[i].FileHash = ""
				return nil
			}
			files[i].FileHash = sum
			return nil
		})
	}
	return g.Wait()
}

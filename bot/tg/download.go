package tg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/karwa/bannerbot/core/logger"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

const (
	downloadAttempts = 3
	downloadBackoff  = time.Second
)

// photoDownloader fetches the largest photo size into a uniquely named file
// under the adapter's temp directory. Transient Telegram fetch errors are
// retried with exponential backoff.
func (a *Adapter) photoDownloader(c tele.Context) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		msg := c.Message()
		if msg == nil || msg.Photo == nil {
			return "", errors.New("update carries no photo")
		}
		file := msg.Photo.File
		target := filepath.Join(a.tempDir, "upload-"+uuid.NewString()+".jpg")

		backoff := downloadBackoff
		var lastErr error
		for attempt := 1; attempt <= downloadAttempts; attempt++ {
			err := downloadFile(c.Bot(), file, target)
			if err == nil {
				return target, nil
			}
			lastErr = err
			logger.TG.Warn("photo download attempt failed",
				slog.String("event", "photo.download"),
				slog.Int("attempt", attempt),
				slog.String("file_id", file.FileID),
				slog.String("err", err.Error()),
			)
			if attempt == downloadAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		return "", fmt.Errorf("photo download failed after %d attempts: %w", downloadAttempts, lastErr)
	}
}

func downloadFile(api tele.API, file tele.File, target string) error {
	rc, err := api.File(&file)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return err
	}
	return nil
}

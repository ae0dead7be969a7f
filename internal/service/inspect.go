package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/storage"
	_ "golang.org/x/image/webp"
)

// MediaInspector fills in format metadata for ingested URLs by decoding the
// image header, and optionally mirrors the fetched bytes to object storage.
// Everything it does is best-effort.
type MediaInspector struct {
	client   *resty.Client
	maxBytes int64
	storage  storage.ObjectStorage
}

// NewMediaInspector creates an inspector. objectStorage may be nil.
func NewMediaInspector(timeout time.Duration, maxBytes int64, objectStorage storage.ObjectStorage) *MediaInspector {
	if maxBytes <= 0 {
		maxBytes = 512 * 1024
	}
	return &MediaInspector{
		client:   resty.New().SetTimeout(timeout),
		maxBytes: maxBytes,
		storage:  objectStorage,
	}
}

// Inspect returns the decoded metadata of url, or nil if it cannot be read.
func (i *MediaInspector) Inspect(ctx context.Context, url string) *domain.MediaMetadata {
	data, complete, err := i.fetch(ctx, url)
	if err != nil {
		logger.CtxDebug(ctx, "Media inspection failed: url=%s, error=%v", url, err)
		return nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		logger.CtxDebug(ctx, "Media header not decodable: url=%s, error=%v", url, err)
		return nil
	}
	meta := &domain.MediaMetadata{
		ContentType: getContentType(format),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}

	if i.storage != nil && complete {
		i.mirror(ctx, data, format, meta.ContentType)
	}
	return meta
}

// fetch reads at most maxBytes of url. complete reports whether the whole
// body fit.
func (i *MediaInspector) fetch(ctx context.Context, url string) ([]byte, bool, error) {
	resp, err := i.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, false, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return nil, false, fmt.Errorf("status %d", resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, i.maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > i.maxBytes {
		return data[:i.maxBytes], false, nil
	}
	return data, true, nil
}

func (i *MediaInspector) mirror(ctx context.Context, data []byte, format, contentType string) {
	key, uploaded, err := storage.Mirror(ctx, i.storage, data, format, contentType)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to mirror media: key=%s, error=%v", key, err)
		return
	}
	if uploaded {
		logger.CtxDebug(ctx, "Media mirrored: key=%s, url=%s", key, i.storage.GetURL(key))
	}
}

func getContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

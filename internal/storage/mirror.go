package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
)

// MirrorKey is the content-addressed key for media bytes,
// "<md5[:2]>/<md5>.<format>", so identical files share one object.
func MirrorKey(data []byte, format string) string {
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	return hash[:2] + "/" + hash + "." + format
}

// Mirror stores data under its MirrorKey unless that object already exists.
// It returns the key and whether an upload happened.
func Mirror(ctx context.Context, store ObjectStorage, data []byte, format, contentType string) (string, bool, error) {
	key := MirrorKey(data, format)
	exists, err := store.Exists(ctx, key)
	if err != nil {
		return key, false, err
	}
	if exists {
		return key, false, nil
	}
	if err := store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return key, false, err
	}
	return key, true, nil
}

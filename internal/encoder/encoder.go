// Package encoder turns raw image files into self-contained data URI payloads.
package encoder

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// Encode produces the data URI payload for one raw file. The content comes
// from raw.Data when present, otherwise it is read from raw.Path. Any error
// is terminal for this file; the caller decides what it means for the batch.
//
// The read honors ctx so a stalled file cannot hold a batch open past the
// caller's deadline.
func Encode(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error) {
	if raw == nil {
		return "", fmt.Errorf("nil raw file")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := raw.Data
	if len(data) == 0 && raw.Path != "" {
		var err error
		data, err = readFile(ctx, raw.Path)
		if err != nil {
			return "", fmt.Errorf("reading %q: %w", raw.Path, err)
		}
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %q", raw.Name)
	}

	mediaType := raw.MediaType
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}

	return model.EncodedImage("data:" + mediaType + ";base64," +
		base64.StdEncoding.EncodeToString(data)), nil
}

// readFile reads the file in a separate goroutine so the caller's ctx
// deadline applies even when the underlying read blocks.
func readFile(ctx context.Context, path string) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}

	ch := make(chan readResult, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- readResult{data, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package compare

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image/png"
	"time"

	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/rasterize"
	"plot-oracle/internal/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// LoadDocument reads ref from s. Missing or unreadable documents yield an
// *UnreadableInputError.
func LoadDocument(ctx context.Context, s storage.Storage, ref string) (rasterize.Document, error) {
	if ref == "" {
		return rasterize.Document{}, &UnreadableInputError{Document: ref, Err: xerrors.New("empty document reference")}
	}

	data, err := s.Get(ctx, ref)
	if err != nil {
		return rasterize.Document{}, &UnreadableInputError{Document: ref, Err: err}
	}
	if len(data) == 0 {
		return rasterize.Document{}, &UnreadableInputError{Document: ref, Err: xerrors.New("document is empty")}
	}

	return rasterize.Document{
		Name: ref,
		Data: data,
	}, nil
}

// CompareRefs loads both documents from s and compares them.
func (c *Comparer) CompareRefs(ctx context.Context, s storage.Storage, baselineRef string, targetRef string) (*Verdict, error) {
	var baseline rasterize.Document
	var target rasterize.Document

	v := newVerdict(baselineRef, targetRef)
	if err := c.runStage(ctx, v, StageLoad, func(ctx context.Context) error {
		eg, ctx := errgroup.WithContext(ctx)

		eg.Go(func() error {
			doc, err := LoadDocument(ctx, s, baselineRef)
			if err != nil {
				return err
			}
			baseline = doc
			return nil
		})

		eg.Go(func() error {
			doc, err := LoadDocument(ctx, s, targetRef)
			if err != nil {
				return err
			}
			target = doc
			return nil
		})

		return eg.Wait()
	}); err != nil {
		return v, err
	}

	result, err := c.Compare(ctx, baseline, target)
	result.record(StageLoad, nil)
	return result, err
}

// ArtifactKey is the storage prefix of one comparison's artifacts.
func ArtifactKey(baseline string, target string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(baseline + target))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	return fmt.Sprintf("Comparison/%s/%s", hash, now.Format("20060102150405"))
}

// SaveArtifacts uploads the rasterized inputs and the difference map of v as PNGs and
// records their locations on v.
func SaveArtifacts(ctx context.Context, s storage.Storage, v *Verdict, now time.Time) error {
	baseKey := ArtifactKey(v.Baseline, v.Target, now)
	artifacts := &Artifacts{}

	upload := func(ctx context.Context, name string, b *diffimage.Bitmap, path *string) error {
		if b == nil {
			return nil
		}
		data, err := EncodePNG(b)
		if err != nil {
			return xerrors.Errorf("failed to encode %s image: %w", name, err)
		}
		url, err := s.Put(ctx, fmt.Sprintf("%s/%s.png", baseKey, name), data)
		if err != nil {
			return xerrors.Errorf("failed to upload %s image: %w", name, err)
		}
		*path = url
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return upload(ctx, "baseline", v.BaselineBitmap, &artifacts.BaselinePath)
	})

	eg.Go(func() error {
		return upload(ctx, "target", v.TargetBitmap, &artifacts.TargetPath)
	})

	eg.Go(func() error {
		return upload(ctx, "diff", v.DiffBitmap, &artifacts.DiffPath)
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	v.Artifacts = artifacts
	return nil
}

func EncodePNG(b *diffimage.Bitmap) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, b.ToImage()); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

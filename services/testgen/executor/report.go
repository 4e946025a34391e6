// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// reportCandidates are the report locations of Surefire 2.x and 3.x.
var reportCandidates = []string{
	filepath.Join("target", "reports", "surefire.html"),
	filepath.Join("target", "site", "surefire-report.html"),
}

// ReportUploader publishes a rendered report and returns its URL.
type ReportUploader interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// report renders the HTML report and uploads it. Failures are logged only.
func (e *Executor) report(ctx context.Context, dir string, res *testgen.ExecutionResult) {
	if _, err := e.run(ctx, dir, e.cfg.ReportArgs, e.cfg.ReportTimeout); err != nil {
		e.logger.Warn("Report generation failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, candidate := range reportCandidates {
		p := filepath.Join(dir, candidate)
		if _, err := os.Stat(p); err == nil {
			res.ReportPath = p
			break
		}
	}
	if res.ReportPath == "" {
		e.logger.Warn("Report not found after generation", slog.String("dir", dir))
		return
	}
	if e.uploader == nil {
		return
	}

	object := path.Join(filepath.Base(dir), time.Now().UTC().Format("20060102T150405Z"), filepath.Base(res.ReportPath))
	url, err := e.uploader.Upload(ctx, res.ReportPath, object)
	if err != nil {
		e.logger.Warn("Report upload failed",
			slog.String("report", res.ReportPath),
			slog.String("error", err.Error()),
		)
		return
	}
	res.ReportURL = url
	e.logger.Info("Report uploaded", slog.String("url", url))
}

// =============================================================================
// GCS UPLOADER
// =============================================================================

// GCSUploader uploads reports to a Google Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates an uploader. An empty credentialsFile uses the
// application default credentials.
func NewGCSUploader(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("credentials file %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload copies a local file to the bucket and returns its gs:// URL.
func (u *GCSUploader) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	name := path.Join(u.prefix, objectName)
	w := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"
	w.CacheControl = "no-cache"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, name), nil
}

// Close releases the client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// Package export implements the zip+S3 upload of a calendar cell's
// historical events (§6: "export historical events per cell as a zipped
// spreadsheet"). The spec's core Non-goals keep Excel/CSV export out of
// ArbitrageEngine proper; this package is the thin external-collaborator
// home for it instead, matching §6's framing of the admin surface as a
// set of "behavior-agnostic wrappers" around the core.
//
// No teacher or pack file builds a zip/S3 exporter, so this package is
// grounded on ecosystem convention for aws-sdk-go-v2/feature/s3/manager
// (the NewUploader/Upload call shape every aws-sdk-go-v2 user follows) and
// on archive/zip (standard library; no example repo ships a
// spreadsheet/CSV writer, so csv output plus stdlib zip is the closest fit
// to "zipped spreadsheet" without fabricating an unused dependency).
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/arbengine/arbengine/internal/utils"
)

// Uploader is the subset of *manager.Uploader this package calls,
// declared narrowly so tests can substitute a fake.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Exporter builds and uploads a zipped CSV of one calendar cell's
// historical events.
type Exporter struct {
	eventsDB *sql.DB
	uploader Uploader
	bucket   string
	log      zerolog.Logger
}

// New builds an Exporter. bucket is the destination S3 bucket; uploader is
// typically manager.NewUploader(s3.NewFromConfig(cfg)).
func New(eventsDB *sql.DB, uploader Uploader, bucket string, log zerolog.Logger) *Exporter {
	return &Exporter{
		eventsDB: eventsDB,
		uploader: uploader,
		bucket:   bucket,
		log:      log.With().Str("component", "export").Logger(),
	}
}

// ExportCell builds a CSV of every arbitrage_events row for (dayOfWeek,
// hour), zips it, and uploads it to s3://bucket/<key>. Returns the S3
// object key.
func (e *Exporter) ExportCell(ctx context.Context, dayOfWeek string, hour int) (string, error) {
	doneQuery := utils.MeasureDBQuery("export_cell_events", e.log)
	rows, err := e.eventsDB.QueryContext(ctx, `
		SELECT id, pair, direction, spread, spread_percent, depth_buy, depth_sell, timestamp
		FROM arbitrage_events
		WHERE day_of_week = ? AND hour = ?
		ORDER BY timestamp ASC
	`, dayOfWeek, hour)
	if err != nil {
		return "", fmt.Errorf("export: query cell events: %w", err)
	}
	defer rows.Close()

	csvData, count, err := buildCSV(rows)
	if err != nil {
		return "", err
	}
	doneQuery(int64(count))

	zipped, err := zipFile(fmt.Sprintf("%s-%02d.csv", dayOfWeek, hour), csvData)
	if err != nil {
		return "", fmt.Errorf("export: zip cell events: %w", err)
	}

	key := fmt.Sprintf("exports/%s-%02d-%d.zip", dayOfWeek, hour, time.Now().UTC().Unix())
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &e.bucket,
		Key:    &key,
		Body:   bytes.NewReader(zipped),
	})
	if err != nil {
		return "", fmt.Errorf("export: upload to s3: %w", err)
	}

	e.log.Info().Str("key", key).Int("events", count).Msg("exported calendar cell")
	return key, nil
}

// buildCSV renders rows into a CSV byte buffer, returning the row count.
func buildCSV(rows *sql.Rows) ([]byte, int, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "pair", "direction", "spread", "spread_percent", "depth_buy", "depth_sell", "timestamp"}); err != nil {
		return nil, 0, fmt.Errorf("export: write csv header: %w", err)
	}

	count := 0
	for rows.Next() {
		var id, pair, direction, spread, spreadPercent, depthBuy, depthSell string
		var timestamp int64
		if err := rows.Scan(&id, &pair, &direction, &spread, &spreadPercent, &depthBuy, &depthSell, &timestamp); err != nil {
			return nil, 0, fmt.Errorf("export: scan event row: %w", err)
		}
		record := []string{id, pair, direction, spread, spreadPercent, depthBuy, depthSell, strconv.FormatInt(timestamp, 10)}
		if err := w.Write(record); err != nil {
			return nil, 0, fmt.Errorf("export: write csv row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("export: iterate event rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, fmt.Errorf("export: flush csv: %w", err)
	}
	return buf.Bytes(), count, nil
}

// zipFile wraps a single named file's contents in a zip archive.
func zipFile(name string, contents []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	f, err := zw.Create(name)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(contents); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

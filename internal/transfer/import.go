package transfer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxmulti "github.com/makiuchi-d/gozxing/multi/qrcode"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/otpdeck/otpdeck/internal/otpauth"
	"github.com/otpdeck/otpdeck/internal/vault"
)

// ImportURI imports a single otpauth:// or otpauth-migration:// URI.
// Migration payloads may carry several credentials; the ones that fail are
// reported while the rest import.
func (s *Service) ImportURI(ctx context.Context, raw string) (*Result, error) {
	result := &Result{}

	raw = strings.TrimSpace(raw)
	if err := s.importURIInto(ctx, raw, result); err != nil {
		s.recordOperation(ctx, "import", "uri", err, nil)
		return nil, err
	}

	return s.finishImport(ctx, "uri", result)
}

// ImportURIList imports a plain-text list with one URI per line. Blank
// lines are skipped; failing lines are reported while the rest import.
func (s *Service) ImportURIList(ctx context.Context, text string) (*Result, error) {
	result := &Result{}

	var errs error
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.importURIInto(ctx, line, result); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", i+1, err))
			result.Failures = append(result.Failures, fmt.Sprintf("line %d: %v", i+1, err))
		}
	}

	if errs != nil {
		s.log.Warn("uri list import had failures", zap.Error(errs))
	}
	return s.finishImport(ctx, "uris", result)
}

// ImportJSON imports a vault document or the legacy bare entry array. An
// entry's uri field, when present, takes precedence over its loose fields.
func (s *Service) ImportJSON(ctx context.Context, data []byte) (*Result, error) {
	records, err := parseVaultJSON(data)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUnreadable, err)
		s.recordOperation(ctx, "import", "json", err, nil)
		return nil, err
	}

	result := &Result{}
	var errs error
	for i := range records {
		if err := s.createFromRecord(ctx, &records[i], result); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("entry %d: %w", i+1, err))
			result.Failures = append(result.Failures, fmt.Sprintf("entry %d (%s): %v", i+1, records[i].Label, err))
		}
	}

	if errs != nil {
		s.log.Warn("json import had failures", zap.Error(errs))
	}
	return s.finishImport(ctx, "json", result)
}

// ImportCSV imports the nine-column CSV layout, tolerating the older
// seven-column one. A header row is detected and skipped.
func (s *Service) ImportCSV(ctx context.Context, data []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUnreadable, err)
		s.recordOperation(ctx, "import", "csv", err, nil)
		return nil, err
	}

	start := 0
	if len(rows) > 0 && isCSVHeader(rows[0]) {
		start = 1
	}

	result := &Result{}
	var errs error
	for i := start; i < len(rows); i++ {
		record, err := entryFromCSVRow(rows[i])
		if err == nil {
			err = s.createFromRecord(ctx, record, result)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("row %d: %w", i+1, err))
			result.Failures = append(result.Failures, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}

	if errs != nil {
		s.log.Warn("csv import had failures", zap.Error(errs))
	}
	return s.finishImport(ctx, "csv", result)
}

// ImportImage decodes every QR code in the image and imports the otpauth
// and migration URIs found.
func (s *Service) ImportImage(ctx context.Context, data []byte) (*Result, error) {
	texts, err := decodeQRTexts(data)
	if err != nil {
		s.recordOperation(ctx, "import", "image", err, nil)
		return nil, err
	}

	result := &Result{}
	var errs error
	for _, text := range texts {
		if err := s.importURIInto(ctx, strings.TrimSpace(text), result); err != nil {
			errs = multierr.Append(errs, err)
			result.addFailure(err)
		}
	}

	if errs != nil {
		s.log.Warn("image import had failures", zap.Error(errs))
	}
	return s.finishImport(ctx, "image", result)
}

// ImportImages imports a batch of QR images, reporting per-image failures
// while importing what it can.
func (s *Service) ImportImages(ctx context.Context, images [][]byte) (*Result, error) {
	result := &Result{}

	var errs error
	for i, data := range images {
		texts, err := decodeQRTexts(data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("image %d: %w", i+1, err))
			result.Failures = append(result.Failures, fmt.Sprintf("image %d: %v", i+1, err))
			continue
		}
		for _, text := range texts {
			if err := s.importURIInto(ctx, strings.TrimSpace(text), result); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("image %d: %w", i+1, err))
				result.Failures = append(result.Failures, fmt.Sprintf("image %d: %v", i+1, err))
			}
		}
	}

	if errs != nil {
		s.log.Warn("image batch import had failures", zap.Error(errs))
	}
	return s.finishImport(ctx, "image", result)
}

// importURIInto dispatches one URI. Migration payload credentials that fail
// individually land in result.Failures; a payload that cannot be decoded at
// all is returned as an error.
func (s *Service) importURIInto(ctx context.Context, raw string, result *Result) error {
	switch {
	case otpauth.IsMigrationURI(raw):
		parsed, err := otpauth.DecodeMigration(raw)
		if err != nil {
			return err
		}
		for i := range parsed {
			if err := s.createFromParsed(ctx, &parsed[i], result); err != nil {
				result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", parsed[i].Label, err))
			}
		}
		return nil
	case otpauth.IsOTPAuthURI(raw):
		parsed, err := otpauth.ParseURI(raw)
		if err != nil {
			return err
		}
		return s.createFromParsed(ctx, parsed, result)
	default:
		return otpauth.ErrNotOTPAuth
	}
}

func (s *Service) createFromParsed(ctx context.Context, p *otpauth.Parsed, result *Result) error {
	created, err := s.vault.Create(ctx, vault.CreateEntryInput{
		Label:            p.Label,
		Issuer:           p.Issuer,
		Secret:           p.Secret,
		Type:             p.Type,
		Algorithm:        p.Algorithm,
		Digits:           p.Digits,
		Period:           p.Period,
		Counter:          p.Counter,
		RenameOnConflict: true,
	})
	if err != nil {
		return err
	}
	result.addImported(p.Label, created.Label)
	return nil
}

func (s *Service) createFromRecord(ctx context.Context, record *ExportedEntry, result *Result) error {
	input := vault.CreateEntryInput{
		Label:            record.Label,
		Issuer:           record.Issuer,
		Secret:           record.Secret,
		Type:             record.Type,
		Algorithm:        record.Algorithm,
		Digits:           record.Digits,
		Period:           record.Period,
		Counter:          record.Counter,
		Tags:             record.Tags,
		RenameOnConflict: true,
	}

	// the uri field carries the authoritative parameters when present
	if uri := strings.TrimSpace(record.URI); uri != "" {
		parsed, err := otpauth.ParseURI(uri)
		if err != nil {
			return err
		}
		input.Label = parsed.Label
		input.Issuer = parsed.Issuer
		input.Secret = parsed.Secret
		input.Type = parsed.Type
		input.Algorithm = parsed.Algorithm
		input.Digits = parsed.Digits
		input.Period = parsed.Period
		input.Counter = parsed.Counter
	}

	created, err := s.vault.Create(ctx, input)
	if err != nil {
		return err
	}
	result.addImported(input.Label, created.Label)
	return nil
}

func (s *Service) finishImport(ctx context.Context, format string, result *Result) (*Result, error) {
	metadata := map[string]any{
		"imported": len(result.Imported),
		"failed":   len(result.Failures),
	}

	if len(result.Imported) == 0 {
		s.recordOperation(ctx, "import", format, ErrNothingImported, metadata)
		return result, ErrNothingImported
	}

	s.recordOperation(ctx, "import", format, nil, metadata)
	return result, nil
}

func parseVaultJSON(data []byte) ([]ExportedEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	if trimmed[0] == '[' {
		var entries []ExportedEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}

	var doc VaultDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func isCSVHeader(row []string) bool {
	return len(row) >= 2 &&
		strings.EqualFold(strings.TrimSpace(row[0]), "label") &&
		strings.EqualFold(strings.TrimSpace(row[1]), "secret")
}

func entryFromCSVRow(row []string) (*ExportedEntry, error) {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	if len(row) != 7 && len(row) != 9 {
		return nil, fmt.Errorf("expected 7 or 9 columns, got %d", len(row))
	}

	record := &ExportedEntry{
		Label:     row[0],
		Secret:    row[1],
		Issuer:    row[2],
		Algorithm: row[3],
		Type:      row[6],
	}

	if row[4] != "" {
		digits, err := strconv.Atoi(row[4])
		if err != nil {
			return nil, fmt.Errorf("digits: %v", err)
		}
		record.Digits = digits
	}
	if row[5] != "" {
		period, err := strconv.ParseUint(row[5], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("period: %v", err)
		}
		record.Period = uint(period)
	}

	if len(row) == 9 {
		if row[7] != "" {
			counter, err := strconv.ParseUint(row[7], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("counter: %v", err)
			}
			record.Counter = counter
		}
		if row[8] != "" {
			record.Tags = splitTags(row[8])
		}
	}
	return record, nil
}

func splitTags(value string) []string {
	parts := strings.Split(value, ";")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

func decodeQRTexts(data []byte) ([]string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	if results, err := zxmulti.NewQRCodeMultiReader().DecodeMultiple(bmp, hints); err == nil && len(results) > 0 {
		texts := make([]string, 0, len(results))
		for _, r := range results {
			texts = append(texts, r.GetText())
		}
		return texts, nil
	}

	// the multi reader misses some single-code images the plain reader handles
	single, err := zxqrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return nil, fmt.Errorf("%w: no QR code found", ErrUnreadable)
	}
	return []string{single.GetText()}, nil
}

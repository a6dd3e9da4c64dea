package transfer

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/vault"
)

// csvHeader is the column layout written by the CSV exporter. The importer
// additionally tolerates the older seven-column layout without counter/tags.
var csvHeader = []string{"label", "secret", "issuer", "algorithm", "digits", "period", "type", "counter", "tags"}

// ExportedEntry is one credential in plaintext interchange form.
type ExportedEntry struct {
	Label     string   `json:"label"`
	Secret    string   `json:"secret"`
	Issuer    string   `json:"issuer,omitempty"`
	Algorithm string   `json:"algorithm"`
	Digits    int      `json:"digits"`
	Period    uint     `json:"period"`
	Type      string   `json:"type"`
	Counter   uint64   `json:"counter,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	URI       string   `json:"uri,omitempty"`
}

// VaultDocument is the JSON backup envelope.
type VaultDocument struct {
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Entries    []ExportedEntry `json:"entries"`
}

// ExportJSON renders the vault as the version 2.0 backup document.
func (s *Service) ExportJSON(ctx context.Context) ([]byte, error) {
	entries, err := s.exportedEntries(ctx)
	if err != nil {
		s.recordOperation(ctx, "export", "json", err, nil)
		return nil, err
	}

	data, err := s.buildJSON(entries)
	s.recordOperation(ctx, "export", "json", err, map[string]any{"entries": len(entries)})
	return data, err
}

// ExportCSV renders the vault as CSV with the nine-column header.
func (s *Service) ExportCSV(ctx context.Context) ([]byte, error) {
	entries, err := s.exportedEntries(ctx)
	if err != nil {
		s.recordOperation(ctx, "export", "csv", err, nil)
		return nil, err
	}

	data, err := buildCSV(entries)
	s.recordOperation(ctx, "export", "csv", err, map[string]any{"entries": len(entries)})
	return data, err
}

// ExportURIList renders one otpauth URI per line.
func (s *Service) ExportURIList(ctx context.Context) ([]byte, error) {
	entries, err := s.exportedEntries(ctx)
	if err != nil {
		s.recordOperation(ctx, "export", "uris", err, nil)
		return nil, err
	}

	data := buildURIList(entries)
	s.recordOperation(ctx, "export", "uris", nil, map[string]any{"entries": len(entries)})
	return data, nil
}

// ExportQRArchive renders a zip with one QR PNG per entry.
func (s *Service) ExportQRArchive(ctx context.Context) ([]byte, error) {
	entries, err := s.vault.List(ctx, vault.ListOptions{})
	if err != nil {
		s.recordOperation(ctx, "export", "qr", err, nil)
		return nil, err
	}
	if len(entries) == 0 {
		s.recordOperation(ctx, "export", "qr", ErrEmptyVault, nil)
		return nil, ErrEmptyVault
	}

	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)
	if _, err := s.writeQRMembers(archive, "", entries); err != nil {
		s.recordOperation(ctx, "export", "qr", err, nil)
		return nil, err
	}
	if err := archive.Close(); err != nil {
		s.recordOperation(ctx, "export", "qr", err, nil)
		return nil, fmt.Errorf("transfer: close qr archive: %w", err)
	}

	s.recordOperation(ctx, "export", "qr", nil, map[string]any{"entries": len(entries)})
	return buf.Bytes(), nil
}

// ArchiveManifest describes the contents of a full backup archive.
type ArchiveManifest struct {
	App       string    `json:"app"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Entries   int       `json:"entries"`
	Files     []string  `json:"files"`
}

// ExportArchive renders the full backup archive: vault JSON, CSV, URI list,
// per-entry QR PNGs, and a manifest.
func (s *Service) ExportArchive(ctx context.Context) ([]byte, error) {
	data, count, err := s.buildArchive(ctx)
	s.recordOperation(ctx, "export", "archive", err, map[string]any{"entries": count})
	return data, err
}

func (s *Service) buildArchive(ctx context.Context) ([]byte, int, error) {
	entries, err := s.vault.List(ctx, vault.ListOptions{})
	if err != nil {
		return nil, 0, err
	}
	exported, err := s.exportEntries(entries)
	if err != nil {
		return nil, 0, err
	}

	jsonData, err := s.buildJSON(exported)
	if err != nil {
		return nil, 0, err
	}
	csvData, err := buildCSV(exported)
	if err != nil {
		return nil, 0, err
	}
	uriData := buildURIList(exported)

	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	files := []string{"vault.json", "vault.csv", "uris.txt"}
	members := map[string][]byte{
		"vault.json": jsonData,
		"vault.csv":  csvData,
		"uris.txt":   uriData,
	}
	for _, name := range files {
		w, err := archive.Create(name)
		if err != nil {
			return nil, 0, fmt.Errorf("transfer: create archive member %s: %w", name, err)
		}
		if _, err := w.Write(members[name]); err != nil {
			return nil, 0, fmt.Errorf("transfer: write archive member %s: %w", name, err)
		}
	}

	qrNames, err := s.writeQRMembers(archive, "qr/", entries)
	if err != nil {
		return nil, 0, err
	}
	files = append(files, qrNames...)

	manifest := ArchiveManifest{
		App:       "otpdeck",
		Version:   VaultDocumentVersion,
		CreatedAt: s.now().UTC(),
		Entries:   len(entries),
		Files:     files,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: marshal manifest: %w", err)
	}
	w, err := archive.Create("manifest.json")
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: create manifest: %w", err)
	}
	if _, err := w.Write(manifestData); err != nil {
		return nil, 0, fmt.Errorf("transfer: write manifest: %w", err)
	}

	if err := archive.Close(); err != nil {
		return nil, 0, fmt.Errorf("transfer: close archive: %w", err)
	}
	return buf.Bytes(), len(entries), nil
}

func (s *Service) exportedEntries(ctx context.Context) ([]ExportedEntry, error) {
	entries, err := s.vault.List(ctx, vault.ListOptions{})
	if err != nil {
		return nil, err
	}
	return s.exportEntries(entries)
}

func (s *Service) exportEntries(entries []models.Entry) ([]ExportedEntry, error) {
	exported := make([]ExportedEntry, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		secret, err := s.vault.Secret(entry)
		if err != nil {
			return nil, err
		}
		uri, err := s.vault.URI(entry)
		if err != nil {
			return nil, err
		}
		exported = append(exported, ExportedEntry{
			Label:     entry.Label,
			Secret:    secret,
			Issuer:    entry.Issuer,
			Algorithm: entry.Algorithm,
			Digits:    entry.Digits,
			Period:    entry.Period,
			Type:      entry.Type,
			Counter:   entry.Counter,
			Tags:      entry.TagList(),
			URI:       uri,
		})
	}
	return exported, nil
}

func (s *Service) buildJSON(entries []ExportedEntry) ([]byte, error) {
	doc := VaultDocument{
		Version:    VaultDocumentVersion,
		ExportedAt: s.now().UTC(),
		Entries:    entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("transfer: marshal vault document: %w", err)
	}
	return data, nil
}

func buildCSV(entries []ExportedEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("transfer: write csv header: %w", err)
	}
	for _, entry := range entries {
		record := []string{
			entry.Label,
			entry.Secret,
			entry.Issuer,
			entry.Algorithm,
			strconv.Itoa(entry.Digits),
			strconv.FormatUint(uint64(entry.Period), 10),
			entry.Type,
			strconv.FormatUint(entry.Counter, 10),
			strings.Join(entry.Tags, ";"),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("transfer: write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("transfer: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func buildURIList(entries []ExportedEntry) []byte {
	var buf bytes.Buffer
	for _, entry := range entries {
		buf.WriteString(entry.URI)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (s *Service) writeQRMembers(archive *zip.Writer, prefix string, entries []models.Entry) ([]string, error) {
	names := make([]string, 0, len(entries))
	used := make(map[string]int, len(entries))
	for i := range entries {
		entry := &entries[i]
		png, err := s.vault.QRPNG(entry, vault.DefaultQRSize)
		if err != nil {
			return nil, err
		}

		// labels are unique but sanitized names may collide
		base := sanitizeFilename(entry.Label)
		name := base + ".png"
		if n := used[base]; n > 0 {
			name = fmt.Sprintf("%s-%d.png", base, n)
		}
		used[base]++

		w, err := archive.Create(prefix + name)
		if err != nil {
			return nil, fmt.Errorf("transfer: create qr member for %q: %w", entry.Label, err)
		}
		if _, err := w.Write(png); err != nil {
			return nil, fmt.Errorf("transfer: write qr member for %q: %w", entry.Label, err)
		}
		names = append(names, prefix+name)
	}
	return names, nil
}

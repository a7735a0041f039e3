// Package xlsx renders the admin expiration audit workbook.
package xlsx

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/lifecycle"
)

const (
	documentsSheet = "Documents"
	ownersSheet    = "Owners"
)

var documentHeader = []any{"ID", "Owner", "Owner email", "Category", "Name", "Created", "Expires", "Status", "Days remaining", "Days overdue"}

// WriteExpirationAudit writes one row per document with its status at now,
// plus an owner summary sheet.
func WriteExpirationAudit(w io.Writer, docs []domain.DocumentRecord, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return fmt.Errorf("rename audit sheet: %w", err)
	}
	if err := writeDocuments(f, docs, now); err != nil {
		return err
	}
	if err := writeOwners(f, docs, now); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write audit workbook: %w", err)
	}
	return nil
}

func writeDocuments(f *excelize.File, docs []domain.DocumentRecord, now time.Time) error {
	if err := f.SetSheetRow(documentsSheet, "A1", &documentHeader); err != nil {
		return fmt.Errorf("write audit header: %w", err)
	}
	for i, doc := range docs {
		status := lifecycle.ClassifyExpiration(now, doc.ExpirationDate)
		row := []any{
			doc.ID,
			doc.OwnerID,
			doc.OwnerEmail,
			doc.Category,
			doc.Name,
			doc.CreatedAt.String(),
			doc.ExpirationDate.String(),
			string(status.State),
			status.DaysRemaining,
			status.DaysOverdue,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("audit cell name: %w", err)
		}
		if err := f.SetSheetRow(documentsSheet, cell, &row); err != nil {
			return fmt.Errorf("write audit row %d: %w", i+2, err)
		}
	}
	if len(docs) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(documentHeader), len(docs)+1)
		if err := f.AutoFilter(documentsSheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("audit autofilter: %w", err)
		}
	}
	return f.SetPanes(documentsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeOwners(f *excelize.File, docs []domain.DocumentRecord, now time.Time) error {
	if _, err := f.NewSheet(ownersSheet); err != nil {
		return fmt.Errorf("create owners sheet: %w", err)
	}
	header := []any{"Owner", "Documents", "Active", "Expiring soon", "Expired"}
	if err := f.SetSheetRow(ownersSheet, "A1", &header); err != nil {
		return fmt.Errorf("write owners header: %w", err)
	}

	byOwner := make(map[string][]domain.DocumentRecord)
	var owners []string
	for _, doc := range docs {
		if _, ok := byOwner[doc.OwnerID]; !ok {
			owners = append(owners, doc.OwnerID)
		}
		byOwner[doc.OwnerID] = append(byOwner[doc.OwnerID], doc)
	}

	for i, owner := range owners {
		counts := cache.CountByStatus(byOwner[owner], now, cache.DocumentExpiration)
		row := []any{owner, len(byOwner[owner]), counts.Active, counts.ExpiringSoon, counts.Expired}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ownersSheet, cell, &row); err != nil {
			return fmt.Errorf("write owners row %d: %w", i+2, err)
		}
	}
	return nil
}

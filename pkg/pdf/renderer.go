// Package pdf renders purchase orders into PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// Renderer produces a single-page A4 purchase-order document.
type Renderer struct {
	companyName string
}

// NewRenderer creates a purchase-order PDF renderer. companyName appears in
// the document header as the ordering party.
func NewRenderer(companyName string) *Renderer {
	return &Renderer{companyName: companyName}
}

var _ services.PDFRenderer = (*Renderer)(nil)

func (r *Renderer) RenderPO(ctx context.Context, po *models.PurchaseOrder) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(fmt.Sprintf("Purchase Order %s", po.PONumber), false)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.Cell(120, 10, r.companyName)
	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, "PURCHASE ORDER", "", 1, "R", false, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(0, 6, fmt.Sprintf("PO Number: %s", po.PONumber), "", 1, "R", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Order Date: %s", po.OrderDate.Format("2006-01-02")), "", 1, "R", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 11)
	doc.Cell(0, 6, "Vendor")
	doc.Ln(6)
	doc.SetFont("Helvetica", "", 10)
	doc.Cell(0, 5, po.VendorName)
	doc.Ln(5)
	if po.VendorEmail != "" {
		doc.Cell(0, 5, po.VendorEmail)
		doc.Ln(5)
	}
	if po.Plant != "" {
		doc.Cell(0, 5, fmt.Sprintf("Deliver to plant %s, storage %s", po.Plant, po.StorageLocation))
		doc.Ln(5)
	}
	doc.Ln(6)

	r.renderLineItems(doc, po)

	doc.Ln(2)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(150, 8, "Total", "T", 0, "R", false, 0, "")
	doc.CellFormat(40, 8, po.TotalAmount.StringFixed(2), "T", 1, "R", false, 0, "")

	if po.NeedsApproval {
		doc.Ln(4)
		doc.SetFont("Helvetica", "I", 9)
		doc.Cell(0, 5, "This order requires finance approval before fulfillment.")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render purchase order pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderLineItems(doc *fpdf.Fpdf, po *models.PurchaseOrder) {
	doc.SetFont("Helvetica", "B", 10)
	doc.SetFillColor(235, 235, 235)
	doc.CellFormat(35, 7, "Material", "1", 0, "L", true, 0, "")
	doc.CellFormat(60, 7, "Description", "1", 0, "L", true, 0, "")
	doc.CellFormat(30, 7, "Quantity", "1", 0, "R", true, 0, "")
	doc.CellFormat(30, 7, "Unit Cost", "1", 0, "R", true, 0, "")
	doc.CellFormat(35, 7, "Total", "1", 1, "R", true, 0, "")

	doc.SetFont("Helvetica", "", 9)
	for _, item := range po.LineItems {
		description := item.Description
		if description == "" {
			description = item.Category
		}
		if len(item.OrderNumbers) > 0 {
			description = fmt.Sprintf("%s (orders %s)", description, strings.Join(item.OrderNumbers, ", "))
		}
		doc.CellFormat(35, 6, item.MaterialID, "1", 0, "L", false, 0, "")
		doc.CellFormat(60, 6, description, "1", 0, "L", false, 0, "")
		doc.CellFormat(30, 6, item.Quantity.String(), "1", 0, "R", false, 0, "")
		doc.CellFormat(30, 6, item.UnitCost.StringFixed(2), "1", 0, "R", false, 0, "")
		doc.CellFormat(35, 6, item.TotalCost.StringFixed(2), "1", 1, "R", false, 0, "")
	}
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// Column synonym sets. Each step's data comes back through model-generated
// SQL, so logical fields arrive under whatever name the model chose; every
// logical field is resolved against its synonym list in order.
var (
	skuColumns         = []string{"sku", "material_id", "product_id", "item_id", "material"}
	descriptionColumns = []string{"description", "material_description", "product_name", "item_name", "name"}
	orderNumberColumns = []string{"order_number", "order_id", "order_no", "sales_order"}
	requiredColumns    = []string{"required", "required_quantity", "quantity_required", "order_quantity", "demand", "required_qty"}
	atHandColumns      = []string{"at_hand", "at_hand_stock", "on_hand", "stock", "stock_quantity", "available", "available_stock"}
	shortfallColumns   = []string{"shortfall", "shortage", "deficit", "shortfall_quantity"}
	categoryColumns    = []string{"category", "material_category", "material_type", "type"}

	vendorIDColumns    = []string{"vendor_id", "vendor", "supplier_id", "supplier"}
	vendorNameColumns  = []string{"vendor_name", "supplier_name"}
	vendorEmailColumns = []string{"vendor_email", "supplier_email", "email", "contact_email"}
	plantColumns       = []string{"plant", "plant_id", "site"}
	storageLocColumns  = []string{"storage_location", "storage_loc", "warehouse", "location"}
	quantityColumns    = []string{"quantity", "order_quantity", "procurement_quantity", "qty"}
	unitCostColumns    = []string{"unit_cost", "unit_price", "price", "cost_per_unit"}
	totalCostColumns   = []string{"total_procurement_cost", "total_cost", "total_price", "total"}
)

// stepSKUShortfall asks the SQL engine for at-hand stock vs required
// quantity per order line and keeps the rows where the shortfall is
// positive. Returns the shortfall list plus the distinct order numbers it
// spans.
func (s *poWorkflowService) stepSKUShortfall(ctx context.Context, orderDate time.Time) ([]models.SKUShortfall, []string, error) {
	query := fmt.Sprintf(
		"For orders dated %s, list each order line's SKU, its description, the order number, the required quantity, and the at-hand stock quantity.",
		orderDate.Format("2006-01-02"))

	rows, err := s.runWorkflowQuery(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	var shortfalls []models.SKUShortfall
	orderSet := make(map[string]bool)
	for _, row := range rows {
		sku, ok := pickString(row, skuColumns)
		if !ok {
			continue
		}
		required, _ := pickDecimal(row, requiredColumns)
		atHand, _ := pickDecimal(row, atHandColumns)
		shortfall, ok := pickDecimal(row, shortfallColumns)
		if !ok {
			shortfall = required.Sub(atHand)
		}
		if !shortfall.IsPositive() {
			continue
		}

		description, _ := pickString(row, descriptionColumns)
		orderNumber, _ := pickString(row, orderNumberColumns)
		if orderNumber != "" {
			orderSet[orderNumber] = true
		}
		shortfalls = append(shortfalls, models.SKUShortfall{
			SKU:         sku,
			Description: description,
			OrderNumber: orderNumber,
			Required:    required,
			AtHand:      atHand,
			Shortfall:   shortfall,
		})
	}

	orderNumbers := make([]string, 0, len(orderSet))
	for number := range orderSet {
		orderNumbers = append(orderNumbers, number)
	}
	sort.Strings(orderNumbers)
	return shortfalls, orderNumbers, nil
}

// stepMaterialShortfall queries packaging-material stock against the step-1
// shortfall and keeps packaging rows with a positive shortfall.
func (s *poWorkflowService) stepMaterialShortfall(ctx context.Context, shortfalls []models.SKUShortfall) ([]models.MaterialShortage, error) {
	query := fmt.Sprintf(
		"Given these SKU shortfalls: %s. For the packaging materials needed to fulfil them, list each material id, its description, its category, the required quantity, and the at-hand stock quantity.",
		summarizeShortfalls(shortfalls))

	rows, err := s.runWorkflowQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var materials []models.MaterialShortage
	for _, row := range rows {
		materialID, ok := pickString(row, skuColumns)
		if !ok {
			continue
		}
		category, _ := pickString(row, categoryColumns)
		if !strings.Contains(strings.ToLower(category), "packaging") {
			continue
		}
		required, _ := pickDecimal(row, requiredColumns)
		atHand, _ := pickDecimal(row, atHandColumns)
		shortfall, ok := pickDecimal(row, shortfallColumns)
		if !ok {
			shortfall = required.Sub(atHand)
		}
		if !shortfall.IsPositive() {
			continue
		}

		description, _ := pickString(row, descriptionColumns)
		materials = append(materials, models.MaterialShortage{
			MaterialID:  materialID,
			Description: description,
			Category:    category,
			Required:    required,
			AtHand:      atHand,
			Shortfall:   shortfall,
		})
	}
	return materials, nil
}

// stepVendorCosting queries vendor offers for the short materials and costs
// each offer, preferring the model-returned total and falling back to
// quantity * unit cost.
func (s *poWorkflowService) stepVendorCosting(ctx context.Context, materials []models.MaterialShortage, orderNumbers []string) ([]models.VendorOption, error) {
	query := fmt.Sprintf(
		"For these packaging materials: %s. List each vendor offer with vendor id, vendor name, vendor email, plant, storage location, material id, unit cost, and the quantity the vendor can supply.",
		summarizeMaterials(materials))

	rows, err := s.runWorkflowQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	shortages := make(map[string]models.MaterialShortage, len(materials))
	for _, m := range materials {
		shortages[strings.ToLower(m.MaterialID)] = m
	}

	var options []models.VendorOption
	for _, row := range rows {
		vendorID, ok := pickString(row, vendorIDColumns)
		if !ok {
			continue
		}
		materialID, ok := pickString(row, skuColumns)
		if !ok {
			continue
		}
		shortage, ok := shortages[strings.ToLower(materialID)]
		if !ok {
			// The model sometimes pads with offers for materials that are
			// not actually short; those never become PO lines.
			continue
		}

		quantity, ok := pickDecimal(row, quantityColumns)
		if !ok || !quantity.IsPositive() {
			quantity = shortage.Shortfall
		}
		unitCost, _ := pickDecimal(row, unitCostColumns)
		totalCost, ok := pickDecimal(row, totalCostColumns)
		if !ok || !totalCost.IsPositive() {
			totalCost = quantity.Mul(unitCost)
		}

		vendorName, _ := pickString(row, vendorNameColumns)
		vendorEmail, _ := pickString(row, vendorEmailColumns)
		plant, _ := pickString(row, plantColumns)
		storageLoc, _ := pickString(row, storageLocColumns)

		options = append(options, models.VendorOption{
			VendorID:        vendorID,
			VendorName:      vendorName,
			VendorEmail:     vendorEmail,
			Plant:           plant,
			StorageLocation: storageLoc,
			MaterialID:      shortage.MaterialID,
			Description:     shortage.Description,
			Category:        shortage.Category,
			Quantity:        quantity,
			UnitCost:        unitCost,
			TotalCost:       totalCost,
			OrderNumbers:    orderNumbers,
		})
	}
	return options, nil
}

// poCompensation accumulates the cleanup actions for one vendor group's
// forward path; they run in reverse when a later action fails.
type poCompensation struct {
	actions []func()
}

func (c *poCompensation) add(action func()) {
	c.actions = append(c.actions, action)
}

func (c *poCompensation) run() {
	for i := len(c.actions) - 1; i >= 0; i-- {
		c.actions[i]()
	}
}

// stepGeneratePOs generates one purchase order per vendor group. Failures
// are isolated per group and categorized; a failed group never aborts the
// rest. Returns the generated PO numbers and the failed groups.
func (s *poWorkflowService) stepGeneratePOs(ctx context.Context, wf *models.POWorkflow, options []models.VendorOption) ([]string, []models.FailedVendor) {
	groups := make(map[string][]models.VendorOption)
	var order []string
	for _, opt := range options {
		key := opt.GroupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], opt)
	}

	var generated []string
	var failed []models.FailedVendor
	for _, key := range order {
		group := groups[key]
		poNumber, failure := s.generatePOForGroup(ctx, wf, key, group)
		if failure != nil {
			failed = append(failed, *failure)
			continue
		}
		generated = append(generated, poNumber)
	}
	return generated, failed
}

func (s *poWorkflowService) generatePOForGroup(ctx context.Context, wf *models.POWorkflow, groupKey string, group []models.VendorOption) (string, *models.FailedVendor) {
	lead := group[0]
	failure := func(errType models.VendorErrorType, err error) *models.FailedVendor {
		s.logger.Error("Vendor group failed PO generation",
			zap.String("workflow_id", wf.WorkflowID),
			zap.String("group_key", groupKey),
			zap.String("error_type", string(errType)),
			zap.Error(err))
		return &models.FailedVendor{
			VendorID:   lead.VendorID,
			VendorName: lead.VendorName,
			GroupKey:   groupKey,
			ErrorType:  errType,
			Error:      err.Error(),
		}
	}

	poNumber, err := s.poNumbers.Generate(ctx, wf.OrderDate, lead.VendorID)
	if err != nil {
		return "", failure(models.VendorErrorCritical, err)
	}

	total := decimal.Zero
	items := make([]models.POLineItem, 0, len(group))
	for _, opt := range group {
		total = total.Add(opt.TotalCost)
		items = append(items, models.POLineItem{
			MaterialID:   opt.MaterialID,
			Description:  opt.Description,
			Category:     opt.Category,
			Quantity:     opt.Quantity,
			UnitCost:     opt.UnitCost,
			TotalCost:    opt.TotalCost,
			OrderNumbers: opt.OrderNumbers,
		})
	}
	if !total.IsPositive() {
		return "", failure(models.VendorErrorCritical,
			fmt.Errorf("purchase order total must be positive, got %s", total))
	}

	po := &models.PurchaseOrder{
		PONumber:        poNumber,
		WorkflowID:      wf.WorkflowID,
		VendorID:        lead.VendorID,
		VendorName:      lead.VendorName,
		VendorEmail:     lead.VendorEmail,
		Plant:           lead.Plant,
		StorageLocation: lead.StorageLocation,
		TotalAmount:     total,
		Status:          models.POStatusGenerated,
		NeedsApproval:   total.GreaterThanOrEqual(s.approvalThreshold),
		OrderDate:       wf.OrderDate,
		LineItems:       items,
	}

	// The PDF lives in external object storage and the rows in the
	// database, so cleanup is saga-style compensation, not a transaction.
	var comp poCompensation

	pdf, err := s.pdfRenderer.RenderPO(ctx, po)
	if err != nil {
		return "", failure(models.VendorErrorPDFGeneration, err)
	}
	pdfPath, err := s.storage.Upload(ctx, pdf, s.tenantPDFPath(ctx, wf, poNumber))
	if err != nil {
		return "", failure(models.VendorErrorPDFGeneration, err)
	}
	comp.add(func() {
		if err := s.storage.Delete(context.Background(), pdfPath); err != nil {
			s.logger.Warn("Compensation failed to remove PDF",
				zap.String("pdf_path", pdfPath), zap.Error(err))
		}
	})
	po.PDFPath = pdfPath

	if err := s.poRepo.Insert(ctx, po); err != nil {
		comp.run()
		return "", failure(models.VendorErrorDatabasePO, err)
	}
	comp.add(func() {
		if err := s.poRepo.Delete(ctx, poNumber); err != nil {
			s.logger.Warn("Compensation failed to remove PO row",
				zap.String("po_number", poNumber), zap.Error(err))
		}
	})

	if err := s.poRepo.InsertLineItems(ctx, poNumber, items); err != nil {
		comp.run()
		return "", failure(models.VendorErrorDatabasePOItems, err)
	}

	s.logger.Info("Purchase order generated",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("po_number", poNumber),
		zap.String("total", total.StringFixed(2)),
		zap.Bool("needs_approval", po.NeedsApproval))
	return poNumber, nil
}

// stepDispatch emails each generated PO: above the approval threshold it
// goes to the approver with a decision token, below it straight to the
// vendor. One failed dispatch never blocks the others.
func (s *poWorkflowService) stepDispatch(ctx context.Context, poNumbers []string) []models.DispatchOutcome {
	outcomes := make([]models.DispatchOutcome, 0, len(poNumbers))
	for _, poNumber := range poNumbers {
		po, err := s.poRepo.GetByNumber(ctx, poNumber)
		if err != nil || po == nil {
			outcomes = append(outcomes, models.DispatchOutcome{
				PONumber: poNumber,
				Success:  false,
				Error:    fmt.Sprintf("failed to load purchase order: %v", err),
			})
			continue
		}

		outcome := models.DispatchOutcome{
			PONumber:      poNumber,
			NeedsApproval: po.NeedsApproval,
		}
		if po.NeedsApproval {
			outcome.Recipient = "approver"
			if err := s.approval.RequestApproval(ctx, po); err != nil {
				outcome.Error = err.Error()
			} else if err := s.poRepo.UpdateStatus(ctx, poNumber, models.POStatusPendingApproval); err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Success = true
			}
		} else {
			outcome.Recipient = po.VendorEmail
			if err := s.approval.SendToVendor(ctx, po); err != nil {
				outcome.Error = err.Error()
			} else if err := s.poRepo.UpdateStatus(ctx, poNumber, models.POStatusSentToVendor); err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Success = true
			}
		}
		if !outcome.Success {
			s.logger.Error("PO dispatch failed",
				zap.String("po_number", poNumber),
				zap.String("error", outcome.Error))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// runWorkflowQuery routes a natural-language question through retrieval and
// the SQL engine and returns the full (uncapped) result rows.
func (s *poWorkflowService) runWorkflowQuery(ctx context.Context, query string) ([]map[string]any, error) {
	rc := s.retrieval.RetrieveForQuery(ctx, query)
	if rc.Error != "" {
		return nil, fmt.Errorf("retrieval failed: %s", rc.Error)
	}

	result := s.sqlGen.Generate(ctx, query, rc, nil)
	if result.QueryResult == nil {
		return nil, fmt.Errorf("query produced no result: %s", result.FinalAnswer)
	}
	return result.Rows, nil
}

func (s *poWorkflowService) tenantPDFPath(ctx context.Context, wf *models.POWorkflow, poNumber string) string {
	return fmt.Sprintf("%s/%s/purchase_orders/%s.pdf", wf.UserID, wf.ProjectID, poNumber)
}

func summarizeShortfalls(shortfalls []models.SKUShortfall) string {
	parts := make([]string, 0, len(shortfalls))
	for _, sf := range shortfalls {
		parts = append(parts, fmt.Sprintf("%s short by %s", sf.SKU, sf.Shortfall.String()))
	}
	return strings.Join(parts, "; ")
}

func summarizeMaterials(materials []models.MaterialShortage) string {
	parts := make([]string, 0, len(materials))
	for _, m := range materials {
		parts = append(parts, fmt.Sprintf("%s short by %s", m.MaterialID, m.Shortfall.String()))
	}
	return strings.Join(parts, "; ")
}

// pickString resolves the first present, non-empty synonym column.
func pickString(row map[string]any, columns []string) (string, bool) {
	for _, col := range columns {
		if value, ok := row[col]; ok && value != nil {
			s := strings.TrimSpace(fmt.Sprint(value))
			if s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// pickDecimal resolves the first present synonym column that parses as a
// number.
func pickDecimal(row map[string]any, columns []string) (decimal.Decimal, bool) {
	for _, col := range columns {
		value, ok := row[col]
		if !ok || value == nil {
			continue
		}
		if d, ok := toDecimal(value); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		d, err := decimal.NewFromString(fmt.Sprint(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
}
